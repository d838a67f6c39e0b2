package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"cantor/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) GetCelebration(ctx context.Context, slug string) (domain.Celebration, error) {
	return getCelebration(ctx, r.DB, slug)
}

func getCelebration(ctx context.Context, q querier, slug string) (domain.Celebration, error) {
	var c domain.Celebration
	err := q.QueryRowContext(ctx, `SELECT slug,name,COALESCE(description,'') FROM celebrations WHERE slug=?`, slug).
		Scan(&c.Slug, &c.Name, &c.Description)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Categories, err = celebrationCategories(ctx, q, slug)
	return c, err
}

func celebrationCategories(ctx context.Context, q querier, slug string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT category_name FROM celebration_categories WHERE celebration_slug=? ORDER BY category_name`, slug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func (r Repo) ListCelebrations(ctx context.Context) ([]domain.Celebration, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT slug,name,COALESCE(description,'') FROM celebrations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var res []domain.Celebration
	for rows.Next() {
		var c domain.Celebration
		if err := rows.Scan(&c.Slug, &c.Name, &c.Description); err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		cats, err := celebrationCategories(ctx, r.DB, res[i].Slug)
		if err != nil {
			return nil, err
		}
		res[i].Categories = cats
	}
	return res, nil
}

// GetSeason looks up a season by code; codes are normalized first.
func (r Repo) GetSeason(ctx context.Context, code string) (domain.SeasonInfo, error) {
	s, _ := domain.ParseSeason(code)
	var info domain.SeasonInfo
	err := r.DB.QueryRowContext(ctx, `SELECT code,COALESCE(description,'') FROM seasons WHERE code=?`, string(s)).
		Scan(&info.Code, &info.Description)
	if err == sql.ErrNoRows {
		return info, ErrNotFound
	}
	return info, err
}

// SubSeasonInfos returns the stored sub-seasons among codes, in the order
// given. Codes missing from the catalog are skipped.
func (r Repo) SubSeasonInfos(ctx context.Context, codes []domain.SubSeason) ([]domain.SubSeasonInfo, error) {
	return subSeasonInfos(ctx, r.DB, codes)
}

func subSeasonInfos(ctx context.Context, q querier, codes []domain.SubSeason) ([]domain.SubSeasonInfo, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = string(c)
	}
	rows, err := q.QueryContext(ctx, `SELECT code,COALESCE(description,'') FROM subseasons WHERE code IN (`+placeholders(len(codes))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := map[domain.SubSeason]string{}
	for rows.Next() {
		var code, desc string
		if err := rows.Scan(&code, &desc); err != nil {
			return nil, err
		}
		found[domain.SubSeason(code)] = desc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var res []domain.SubSeasonInfo
	for _, c := range codes {
		if desc, ok := found[c]; ok {
			res = append(res, domain.SubSeasonInfo{Code: c, Description: desc})
		}
	}
	return res, nil
}

// GetCalendarDay returns the stored calendar entry for a YYYY-MM-DD date.
func (r Repo) GetCalendarDay(ctx context.Context, date string) (domain.CalendarDay, error) {
	var d domain.CalendarDay
	err := r.DB.QueryRowContext(ctx, `SELECT date,season FROM calendar_days WHERE date=?`, date).Scan(&d.Date, &d.Season)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT celebration_slug FROM calendar_celebrations WHERE date=? ORDER BY position, celebration_slug`, date)
	if err != nil {
		return d, err
	}
	defer rows.Close()
	d.Celebrations = []string{}
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return d, err
		}
		d.Celebrations = append(d.Celebrations, slug)
	}
	return d, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
