package repo

import (
	"context"
	"database/sql"

	"cantor/internal/domain"
)

const songColumns = `s.id,s.number,s.title,COALESCE(s.season,''),s.has_communion_verse,s.has_recessional_verse`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSong(row rowScanner, extra ...any) (domain.Song, error) {
	var s domain.Song
	var season string
	dest := append(extra, &s.ID, &s.Number, &s.Title, &season, &s.HasCommunionVerse, &s.HasRecessionalVerse)
	if err := row.Scan(dest...); err != nil {
		return s, err
	}
	s.Season = domain.Season(season)
	return s, nil
}

func (r Repo) GetSongByNumber(ctx context.Context, number int) (domain.Song, error) {
	s, err := scanSong(r.DB.QueryRowContext(ctx, `SELECT `+songColumns+` FROM songs s WHERE s.number=?`, number))
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	occ, err := loadOccasions(ctx, r.DB, []int64{s.ID})
	if err != nil {
		return s, err
	}
	s.Occasions = occ[s.ID]
	return s, nil
}

// SongFilters narrows ListSongs; zero values match everything.
type SongFilters struct {
	Season   string
	Occasion string
}

func (r Repo) ListSongs(ctx context.Context, f SongFilters) ([]domain.Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs s`
	var (
		where []string
		args  []any
	)
	if f.Season != "" {
		season, _ := domain.ParseSeason(f.Season)
		where = append(where, "s.season=?")
		args = append(args, string(season))
	}
	if f.Occasion != "" {
		where = append(where, "EXISTS (SELECT 1 FROM song_occasions o WHERE o.song_id=s.id AND o.occasion=?)")
		args = append(args, f.Occasion)
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY s.number"
	return querySongs(ctx, r.DB, query, args...)
}

// songsBySeason returns songs whose season affinity is one of seasons.
func songsBySeason(ctx context.Context, q querier, seasons []domain.Season) ([]domain.Song, error) {
	if len(seasons) == 0 {
		return nil, nil
	}
	args := make([]any, len(seasons))
	for i, s := range seasons {
		args[i] = string(s)
	}
	return querySongs(ctx, q, `SELECT `+songColumns+` FROM songs s WHERE s.season IN (`+placeholders(len(seasons))+`) ORDER BY s.number`, args...)
}

func querySongs(ctx context.Context, q querier, query string, args ...any) ([]domain.Song, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Song
	for rows.Next() {
		s, err := scanSong(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ids := make([]int64, len(res))
	for i, s := range res {
		ids[i] = s.ID
	}
	occ, err := loadOccasions(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Occasions = occ[res[i].ID]
	}
	return res, nil
}

func loadOccasions(ctx context.Context, q querier, songIDs []int64) (map[int64][]string, error) {
	out := map[int64][]string{}
	if len(songIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(songIDs))
	for i, id := range songIDs {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `SELECT song_id,occasion FROM song_occasions WHERE song_id IN (`+placeholders(len(songIDs))+`) ORDER BY song_id, occasion`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var occasion string
		if err := rows.Scan(&id, &occasion); err != nil {
			return nil, err
		}
		out[id] = append(out[id], occasion)
	}
	return out, rows.Err()
}
