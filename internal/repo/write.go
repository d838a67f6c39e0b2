package repo

import (
	"context"
	"database/sql"
	"fmt"

	"cantor/internal/domain"
)

func (r Repo) UpsertSeasonTx(ctx context.Context, tx *sql.Tx, s domain.SeasonInfo) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO seasons(code,description) VALUES (?,?)
ON CONFLICT(code) DO UPDATE SET description=excluded.description`, string(s.Code), nullable(s.Description))
	return err
}

func (r Repo) UpsertSubSeasonTx(ctx context.Context, tx *sql.Tx, s domain.SubSeasonInfo) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO subseasons(code,description) VALUES (?,?)
ON CONFLICT(code) DO UPDATE SET description=excluded.description`, string(s.Code), nullable(s.Description))
	return err
}

func (r Repo) UpsertCategoryTx(ctx context.Context, tx *sql.Tx, name, description string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO categories(name,description) VALUES (?,?)
ON CONFLICT(name) DO UPDATE SET description=excluded.description`, name, nullable(description))
	return err
}

// UpsertCelebrationTx writes a celebration and replaces its categories.
func (r Repo) UpsertCelebrationTx(ctx context.Context, tx *sql.Tx, c domain.Celebration) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO celebrations(slug,name,description) VALUES (?,?,?)
ON CONFLICT(slug) DO UPDATE SET name=excluded.name, description=excluded.description`, c.Slug, c.Name, nullable(c.Description)); err != nil {
		return fmt.Errorf("upsert celebration %s: %w", c.Slug, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM celebration_categories WHERE celebration_slug=?`, c.Slug); err != nil {
		return err
	}
	for _, cat := range c.Categories {
		if _, err := tx.ExecContext(ctx, `INSERT INTO celebration_categories(celebration_slug,category_name) VALUES (?,?)`, c.Slug, cat); err != nil {
			return fmt.Errorf("celebration %s category %s: %w", c.Slug, cat, err)
		}
	}
	return nil
}

// UpsertCalendarDayTx writes a calendar day and replaces its celebrations.
func (r Repo) UpsertCalendarDayTx(ctx context.Context, tx *sql.Tx, d domain.CalendarDay) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO calendar_days(date,season) VALUES (?,?)
ON CONFLICT(date) DO UPDATE SET season=excluded.season`, d.Date, d.Season); err != nil {
		return fmt.Errorf("upsert calendar day %s: %w", d.Date, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM calendar_celebrations WHERE date=?`, d.Date); err != nil {
		return err
	}
	for i, slug := range d.Celebrations {
		if _, err := tx.ExecContext(ctx, `INSERT INTO calendar_celebrations(date,celebration_slug,position) VALUES (?,?,?)`, d.Date, slug, i); err != nil {
			return fmt.Errorf("calendar day %s celebration %s: %w", d.Date, slug, err)
		}
	}
	return nil
}

// UpsertSongTx writes a song keyed by its catalog number, replaces its
// occasions and returns its id.
func (r Repo) UpsertSongTx(ctx context.Context, tx *sql.Tx, s domain.Song) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO songs(number,title,season,has_communion_verse,has_recessional_verse) VALUES (?,?,?,?,?)
ON CONFLICT(number) DO UPDATE SET title=excluded.title, season=excluded.season,
  has_communion_verse=excluded.has_communion_verse, has_recessional_verse=excluded.has_recessional_verse`,
		s.Number, s.Title, nullable(string(s.Season)), s.HasCommunionVerse, s.HasRecessionalVerse); err != nil {
		return 0, fmt.Errorf("upsert song %d: %w", s.Number, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM songs WHERE number=?`, s.Number).Scan(&id); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM song_occasions WHERE song_id=?`, id); err != nil {
		return 0, err
	}
	for _, o := range s.Occasions {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO song_occasions(song_id,occasion) VALUES (?,?)`, id, o); err != nil {
			return 0, fmt.Errorf("song %d occasion %s: %w", s.Number, o, err)
		}
	}
	return id, nil
}

// UpsertRuleTx writes a rule for rule.Song.ID; a rule is identified by its
// song, mass part and condition.
func (r Repo) UpsertRuleTx(ctx context.Context, tx *sql.Tx, rule domain.SongRule) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO song_rules(song_id,mass_part,condition_kind,condition_ref,priority,exclusive,can_be_main) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(song_id,mass_part,condition_kind,condition_ref) DO UPDATE SET
  priority=excluded.priority, exclusive=excluded.exclusive, can_be_main=excluded.can_be_main`,
		rule.Song.ID, string(rule.MassPart), string(rule.Condition.Kind), rule.Condition.Ref, int(rule.Priority), rule.Exclusive, rule.CanBeMain)
	if err != nil {
		return fmt.Errorf("upsert rule %s/%s: %w", rule.MassPart, rule.Condition, err)
	}
	return nil
}
