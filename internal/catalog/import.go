package catalog

import (
	"context"
	"fmt"

	"cantor/internal/domain"
	"cantor/internal/events"
	"cantor/internal/repo"
)

// Stats counts what one import wrote.
type Stats struct {
	Seasons      int `json:"seasons"`
	SubSeasons   int `json:"subseasons"`
	Categories   int `json:"categories"`
	Celebrations int `json:"celebrations"`
	CalendarDays int `json:"calendar_days"`
	Songs        int `json:"songs"`
	Rules        int `json:"rules"`
}

type Importer struct {
	Repo   repo.Repo
	Events events.Writer
}

// Import checks the catalog and writes it in one transaction. Existing
// entries with the same key are updated in place. A catalog that fails Check
// writes nothing.
func (im Importer) Import(ctx context.Context, c *Catalog, actorID string) (Stats, error) {
	var st Stats
	if err := c.Validate(); err != nil {
		return st, err
	}
	if err := Check(c); err != nil {
		return st, err
	}
	tx, err := im.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return st, err
	}
	defer tx.Rollback()

	for _, s := range c.Seasons {
		code, _ := domain.ParseSeason(s.Code)
		if err := im.Repo.UpsertSeasonTx(ctx, tx, domain.SeasonInfo{Code: code, Description: s.Description}); err != nil {
			return st, fmt.Errorf("season %s: %w", s.Code, err)
		}
		st.Seasons++
	}
	for _, s := range c.SubSeasons {
		code, _ := domain.ParseSubSeason(s.Code)
		if err := im.Repo.UpsertSubSeasonTx(ctx, tx, domain.SubSeasonInfo{Code: code, Description: s.Description}); err != nil {
			return st, fmt.Errorf("sub-season %s: %w", s.Code, err)
		}
		st.SubSeasons++
	}
	for _, cat := range c.Categories {
		if err := im.Repo.UpsertCategoryTx(ctx, tx, cat.Name, cat.Description); err != nil {
			return st, fmt.Errorf("category %s: %w", cat.Name, err)
		}
		st.Categories++
	}
	for _, cel := range c.Celebrations {
		if err := im.Repo.UpsertCelebrationTx(ctx, tx, domain.Celebration{
			Slug: cel.Slug, Name: cel.Name, Description: cel.Description, Categories: cel.Categories,
		}); err != nil {
			return st, err
		}
		st.Celebrations++
	}
	for _, d := range c.Calendar {
		season, _ := domain.ParseSeason(d.Season)
		if err := im.Repo.UpsertCalendarDayTx(ctx, tx, domain.CalendarDay{
			Date: d.Date, Season: string(season), Celebrations: d.Celebrations,
		}); err != nil {
			return st, err
		}
		st.CalendarDays++
	}
	songIDs := map[int]int64{}
	for _, s := range c.Songs {
		var season domain.Season
		if s.Season != "" {
			season, _ = domain.ParseSeason(s.Season)
		}
		id, err := im.Repo.UpsertSongTx(ctx, tx, domain.Song{
			Number:              s.Number,
			Title:               s.Title,
			Season:              season,
			Occasions:           s.Occasions,
			HasCommunionVerse:   s.CommunionVerse,
			HasRecessionalVerse: s.RecessionalVerse,
		})
		if err != nil {
			return st, err
		}
		songIDs[s.Number] = id
		st.Songs++
	}
	for _, r := range c.Rules {
		cond, err := r.condition()
		if err != nil {
			return st, err
		}
		part, _ := domain.ParseMassPart(r.Part)
		priority, _ := domain.ParsePriority(r.Priority)
		canBeMain := true
		if r.CanBeMain != nil {
			canBeMain = *r.CanBeMain
		}
		if err := im.Repo.UpsertRuleTx(ctx, tx, domain.SongRule{
			Song:      domain.Song{ID: songIDs[r.Song], Number: r.Song},
			MassPart:  part,
			Condition: cond,
			Priority:  priority,
			Exclusive: r.Exclusive,
			CanBeMain: canBeMain,
		}); err != nil {
			return st, err
		}
		st.Rules++
	}
	if err := im.Events.Append(ctx, tx, events.TypeCatalogImport, "catalog", "", actorID, events.EventPayload{
		"songs": st.Songs, "rules": st.Rules, "celebrations": st.Celebrations, "calendar_days": st.CalendarDays,
	}); err != nil {
		return st, err
	}
	if err := tx.Commit(); err != nil {
		return st, err
	}
	return st, nil
}
