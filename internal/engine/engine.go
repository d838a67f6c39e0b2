package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cantor/internal/config"
	"cantor/internal/domain"
	"cantor/internal/events"
	"cantor/internal/format"
	"cantor/internal/liturgy"
	"cantor/internal/logging"
	"cantor/internal/metrics"
	"cantor/internal/repo"
	"cantor/internal/rules"
)

// MaxRangeDays bounds RecommendRange.
const MaxRangeDays = 366

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Formatter format.Formatter
	Log       zerolog.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Formatter: format.New(cfg.Labels),
		Log:       logging.Component("engine"),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RecommendOptions are the inputs of one recommendation.
// Date defaults to today and Season to the season the calendar stores for
// Date. A nil Seed falls back to the configured seed, then to the clock.
type RecommendOptions struct {
	Date        time.Time
	Celebration string
	Season      string
	Seed        *int64
	Record      bool
	ActorID     string
}

// Recommend picks songs for one celebration on one date.
func (e Engine) Recommend(ctx context.Context, opts RecommendOptions) (format.Recommendation, error) {
	date := opts.Date
	if date.IsZero() {
		date = e.now()
	}
	date = liturgy.Day(date)
	if opts.Celebration == "" {
		return format.Recommendation{}, errors.New("celebration is required")
	}
	cel, err := e.Repo.GetCelebration(ctx, opts.Celebration)
	if err != nil {
		return format.Recommendation{}, fmt.Errorf("celebration %s: %w", opts.Celebration, err)
	}
	season := opts.Season
	if season == "" {
		day, err := e.Repo.GetCalendarDay(ctx, domain.FormatDate(date))
		if err != nil {
			return format.Recommendation{}, fmt.Errorf("season for %s: %w", domain.FormatDate(date), err)
		}
		season = day.Season
	}
	return e.recommend(ctx, date, cel, season, opts)
}

func (e Engine) recommend(ctx context.Context, date time.Time, cel domain.Celebration, season string, opts RecommendOptions) (format.Recommendation, error) {
	log := e.Log.With().Str("date", domain.FormatDate(date)).Str("celebration", cel.Slug).Logger()

	start := time.Now()
	snap, err := e.Repo.Snapshot(ctx, date, cel, season)
	metrics.ObserveSnapshot(start)
	if err != nil {
		return format.Recommendation{}, fmt.Errorf("load rules: %w", err)
	}
	if !snap.SeasonKnown {
		metrics.SeasonLookupMisses.Inc()
		log.Warn().Str("season", season).Msg("unknown season, seasonal rules skipped")
	}

	seed := e.seed(opts.Seed)
	set := rules.ResolveSet(snap.Rules)
	log.Debug().Int("matched", snap.Rules.Len()).Int("resolved", set.Len()).Msg("rules resolved")
	asg := NewAssigner(seed).Assign(set, snap.Season, snap.Pool)

	sources := make(map[domain.MassPart]string, len(asg.Sources))
	for part, src := range asg.Sources {
		sources[part] = string(src)
		if src == SourceFallback {
			metrics.FallbackFills.WithLabelValues(string(part)).Inc()
			log.Debug().Str("mass_part", string(part)).Int("song", asg.Songs[part].Number).Msg("filled from fallback")
		}
	}
	metrics.RecordRecommendation(asg.Degraded)
	if asg.Degraded {
		log.Warn().Str("season", string(snap.Season)).Msg("no main song found")
	}

	rec := e.Formatter.Format(format.Input{
		ID:          recommendationID(date, cel.Slug, snap.Season, seed),
		Date:        date,
		Celebration: cel,
		Season:      snap.Season,
		SubSeasons:  snap.SubSeasons,
		Description: e.describe(date, cel, snap),
		Degraded:    asg.Degraded,
		Songs:       asg.Songs,
		Sources:     sources,
	})
	log.Info().Str("id", rec.ID()).Int64("seed", seed).Int("parts", len(rec.Items())).Msg("recommendation")

	if opts.Record || (e.Config != nil && e.Config.Recommender.RecordHistory) {
		if err := e.record(ctx, rec, seed, opts.ActorID); err != nil {
			return rec, fmt.Errorf("record recommendation: %w", err)
		}
	}
	return rec, nil
}

func (e Engine) seed(explicit *int64) int64 {
	if explicit != nil {
		return *explicit
	}
	if e.Config != nil && e.Config.Recommender.Seed != 0 {
		return e.Config.Recommender.Seed
	}
	return e.now().UnixNano()
}

func recommendationID(date time.Time, slug string, season domain.Season, seed int64) string {
	name := fmt.Sprintf("%s|%s|%s|%d", domain.FormatDate(date), slug, season, seed)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// describe joins the celebration and season descriptions, the May note in
// May, and the descriptions of the active sub-seasons.
func (e Engine) describe(date time.Time, cel domain.Celebration, snap repo.Snapshot) string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	add(cel.Description)
	add(snap.SeasonDescription)
	if liturgy.IsMay(date) && e.Config != nil {
		add(e.Config.Notes.May)
	}
	for _, info := range snap.SubSeasonInfos {
		add(info.Description)
	}
	return strings.Join(parts, "\n")
}

func (e Engine) record(ctx context.Context, rec format.Recommendation, seed int64, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	items := make([]map[string]any, 0, len(rec.Items()))
	for _, it := range rec.Items() {
		items = append(items, map[string]any{"part": it.Part, "number": it.Number, "source": it.Source})
	}
	if err := e.Events.Append(ctx, tx, events.TypeRecommendationServed, "recommendation", rec.ID(), actorID, events.EventPayload{
		"date":        domain.FormatDate(rec.Date()),
		"celebration": rec.Celebration().Slug,
		"season":      rec.Season(),
		"seed":        seed,
		"degraded":    rec.Degraded(),
		"items":       items,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// DayOptions apply to every celebration of a day.
type DayOptions struct {
	Seed    *int64
	Record  bool
	ActorID string
}

// RecommendDay recommends for every celebration the calendar lists on date,
// in calendar order, using the calendar's season.
func (e Engine) RecommendDay(ctx context.Context, date time.Time, opts DayOptions) ([]format.Recommendation, error) {
	date = liturgy.Day(date)
	day, err := e.Repo.GetCalendarDay(ctx, domain.FormatDate(date))
	if err != nil {
		return nil, fmt.Errorf("calendar day %s: %w", domain.FormatDate(date), err)
	}
	return e.recommendDay(ctx, date, day, opts)
}

func (e Engine) recommendDay(ctx context.Context, date time.Time, day domain.CalendarDay, opts DayOptions) ([]format.Recommendation, error) {
	out := make([]format.Recommendation, 0, len(day.Celebrations))
	for _, slug := range day.Celebrations {
		rec, err := e.Recommend(ctx, RecommendOptions{
			Date:        date,
			Celebration: slug,
			Season:      day.Season,
			Seed:        opts.Seed,
			Record:      opts.Record,
			ActorID:     opts.ActorID,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DayResult is the outcome for one day of a range.
type DayResult struct {
	Date            string                  `json:"date"`
	Recommendations []format.Recommendation `json:"recommendations"`
}

// RecommendRange runs RecommendDay for each date in [from, to]. Days with
// no calendar entry are skipped. Days run concurrently up to the configured
// concurrency; results keep date order.
func (e Engine) RecommendRange(ctx context.Context, from, to time.Time, opts DayOptions) ([]DayResult, error) {
	from, to = liturgy.Day(from), liturgy.Day(to)
	if to.Before(from) {
		return nil, fmt.Errorf("range end %s before start %s", domain.FormatDate(to), domain.FormatDate(from))
	}
	n := int(to.Sub(from).Hours()/24) + 1
	if n > MaxRangeDays {
		return nil, fmt.Errorf("range of %d days exceeds %d", n, MaxRangeDays)
	}

	results := make([]DayResult, n)
	found := make([]bool, n)
	g, gctx := errgroup.WithContext(ctx)
	limit := 4
	if e.Config != nil && e.Config.Recommender.Concurrency > 0 {
		limit = e.Config.Recommender.Concurrency
	}
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		date := from.AddDate(0, 0, i)
		g.Go(func() error {
			day, err := e.Repo.GetCalendarDay(gctx, domain.FormatDate(date))
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("calendar day %s: %w", domain.FormatDate(date), err)
			}
			recs, err := e.recommendDay(gctx, date, day, opts)
			if err != nil {
				return fmt.Errorf("day %s: %w", domain.FormatDate(date), err)
			}
			results[i] = DayResult{Date: domain.FormatDate(date), Recommendations: recs}
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]DayResult, 0, n)
	for i, ok := range found {
		if ok {
			out = append(out, results[i])
		}
	}
	return out, nil
}
