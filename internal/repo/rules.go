package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cantor/internal/domain"
	"cantor/internal/liturgy"
)

// Snapshot is everything one recommendation reads from the catalog, loaded
// in a single transaction.
type Snapshot struct {
	Rules      domain.RuleSet
	Pool       []domain.Song
	Season     domain.Season
	SubSeasons []domain.SubSeason

	// SeasonKnown is false when the season code is not in the catalog; the
	// seasonal bucket is then empty.
	SeasonKnown bool

	// SeasonDescription and SubSeasonInfos describe the active season and
	// the stored sub-seasons among SubSeasons.
	SeasonDescription string
	SubSeasonInfos    []domain.SubSeasonInfo
}

// fallbackSeasons are loaded into every snapshot pool besides the active
// season.
var fallbackSeasons = []domain.Season{domain.SeasonJesusChrist, domain.SeasonVirginMary}

// RulesFor returns the rules that apply to a celebration on a date:
// specific rules bind to the celebration, typical rules to one of its
// categories, seasonal rules to the season or an active sub-season. An
// unknown season yields an empty seasonal bucket.
func (r Repo) RulesFor(ctx context.Context, date time.Time, c domain.Celebration, season string) (domain.RuleSet, error) {
	snap, err := r.snapshot(ctx, date, c, season, false)
	return snap.Rules, err
}

// Snapshot loads the rules and the fallback song pool in one read.
func (r Repo) Snapshot(ctx context.Context, date time.Time, c domain.Celebration, season string) (Snapshot, error) {
	return r.snapshot(ctx, date, c, season, true)
}

func (r Repo) snapshot(ctx context.Context, date time.Time, c domain.Celebration, seasonCode string, withPool bool) (Snapshot, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, err
	}
	defer tx.Rollback()

	snap := Snapshot{SubSeasons: liturgy.Classify(date)}
	info, known, err := resolveSeason(ctx, tx, seasonCode)
	if err != nil {
		return Snapshot{}, err
	}
	season := info.Code
	snap.Season, snap.SeasonKnown, snap.SeasonDescription = season, known, info.Description

	if snap.Rules.Specific, err = rulesWhere(ctx, tx, domain.ConditionCelebration, []string{c.Slug}); err != nil {
		return Snapshot{}, fmt.Errorf("specific rules: %w", err)
	}
	if snap.Rules.Typical, err = rulesWhere(ctx, tx, domain.ConditionCategory, c.Categories); err != nil {
		return Snapshot{}, fmt.Errorf("typical rules: %w", err)
	}
	if known {
		seasonal, err := rulesWhere(ctx, tx, domain.ConditionSeason, []string{string(season)})
		if err != nil {
			return Snapshot{}, fmt.Errorf("seasonal rules: %w", err)
		}
		subs := make([]string, len(snap.SubSeasons))
		for i, s := range snap.SubSeasons {
			subs[i] = string(s)
		}
		overlay, err := rulesWhere(ctx, tx, domain.ConditionSubSeason, subs)
		if err != nil {
			return Snapshot{}, fmt.Errorf("sub-season rules: %w", err)
		}
		snap.Rules.Seasonal = append(seasonal, overlay...)
	}
	if withPool {
		if snap.SubSeasonInfos, err = subSeasonInfos(ctx, tx, snap.SubSeasons); err != nil {
			return Snapshot{}, fmt.Errorf("sub-season descriptions: %w", err)
		}
		seasons := fallbackSeasons
		if known {
			seasons = append([]domain.Season{season}, fallbackSeasons...)
		}
		if snap.Pool, err = songsBySeason(ctx, tx, seasons); err != nil {
			return Snapshot{}, fmt.Errorf("fallback songs: %w", err)
		}
	}
	return snap, tx.Commit()
}

// resolveSeason normalizes code and checks it against the catalog.
func resolveSeason(ctx context.Context, q querier, code string) (domain.SeasonInfo, bool, error) {
	info := domain.SeasonInfo{}
	season, ok := domain.ParseSeason(code)
	info.Code = season
	if !ok {
		return info, false, nil
	}
	err := q.QueryRowContext(ctx, `SELECT COALESCE(description,'') FROM seasons WHERE code=?`, string(season)).Scan(&info.Description)
	if err == sql.ErrNoRows {
		return info, false, nil
	}
	if err != nil {
		return info, false, err
	}
	return info, true, nil
}

const ruleColumns = `r.id,r.mass_part,r.condition_kind,r.condition_ref,r.priority,r.exclusive,r.can_be_main`

func rulesWhere(ctx context.Context, q querier, kind domain.ConditionKind, refs []string) ([]domain.SongRule, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	args := []any{string(kind)}
	for _, ref := range refs {
		args = append(args, ref)
	}
	return queryRules(ctx, q, `SELECT `+ruleColumns+`,`+songColumns+`
FROM song_rules r JOIN songs s ON s.id=r.song_id
WHERE r.condition_kind=? AND r.condition_ref IN (`+placeholders(len(refs))+`)
ORDER BY r.id`, args...)
}

// RuleFilters narrows ListRules.
type RuleFilters struct {
	Kind     string
	Ref      string
	MassPart string
}

func (r Repo) ListRules(ctx context.Context, f RuleFilters) ([]domain.SongRule, error) {
	query := `SELECT ` + ruleColumns + `,` + songColumns + ` FROM song_rules r JOIN songs s ON s.id=r.song_id WHERE 1=1`
	var args []any
	if f.Kind != "" {
		kind, ok := domain.ParseConditionKind(f.Kind)
		if !ok {
			return nil, fmt.Errorf("invalid condition kind %s", f.Kind)
		}
		query += " AND r.condition_kind=?"
		args = append(args, string(kind))
	}
	if f.Ref != "" {
		query += " AND r.condition_ref=?"
		args = append(args, f.Ref)
	}
	if f.MassPart != "" {
		query += " AND r.mass_part=?"
		args = append(args, f.MassPart)
	}
	return queryRules(ctx, r.DB, query+" ORDER BY r.id", args...)
}

func queryRules(ctx context.Context, q querier, query string, args ...any) ([]domain.SongRule, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.SongRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, rule)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(res))
	for _, rule := range res {
		ids = append(ids, rule.Song.ID)
	}
	occ, err := loadOccasions(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Song.Occasions = occ[res[i].Song.ID]
	}
	return res, nil
}

func scanRule(rows *sql.Rows) (domain.SongRule, error) {
	var (
		rule       domain.SongRule
		part, kind string
		priority   int
	)
	song, err := scanSong(rows, &rule.ID, &part, &kind, &rule.Condition.Ref, &priority, &rule.Exclusive, &rule.CanBeMain)
	if err != nil {
		return rule, err
	}
	rule.Song = song
	rule.MassPart = domain.MassPart(part)
	rule.Condition.Kind = domain.ConditionKind(kind)
	rule.Priority = domain.Priority(priority)
	return rule, nil
}
