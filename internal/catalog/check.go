package catalog

import (
	"fmt"
	"strings"

	"cantor/internal/domain"
)

// Check verifies the cross references of a catalog document: every rule
// condition resolves to exactly one entity it defines, every rule names a
// defined song, and celebrations, calendar days and songs only refer to
// defined categories, celebrations and seasons. All problems are reported
// together in a *domain.IntegrityError.
func Check(c *Catalog) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	seasons := map[domain.Season]bool{}
	for _, s := range c.Seasons {
		code, ok := domain.ParseSeason(s.Code)
		if !ok {
			add("season %q is not a known season (known: %s)", s.Code, joinCodes(domain.Seasons()))
		}
		if seasons[code] {
			add("season %q defined twice", s.Code)
		}
		seasons[code] = true
	}
	subSeasons := map[domain.SubSeason]bool{}
	for _, s := range c.SubSeasons {
		code, ok := domain.ParseSubSeason(s.Code)
		if !ok {
			add("sub-season %q is not a known sub-season (known: %s)", s.Code, joinCodes(domain.SubSeasons()))
		}
		if subSeasons[code] {
			add("sub-season %q defined twice", s.Code)
		}
		subSeasons[code] = true
	}
	categories := map[string]bool{}
	for _, cat := range c.Categories {
		if categories[cat.Name] {
			add("category %q defined twice", cat.Name)
		}
		categories[cat.Name] = true
	}
	celebrations := map[string]bool{}
	for _, cel := range c.Celebrations {
		if celebrations[cel.Slug] {
			add("celebration %q defined twice", cel.Slug)
		}
		celebrations[cel.Slug] = true
		for _, cat := range cel.Categories {
			if !categories[cat] {
				add("celebration %q: category %q does not exist", cel.Slug, cat)
			}
		}
	}
	days := map[string]bool{}
	for _, d := range c.Calendar {
		if days[d.Date] {
			add("calendar day %s defined twice", d.Date)
		}
		days[d.Date] = true
		if code, _ := domain.ParseSeason(d.Season); !seasons[code] {
			add("calendar day %s: season %q does not exist", d.Date, d.Season)
		}
		for _, slug := range d.Celebrations {
			if !celebrations[slug] {
				add("calendar day %s: celebration %q does not exist", d.Date, slug)
			}
		}
	}
	songs := map[int]bool{}
	for _, s := range c.Songs {
		if songs[s.Number] {
			add("song %d defined twice", s.Number)
		}
		songs[s.Number] = true
		if s.Season == "" {
			continue
		}
		if code, _ := domain.ParseSeason(s.Season); !seasons[code] {
			add("song %d: season %q does not exist", s.Number, s.Season)
		}
	}

	type ruleKey struct {
		song      int
		part      domain.MassPart
		condition domain.Condition
	}
	seen := map[ruleKey]bool{}
	for i, r := range c.Rules {
		if !songs[r.Song] {
			add("rule %d: song %d does not exist", i+1, r.Song)
		}
		cond, err := r.condition()
		if err != nil {
			add("rule %d: %v", i+1, err)
			continue
		}
		var found bool
		switch cond.Kind {
		case domain.ConditionSeason:
			found = seasons[domain.Season(cond.Ref)]
		case domain.ConditionSubSeason:
			found = subSeasons[domain.SubSeason(cond.Ref)]
		case domain.ConditionCelebration:
			found = celebrations[cond.Ref]
		case domain.ConditionCategory:
			found = categories[cond.Ref]
		}
		if !found {
			add("rule %d (song %d): %s %q does not exist", i+1, r.Song, cond.Kind, cond.Ref)
		}
		part, _ := domain.ParseMassPart(r.Part)
		key := ruleKey{song: r.Song, part: part, condition: cond}
		if seen[key] {
			add("rule %d: song %d already bound to %s under %s", i+1, r.Song, part, cond)
		}
		seen[key] = true
	}
	if len(problems) > 0 {
		return &domain.IntegrityError{Problems: problems}
	}
	return nil
}

// condition normalizes the rule condition; season and sub-season refs are
// stored in their canonical code form.
func (r Rule) condition() (domain.Condition, error) {
	kind, ok := domain.ParseConditionKind(r.Condition.Kind)
	if !ok {
		return domain.Condition{}, fmt.Errorf("unknown condition kind %q", r.Condition.Kind)
	}
	switch kind {
	case domain.ConditionSeason:
		s, _ := domain.ParseSeason(r.Condition.Ref)
		return domain.SeasonCondition(s), nil
	case domain.ConditionSubSeason:
		s, _ := domain.ParseSubSeason(r.Condition.Ref)
		return domain.SubSeasonCondition(s), nil
	case domain.ConditionCelebration:
		return domain.CelebrationCondition(r.Condition.Ref), nil
	default:
		return domain.CategoryCondition(r.Condition.Ref), nil
	}
}

func joinCodes[T ~string](codes []T) string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return strings.Join(out, ", ")
}
