// Package rules collapses the raw rules of a bucket into the admissible
// candidates for each mass part.
package rules

import (
	"sort"

	"cantor/internal/domain"
)

// Resolve groups rules by mass part and filters each group:
//
//   - candidates are ordered by priority, highest first (stable);
//   - if any candidate is exclusive, only the exclusive candidates at the
//     highest exclusive priority survive;
//   - otherwise the whole group survives.
//
// Groups are returned in canonical mass-part order; rules bound to parts
// outside the canonical list follow in name order.
func Resolve(in []domain.SongRule) []domain.SongRule {
	if len(in) == 0 {
		return nil
	}
	groups := map[domain.MassPart][]domain.SongRule{}
	for _, r := range in {
		groups[r.MassPart] = append(groups[r.MassPart], r)
	}
	parts := make([]domain.MassPart, 0, len(groups))
	for p := range groups {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool {
		ri, rj := parts[i].Rank(), parts[j].Rank()
		if ri < 0 || rj < 0 {
			if ri == rj {
				return parts[i] < parts[j]
			}
			return rj < 0
		}
		return ri < rj
	})
	out := make([]domain.SongRule, 0, len(in))
	for _, p := range parts {
		out = append(out, resolveGroup(groups[p])...)
	}
	return out
}

func resolveGroup(group []domain.SongRule) []domain.SongRule {
	sorted := append([]domain.SongRule(nil), group...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	top, found := domain.Priority(0), false
	for _, r := range sorted {
		if r.Exclusive && (!found || r.Priority > top) {
			top, found = r.Priority, true
		}
	}
	if !found {
		return sorted
	}
	var kept []domain.SongRule
	for _, r := range sorted {
		if r.Exclusive && r.Priority == top {
			kept = append(kept, r)
		}
	}
	return kept
}

// ResolveSet resolves each bucket independently.
func ResolveSet(rs domain.RuleSet) domain.RuleSet {
	return domain.RuleSet{
		Specific: Resolve(rs.Specific),
		Typical:  Resolve(rs.Typical),
		Seasonal: Resolve(rs.Seasonal),
	}
}

// Tiers splits rules into priority tiers, highest first. Order within a
// tier follows the input.
func Tiers(in []domain.SongRule) [][]domain.SongRule {
	byPriority := map[domain.Priority][]domain.SongRule{}
	var levels []domain.Priority
	for _, r := range in {
		if _, ok := byPriority[r.Priority]; !ok {
			levels = append(levels, r.Priority)
		}
		byPriority[r.Priority] = append(byPriority[r.Priority], r)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] > levels[j] })
	out := make([][]domain.SongRule, 0, len(levels))
	for _, p := range levels {
		out = append(out, byPriority[p])
	}
	return out
}
