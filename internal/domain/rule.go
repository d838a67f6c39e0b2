package domain

import "fmt"

// ConditionKind tags which entity a rule condition refers to.
type ConditionKind string

const (
	ConditionSeason      ConditionKind = "season"
	ConditionSubSeason   ConditionKind = "subseason"
	ConditionCelebration ConditionKind = "celebration"
	ConditionCategory    ConditionKind = "category"
)

func ParseConditionKind(v string) (ConditionKind, bool) {
	switch k := ConditionKind(normalizeCode(v)); k {
	case ConditionSeason, ConditionSubSeason, ConditionCelebration, ConditionCategory:
		return k, true
	case "sub-season":
		return ConditionSubSeason, true
	case "celebration-category", "celebration-type":
		return ConditionCategory, true
	}
	return "", false
}

// Condition binds a rule to exactly one season, sub-season, celebration
// (by slug) or celebration category (by name).
type Condition struct {
	Kind ConditionKind `json:"kind"`
	Ref  string        `json:"ref"`
}

func SeasonCondition(s Season) Condition {
	return Condition{Kind: ConditionSeason, Ref: string(s)}
}

func SubSeasonCondition(s SubSeason) Condition {
	return Condition{Kind: ConditionSubSeason, Ref: string(s)}
}

func CelebrationCondition(slug string) Condition {
	return Condition{Kind: ConditionCelebration, Ref: slug}
}

func CategoryCondition(name string) Condition {
	return Condition{Kind: ConditionCategory, Ref: name}
}

func (c Condition) String() string {
	return fmt.Sprintf("%s:%s", c.Kind, c.Ref)
}

// SongRule binds one song to one mass part under one condition.
type SongRule struct {
	ID        int64     `json:"id"`
	Song      Song      `json:"song"`
	MassPart  MassPart  `json:"mass_part"`
	Condition Condition `json:"condition"`
	Priority  Priority  `json:"priority"`
	Exclusive bool      `json:"exclusive"`
	CanBeMain bool      `json:"can_be_main"`
}

// RuleSet holds the rules applicable to one recommendation, split by how
// they matched. Bucket order is precedence: Specific, Typical, Seasonal.
type RuleSet struct {
	Specific []SongRule `json:"specific"`
	Typical  []SongRule `json:"typical"`
	Seasonal []SongRule `json:"seasonal"`
}

// Buckets returns the buckets in precedence order.
func (rs RuleSet) Buckets() [][]SongRule {
	return [][]SongRule{rs.Specific, rs.Typical, rs.Seasonal}
}

func (rs RuleSet) Len() int {
	return len(rs.Specific) + len(rs.Typical) + len(rs.Seasonal)
}
