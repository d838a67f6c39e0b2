package repo

import (
	"context"
	"fmt"

	"cantor/internal/domain"
)

// conditionTargets maps each condition kind to the table and key it must
// resolve against.
var conditionTargets = map[domain.ConditionKind]struct{ table, key string }{
	domain.ConditionSeason:      {"seasons", "code"},
	domain.ConditionSubSeason:   {"subseasons", "code"},
	domain.ConditionCelebration: {"celebrations", "slug"},
	domain.ConditionCategory:    {"categories", "name"},
}

// CheckIntegrity verifies that every stored rule resolves to exactly one
// entity and names a known mass part. It returns *domain.IntegrityError
// when the catalog is inconsistent.
func (r Repo) CheckIntegrity(ctx context.Context) error {
	rows, err := r.DB.QueryContext(ctx, `SELECT r.id, s.number, r.mass_part, r.condition_kind, r.condition_ref, r.priority FROM song_rules r JOIN songs s ON s.id=r.song_id ORDER BY r.id`)
	if err != nil {
		return err
	}
	type ruleRef struct {
		id       int64
		number   int
		part     string
		kind     string
		ref      string
		priority int
	}
	var refs []ruleRef
	for rows.Next() {
		var rr ruleRef
		if err := rows.Scan(&rr.id, &rr.number, &rr.part, &rr.kind, &rr.ref, &rr.priority); err != nil {
			rows.Close()
			return err
		}
		refs = append(refs, rr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var problems []string
	for _, rr := range refs {
		if _, ok := domain.ParseMassPart(rr.part); !ok {
			problems = append(problems, fmt.Sprintf("rule %d (song %d): unknown mass part %q", rr.id, rr.number, rr.part))
		}
		if !domain.Priority(rr.priority).Valid() {
			problems = append(problems, fmt.Sprintf("rule %d (song %d): invalid priority %d", rr.id, rr.number, rr.priority))
		}
		target, ok := conditionTargets[domain.ConditionKind(rr.kind)]
		if !ok {
			problems = append(problems, fmt.Sprintf("rule %d (song %d): unknown condition kind %q", rr.id, rr.number, rr.kind))
			continue
		}
		var n int
		if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+target.table+` WHERE `+target.key+`=?`, rr.ref).Scan(&n); err != nil {
			return err
		}
		if n != 1 {
			problems = append(problems, fmt.Sprintf("rule %d (song %d): %s %q does not exist", rr.id, rr.number, rr.kind, rr.ref))
		}
	}
	if len(problems) > 0 {
		return &domain.IntegrityError{Problems: problems}
	}
	return nil
}
