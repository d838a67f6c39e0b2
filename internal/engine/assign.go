package engine

import (
	"math/rand"

	"cantor/internal/domain"
	"cantor/internal/rules"
)

// Source records how a mass part got its song.
type Source string

const (
	SourceRule     Source = "rule"
	SourceFallback Source = "fallback"
)

// Assignment is the per-part outcome of one assignment run.
type Assignment struct {
	Songs   map[domain.MassPart]domain.Song
	Sources map[domain.MassPart]Source
	// Degraded is set when no main song could be found, not even from the
	// catalog fallback.
	Degraded bool
}

// PartPolicy describes a part the main song may cover through a verse.
type PartPolicy struct {
	// Verse reports whether the main song already has a verse for the part.
	Verse func(domain.Song) bool
	// FallbackSeasons are tried after the active season when the part has
	// no song.
	FallbackSeasons []domain.Season
}

// DefaultPolicies is the verse and fallback table for communion and
// recessional.
var DefaultPolicies = map[domain.MassPart]PartPolicy{
	domain.PartCommunion: {
		Verse:           func(s domain.Song) bool { return s.HasCommunionVerse },
		FallbackSeasons: []domain.Season{domain.SeasonJesusChrist},
	},
	domain.PartRecessional: {
		Verse:           func(s domain.Song) bool { return s.HasRecessionalVerse },
		FallbackSeasons: []domain.Season{domain.SeasonJesusChrist, domain.SeasonVirginMary},
	},
}

// coveredByMain lists the parts a main song always stands in for.
var coveredByMain = map[domain.MassPart]bool{
	domain.PartEntrance:  true,
	domain.PartGospel:    true,
	domain.PartOffertory: true,
}

// Assigner picks at most one song per mass part from resolved rule buckets.
// It is not safe for concurrent use because it owns its random source; build
// one per call.
type Assigner struct {
	Rand     *rand.Rand
	Policies map[domain.MassPart]PartPolicy
}

// NewAssigner returns an Assigner seeded with seed and the default policies.
func NewAssigner(seed int64) *Assigner {
	return &Assigner{
		Rand:     rand.New(rand.NewSource(seed)), //nolint:gosec // selection variety, not security
		Policies: DefaultPolicies,
	}
}

// Assign walks the buckets in precedence order (specific, typical,
// seasonal), each tier by tier, filling parts that are still open. Every
// part is filled at most once. Pool is the fallback catalog used when main,
// communion or recessional end up empty.
func (a *Assigner) Assign(set domain.RuleSet, season domain.Season, pool []domain.Song) Assignment {
	st := &assignState{
		songs:   map[domain.MassPart]domain.Song{},
		sources: map[domain.MassPart]Source{},
	}
	for _, bucket := range set.Buckets() {
		for _, tier := range rules.Tiers(bucket) {
			shuffled := append([]domain.SongRule(nil), tier...)
			a.Rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
			for _, r := range shuffled {
				st.offer(r, a.policies())
			}
		}
	}

	if !st.filled(domain.PartMain) {
		if song, ok := a.pick(pool, season, string(domain.PartMain), nil); ok {
			st.fill(domain.PartMain, song, SourceFallback)
		}
	}
	a.fallbackVerses(st, season, pool)
	return st.result(a.policies())
}

// fallbackVerses fills communion and recessional when the main song has no
// verse for them. Without a main song nothing is filled.
func (a *Assigner) fallbackVerses(st *assignState, season domain.Season, pool []domain.Song) {
	if !st.filled(domain.PartMain) {
		return
	}
	for _, part := range []domain.MassPart{domain.PartCommunion, domain.PartRecessional} {
		policy, ok := a.policies()[part]
		if !ok || st.filled(part) || st.covered(part, a.policies()) {
			continue
		}
		seasons := append([]domain.Season{season}, policy.FallbackSeasons...)
		for _, s := range seasons {
			if song, ok := a.pick(pool, s, string(part), st.used()); ok {
				st.fill(part, song, SourceFallback)
				break
			}
		}
	}
}

func (a *Assigner) policies() map[domain.MassPart]PartPolicy {
	if a.Policies == nil {
		return DefaultPolicies
	}
	return a.Policies
}

// pick draws uniformly among pool songs with the season affinity and the
// occasion tag, skipping songs already used.
func (a *Assigner) pick(pool []domain.Song, season domain.Season, occasion string, used map[int64]bool) (domain.Song, bool) {
	var candidates []domain.Song
	for _, s := range pool {
		if s.Season != season || !s.HasOccasion(occasion) || used[s.ID] {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return domain.Song{}, false
	}
	return candidates[a.Rand.Intn(len(candidates))], true
}

type assignState struct {
	songs   map[domain.MassPart]domain.Song
	sources map[domain.MassPart]Source
}

func (st *assignState) filled(p domain.MassPart) bool {
	_, ok := st.songs[p]
	return ok
}

func (st *assignState) fill(p domain.MassPart, s domain.Song, src Source) {
	if st.filled(p) {
		return
	}
	st.songs[p] = s
	st.sources[p] = src
}

// covered reports whether the main song stands in for p.
func (st *assignState) covered(p domain.MassPart, policies map[domain.MassPart]PartPolicy) bool {
	main, ok := st.songs[domain.PartMain]
	if !ok {
		return false
	}
	if coveredByMain[p] {
		return true
	}
	if policy, ok := policies[p]; ok && policy.Verse != nil {
		return policy.Verse(main)
	}
	return false
}

func (st *assignState) offer(r domain.SongRule, policies map[domain.MassPart]PartPolicy) {
	if r.CanBeMain && !st.filled(domain.PartMain) {
		st.fill(domain.PartMain, r.Song, SourceRule)
		return
	}
	if r.MassPart == domain.PartMain {
		return
	}
	if st.filled(r.MassPart) || st.covered(r.MassPart, policies) {
		return
	}
	st.fill(r.MassPart, r.Song, SourceRule)
}

func (st *assignState) used() map[int64]bool {
	out := make(map[int64]bool, len(st.songs))
	for _, s := range st.songs {
		out[s.ID] = true
	}
	return out
}

// result drops parts the final main song covers, so a part filled before
// main was chosen never shows up next to it.
func (st *assignState) result(policies map[domain.MassPart]PartPolicy) Assignment {
	out := Assignment{
		Songs:    map[domain.MassPart]domain.Song{},
		Sources:  map[domain.MassPart]Source{},
		Degraded: !st.filled(domain.PartMain),
	}
	for p, s := range st.songs {
		if p != domain.PartMain && st.covered(p, policies) {
			continue
		}
		out.Songs[p] = s
		out.Sources[p] = st.sources[p]
	}
	return out
}
