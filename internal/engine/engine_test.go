package engine_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cantor/internal/catalog/catalogtest"
	"cantor/internal/config"
	"cantor/internal/domain"
	"cantor/internal/engine"
	"cantor/internal/events"
	"cantor/internal/format"
	"cantor/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	DB     *sql.DB
	Ctx    context.Context
}

func newTestEnv(t *testing.T, doc string) testEnv {
	t.Helper()
	conn := catalogtest.Open(t)
	catalogtest.Load(t, conn, doc)
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2025, 12, 20, 10, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, DB: conn, Ctx: context.Background()}
}

func seed(v int64) *int64 { return &v }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func parts(rec format.Recommendation) map[domain.MassPart]int {
	out := map[domain.MassPart]int{}
	for _, it := range rec.Items() {
		out[it.Part] = it.Number
	}
	return out
}

const scenarioA = catalogtest.Base + `
celebrations:
  - slug: advent-feria
    name: Advent weekday
    categories: [feria]
songs:
  - number: 105
    title: O Come, O Come, Emmanuel
    season: advent
    occasions: [entrance]
  - number: 106
    title: Creator of the Stars of Night
    season: advent
rules:
  - song: 105
    part: entrance
    condition: {kind: season, ref: advent}
    priority: mandatory
    exclusive: true
    can_be_main: false
  - song: 106
    part: entrance
    condition: {kind: season, ref: advent}
    priority: mandatory
`

func TestScenarioAEntranceOnly(t *testing.T) {
	env := newTestEnv(t, scenarioA)
	for s := int64(0); s < 10; s++ {
		rec, err := env.Engine.Recommend(env.Ctx, engine.RecommendOptions{
			Date: day(2025, 12, 20), Celebration: "advent-feria", Season: "advent", Seed: seed(s),
		})
		require.NoError(t, err)
		assert.Equal(t, map[domain.MassPart]int{domain.PartEntrance: 105}, parts(rec), "seed %d", s)
		assert.True(t, rec.Degraded())
		assert.Equal(t, []domain.SubSeason{domain.SubSeasonLateAdvent}, rec.SubSeasons())
	}
}

func TestScenarioAWithoutMainLeavesCommunionAndRecessionalEmpty(t *testing.T) {
	env := newTestEnv(t, catalogtest.Base+`
celebrations:
  - slug: advent-feria
    name: Advent weekday
    categories: [feria]
songs:
  - number: 105
    title: O Come, O Come, Emmanuel
    season: advent
    occasions: [entrance]
  - number: 110
    title: Soul of My Saviour
    season: advent
    occasions: [communion]
  - number: 701
    title: To Jesus Christ, Our Sovereign King
    season: jesus christ
    occasions: [recessional]
rules:
  - song: 105
    part: entrance
    condition: {kind: season, ref: advent}
    priority: mandatory
    exclusive: true
    can_be_main: false
`)
	for s := int64(0); s < 10; s++ {
		rec, err := env.Engine.Recommend(env.Ctx, engine.RecommendOptions{
			Date: day(2025, 12, 20), Celebration: "advent-feria", Season: "advent", Seed: seed(s),
		})
		require.NoError(t, err)
		assert.Equal(t, map[domain.MassPart]int{domain.PartEntrance: 105}, parts(rec), "seed %d", s)
		assert.True(t, rec.Degraded())
	}
}

func TestScenarioBMainFromChristmasOctave(t *testing.T) {
	env := newTestEnv(t, catalogtest.Sample)
	rec, err := env.Engine.Recommend(env.Ctx, engine.RecommendOptions{
		Date: day(2025, 12, 26), Celebration: "christmas-feria", Season: "christmas", Seed: seed(3),
	})
	require.NoError(t, err)
	main, ok := rec.Song(domain.PartMain)
	require.True(t, ok)
	assert.Equal(t, 201, main.Number)
	assert.Equal(t, "rule", main.Source)
	assert.False(t, rec.Degraded())
}

func TestScenarioCRecessionalFallback(t *testing.T) {
	env := newTestEnv(t, catalogtest.Sample)
	rec, err := env.Engine.Recommend(env.Ctx, engine.RecommendOptions{
		Date: day(2025, 12, 26), Celebration: "st-stephen", Season: "christmas", Seed: seed(11),
	})
	require.NoError(t, err)

	want := []format.Item{
		{Part: domain.PartMain, Label: "Main song", Number: 201, Title: "Angels We Have Heard on High", Source: "rule"},
		{Part: domain.PartCommunion, Label: "Communion", Number: 202, Title: "Good Christian Friends, Rejoice", Source: "fallback"},
		{Part: domain.PartRecessional, Label: "Recessional", Number: 501, Title: "Holy God, We Praise Thy Name", Source: "fallback"},
	}
	if diff := cmp.Diff(want, rec.Items()); diff != "" {
		t.Fatalf("items (-want +got):\n%s", diff)
	}
	assert.Equal(t, "First martyr.\nChristmas celebrates the Nativity.\nThe eight days of Christmas.", rec.Description())
}

func TestMainCommunionVerseSuppressesCommunion(t *testing.T) {
	env := newTestEnv(t, catalogtest.Base+`
celebrations:
  - slug: feria
    name: Weekday
    categories: [feria]
songs:
  - number: 1
    title: Main with verse
    season: ordinary
    communion_verse: true
  - number: 2
    title: Communion
    season: ordinary
    occasions: [communion]
  - number: 3
    title: Communion rule
rules:
  - song: 1
    part: entrance
    condition: {kind: season, ref: ordinary}
    priority: mandatory
  - song: 3
    part: communion
    condition: {kind: season, ref: ordinary}
    can_be_main: false
`)
	for s := int64(0); s < 10; s++ {
		rec, err := env.Engine.Recommend(env.Ctx, engine.RecommendOptions{
			Date: day(2025, 7, 14), Celebration: "feria", Season: "ordinary", Seed: seed(s),
		})
		require.NoError(t, err)
		assert.Equal(t, map[domain.MassPart]int{domain.PartMain: 1}, parts(rec), "seed %d", s)
	}
}

func TestRecommendIdempotentUnderSeed(t *testing.T) {
	env := newTestEnv(t, catalogtest.Base+`
celebrations:
  - slug: feria
    name: Weekday
    categories: [feria]
songs:
  - {number: 1, title: A, season: ordinary, occasions: [main]}
  - {number: 2, title: B, season: ordinary, occasions: [main]}
  - {number: 3, title: C, season: ordinary, occasions: [main]}
  - {number: 4, title: D, season: jesus christ, occasions: [recessional, communion]}
  - {number: 5, title: E, season: jesus christ, occasions: [recessional, communion]}
rules:
  - {song: 1, part: offertory, condition: {kind: category, ref: feria}}
  - {song: 2, part: psalm, condition: {kind: category, ref: feria}}
  - {song: 3, part: psalm, condition: {kind: season, ref: ordinary}}
`)
	opts := engine.RecommendOptions{Date: day(2025, 7, 14), Celebration: "feria", Season: "ordinary", Seed: seed(42)}
	first, err := env.Engine.Recommend(env.Ctx, opts)
	require.NoError(t, err)
	second, err := env.Engine.Recommend(env.Ctx, opts)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.Equal(t, first.ID(), second.ID())

	other, err := env.Engine.Recommend(env.Ctx, engine.RecommendOptions{Date: day(2025, 7, 14), Celebration: "feria", Season: "ordinary", Seed: seed(43)})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), other.ID())
}

func TestRecommendUnknownSeasonDegrades(t *testing.T) {
	env := newTestEnv(t, catalogtest.Sample)
	rec, err := env.Engine.Recommend(env.Ctx, engine.RecommendOptions{
		Date: day(2025, 12, 26), Celebration: "christmas-feria", Season: "kalends", Seed: seed(1),
	})
	require.NoError(t, err)
	_, ok := rec.Song(domain.PartMain)
	assert.False(t, ok, "sub-season rule must not apply under an unknown season")
	assert.True(t, rec.Degraded())
	rc, ok := rec.Song(domain.PartRecessional)
	require.True(t, ok)
	assert.Equal(t, 501, rc.Number)
}

func TestRecommendInputErrors(t *testing.T) {
	env := newTestEnv(t, catalogtest.Sample)
	_, err := env.Engine.Recommend(env.Ctx, engine.RecommendOptions{Date: day(2025, 12, 26), Celebration: "st-nobody", Season: "christmas"})
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	_, err = env.Engine.Recommend(env.Ctx, engine.RecommendOptions{Date: day(2025, 12, 26)})
	assert.Error(t, err)

	// No season given and no calendar entry for the date.
	_, err = env.Engine.Recommend(env.Ctx, engine.RecommendOptions{Date: day(2025, 3, 1), Celebration: "st-stephen"})
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestRecommendSeasonFromCalendar(t *testing.T) {
	env := newTestEnv(t, catalogtest.Sample)
	// Date defaults to Now, 2025-12-20, an advent day in the calendar.
	rec, err := env.Engine.Recommend(env.Ctx, engine.RecommendOptions{Celebration: "advent-feria", Seed: seed(5)})
	require.NoError(t, err)
	assert.Equal(t, domain.SeasonAdvent, rec.Season())
	assert.Equal(t, "2025-12-20", domain.FormatDate(rec.Date()))
	it, ok := rec.Song(domain.PartEntrance)
	require.True(t, ok)
	assert.Equal(t, 105, it.Number)
}

func TestMayNoteInDescription(t *testing.T) {
	env := newTestEnv(t, catalogtest.Base+`
celebrations:
  - slug: feria
    name: Weekday
    description: A weekday.
`)
	env.Engine.Config.Notes.May = "Month of Mary."
	rec, err := env.Engine.Recommend(env.Ctx, engine.RecommendOptions{Date: day(2025, 5, 6), Celebration: "feria", Season: "easter", Seed: seed(1)})
	require.NoError(t, err)
	assert.Equal(t, "A weekday.\nMonth of Mary.", rec.Description())

	rec, err = env.Engine.Recommend(env.Ctx, engine.RecommendOptions{Date: day(2025, 6, 2), Celebration: "feria", Season: "easter", Seed: seed(1)})
	require.NoError(t, err)
	// Pentecost 2025 is June 8.
	assert.Equal(t, []domain.SubSeason{domain.SubSeasonPentecostNovena}, rec.SubSeasons())
	assert.Equal(t, "A weekday.", rec.Description())
}

func TestRecommendDayAndRange(t *testing.T) {
	env := newTestEnv(t, catalogtest.Sample)
	recs, err := env.Engine.RecommendDay(env.Ctx, day(2025, 12, 26), engine.DayOptions{Seed: seed(2)})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "st-stephen", recs[0].Celebration().Slug)
	assert.Equal(t, "christmas-feria", recs[1].Celebration().Slug)

	_, err = env.Engine.RecommendDay(env.Ctx, day(2025, 12, 21), engine.DayOptions{})
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	days, err := env.Engine.RecommendRange(env.Ctx, day(2025, 12, 19), day(2025, 12, 31), engine.DayOptions{Seed: seed(2)})
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2025-12-20", days[0].Date)
	assert.Equal(t, "2025-12-26", days[1].Date)
	assert.Len(t, days[1].Recommendations, 2)

	_, err = env.Engine.RecommendRange(env.Ctx, day(2025, 12, 31), day(2025, 12, 1), engine.DayOptions{})
	assert.Error(t, err)
	_, err = env.Engine.RecommendRange(env.Ctx, day(2025, 1, 1), day(2026, 6, 1), engine.DayOptions{})
	assert.Error(t, err)
}

func TestRecommendRangeReportsUnknownCelebration(t *testing.T) {
	env := newTestEnv(t, catalogtest.Sample)
	conn, err := env.DB.Conn(env.Ctx)
	require.NoError(t, err)
	_, err = conn.ExecContext(env.Ctx, `PRAGMA foreign_keys=OFF`)
	require.NoError(t, err)
	_, err = conn.ExecContext(env.Ctx, `INSERT INTO calendar_celebrations(date, celebration_slug, position) VALUES ('2025-12-20', 'st-nobody', 9)`)
	require.NoError(t, err)
	_, err = conn.ExecContext(env.Ctx, `PRAGMA foreign_keys=ON`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = env.Engine.RecommendRange(env.Ctx, day(2025, 12, 19), day(2025, 12, 31), engine.DayOptions{Seed: seed(2)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
	assert.Contains(t, err.Error(), "2025-12-20")
}

func TestRecordHistory(t *testing.T) {
	env := newTestEnv(t, catalogtest.Sample)
	rec, err := env.Engine.Recommend(env.Ctx, engine.RecommendOptions{
		Date: day(2025, 12, 26), Celebration: "st-stephen", Season: "christmas", Seed: seed(9), Record: true, ActorID: "cantor-1",
	})
	require.NoError(t, err)

	evts, err := env.Engine.Repo.TailEvents(env.Ctx, 10, "recommendation")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypeRecommendationServed, evts[0].Type)
	assert.Equal(t, rec.ID(), evts[0].EntityID)
	assert.Equal(t, "cantor-1", evts[0].ActorID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(evts[0].Payload), &payload))
	assert.Equal(t, "st-stephen", payload["celebration"])
	assert.EqualValues(t, 9, payload["seed"])

	// Not recorded unless asked.
	_, err = env.Engine.Recommend(env.Ctx, engine.RecommendOptions{Date: day(2025, 12, 26), Celebration: "st-stephen", Season: "christmas", Seed: seed(9)})
	require.NoError(t, err)
	evts, err = env.Engine.Repo.TailEvents(env.Ctx, 10, "recommendation")
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}
