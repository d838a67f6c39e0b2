package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cantor/internal/catalog"
	"cantor/internal/catalog/catalogtest"
	"cantor/internal/domain"
	"cantor/internal/events"
	"cantor/internal/repo"
)

func TestParseSample(t *testing.T) {
	cat, err := catalog.Parse([]byte(catalogtest.Sample))
	require.NoError(t, err)
	assert.Len(t, cat.Songs, 5)
	assert.Len(t, cat.Rules, 3)
	require.NoError(t, catalog.Check(cat))
}

func TestParseRejectsInvalidFields(t *testing.T) {
	_, err := catalog.Parse([]byte(`
songs:
  - number: 0
    title: ""
rules:
  - song: 1
    part: postlude
    condition: {kind: weather, ref: rain}
    priority: urgent
calendar:
  - date: 20-12-2025
    season: advent
`))
	var verr *catalog.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	joined := verr.Error()
	for _, want := range []string{"Number", "Title", "Part", "Kind", "Priority", "Date"} {
		assert.Contains(t, joined, want)
	}
}

func TestParseAcceptsJSON(t *testing.T) {
	cat, err := catalog.Parse([]byte(`{"seasons":[{"code":"advent"}],"songs":[{"number":7,"title":"Veni","season":"advent"}]}`))
	require.NoError(t, err)
	require.NoError(t, catalog.Check(cat))
	assert.Equal(t, 7, cat.Songs[0].Number)
}

func TestCheckReportsDanglingReferences(t *testing.T) {
	cat, err := catalog.Parse([]byte(catalogtest.Base + `
celebrations:
  - slug: st-agnes
    name: Saint Agnes
    categories: [virgin]
calendar:
  - date: "2025-01-21"
    season: ordinary
    celebrations: [st-agnes, st-unknown]
songs:
  - number: 1
    title: One
    season: saints
rules:
  - song: 1
    part: entrance
    condition: {kind: celebration, ref: st-missing}
  - song: 2
    part: main
    condition: {kind: season, ref: lent}
  - song: 1
    part: entrance
    condition: {kind: celebration, ref: st-missing}
`))
	require.NoError(t, err)

	err = catalog.Check(cat)
	var ierr *domain.IntegrityError
	require.True(t, errors.As(err, &ierr), "got %v", err)
	assert.Len(t, ierr.Problems, 7)
	assert.Contains(t, err.Error(), `category "virgin" does not exist`)
	assert.Contains(t, err.Error(), `celebration "st-unknown" does not exist`)
	assert.Contains(t, err.Error(), `season "saints" does not exist`)
	assert.Contains(t, err.Error(), `celebration "st-missing" does not exist`)
	assert.Contains(t, err.Error(), "song 2 does not exist")
	assert.Contains(t, err.Error(), "already bound")
}

func TestCheckListsKnownSeasonCodes(t *testing.T) {
	cat, err := catalog.Parse([]byte(`
seasons:
  - code: advent
  - code: kalends
subseasons:
  - code: late-advent
  - code: rogation-days
`))
	require.NoError(t, err)

	err = catalog.Check(cat)
	var ierr *domain.IntegrityError
	require.True(t, errors.As(err, &ierr), "got %v", err)
	require.Len(t, ierr.Problems, 2)
	assert.Equal(t, `season "kalends" is not a known season (known: advent, christmas, lent, easter, ordinary, jesus-christ, virgin-mary, saints, occasional)`, ierr.Problems[0])
	assert.Equal(t, `sub-season "rogation-days" is not a known sub-season (known: late-advent, christmas-octave, week-of-prayer-for-unity, late-lent, pentecost-novena)`, ierr.Problems[1])
}

func TestCheckNormalizesSeasonCodes(t *testing.T) {
	cat, err := catalog.Parse([]byte(catalogtest.Base + `
songs:
  - number: 9
    title: Nine
    season: Jesus_Christ
rules:
  - song: 9
    part: recessional
    condition: {kind: season, ref: jesus christ}
`))
	require.NoError(t, err)
	assert.NoError(t, catalog.Check(cat))
}

func TestImportWritesCatalog(t *testing.T) {
	conn := catalogtest.Open(t)
	ctx := context.Background()
	cat, err := catalog.Parse([]byte(catalogtest.Sample))
	require.NoError(t, err)

	im := catalog.Importer{Repo: repo.Repo{DB: conn}, Events: events.Writer{DB: conn}}
	st, err := im.Import(ctx, cat, "tester")
	require.NoError(t, err)
	assert.Equal(t, catalog.Stats{Seasons: 7, SubSeasons: 5, Categories: 3, Celebrations: 3, CalendarDays: 2, Songs: 5, Rules: 3}, st)

	r := repo.Repo{DB: conn}
	song, err := r.GetSongByNumber(ctx, 501)
	require.NoError(t, err)
	assert.Equal(t, domain.SeasonJesusChrist, song.Season)
	assert.Equal(t, []string{"recessional"}, song.Occasions)

	day, err := r.GetCalendarDay(ctx, "2025-12-26")
	require.NoError(t, err)
	assert.Equal(t, []string{"st-stephen", "christmas-feria"}, day.Celebrations)

	rulesList, err := r.ListRules(ctx, repo.RuleFilters{Kind: "subseason"})
	require.NoError(t, err)
	require.Len(t, rulesList, 1)
	assert.Equal(t, domain.PriorityMandatory, rulesList[0].Priority)
	assert.True(t, rulesList[0].CanBeMain)

	require.NoError(t, r.CheckIntegrity(ctx))

	evts, err := r.TailEvents(ctx, 5, "catalog")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypeCatalogImport, evts[0].Type)

	// Re-importing updates in place.
	st, err = im.Import(ctx, cat, "tester")
	require.NoError(t, err)
	all, err := r.ListRules(ctx, repo.RuleFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, 5, st.Songs)
}

func TestImportRejectsBrokenCatalogAtomically(t *testing.T) {
	conn := catalogtest.Open(t)
	cat, err := catalog.Parse([]byte(catalogtest.Base + `
songs:
  - number: 1
    title: One
rules:
  - song: 1
    part: entrance
    condition: {kind: category, ref: confessor}
`))
	require.NoError(t, err)

	im := catalog.Importer{Repo: repo.Repo{DB: conn}, Events: events.Writer{DB: conn}}
	_, err = im.Import(context.Background(), cat, "tester")
	var ierr *domain.IntegrityError
	require.ErrorAs(t, err, &ierr)

	songs, err := repo.Repo{DB: conn}.ListSongs(context.Background(), repo.SongFilters{})
	require.NoError(t, err)
	assert.Empty(t, songs)
}
