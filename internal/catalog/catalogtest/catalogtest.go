// Package catalogtest provides SQLite-backed catalog fixtures for tests.
package catalogtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"cantor/internal/catalog"
	"cantor/internal/db"
	"cantor/internal/events"
	"cantor/internal/migrate"
	"cantor/internal/repo"
)

// Base defines the seasons, sub-seasons and categories most fixtures share.
const Base = `
seasons:
  - code: advent
    description: Advent prepares for the coming of the Lord.
  - code: christmas
    description: Christmas celebrates the Nativity.
  - code: lent
  - code: easter
  - code: ordinary
  - code: jesus christ
  - code: virgin mary
subseasons:
  - code: late-advent
    description: From December 17 the O antiphons are sung.
  - code: christmas-octave
    description: The eight days of Christmas.
  - code: late-lent
  - code: pentecost-novena
  - code: week-of-prayer-for-unity
categories:
  - name: martyr
  - name: marian
  - name: feria
`

// Sample is a small complete catalog used by command and server tests.
const Sample = Base + `
celebrations:
  - slug: advent-feria
    name: Advent weekday
    categories: [feria]
  - slug: st-stephen
    name: Saint Stephen
    description: First martyr.
    categories: [martyr]
  - slug: christmas-feria
    name: Christmas weekday
    categories: [feria]
calendar:
  - date: "2025-12-20"
    season: advent
    celebrations: [advent-feria]
  - date: "2025-12-26"
    season: christmas
    celebrations: [st-stephen, christmas-feria]
songs:
  - number: 105
    title: O Come, O Come, Emmanuel
    season: advent
    occasions: [entrance]
  - number: 201
    title: Angels We Have Heard on High
    season: christmas
    occasions: [main]
  - number: 202
    title: Good Christian Friends, Rejoice
    season: christmas
    occasions: [communion]
  - number: 310
    title: Faith of Our Fathers
    occasions: [entrance]
  - number: 501
    title: Holy God, We Praise Thy Name
    season: jesus christ
    occasions: [recessional]
rules:
  - song: 105
    part: entrance
    condition: {kind: season, ref: advent}
    priority: mandatory
    exclusive: true
    can_be_main: false
  - song: 201
    part: main
    condition: {kind: subseason, ref: christmas-octave}
    priority: mandatory
  - song: 310
    part: entrance
    condition: {kind: category, ref: martyr}
    priority: preferred
    can_be_main: false
`

// Open returns a migrated catalog database in a temporary workspace.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn)
	require.NoError(t, err, "migrate")
	return conn
}

// Load parses doc and imports it into conn.
func Load(t *testing.T, conn *sql.DB, doc string) {
	t.Helper()
	cat, err := catalog.Parse([]byte(doc))
	require.NoError(t, err, "parse catalog")
	im := catalog.Importer{Repo: repo.Repo{DB: conn}, Events: events.Writer{DB: conn}}
	_, err = im.Import(context.Background(), cat, "tester")
	require.NoError(t, err, "import catalog")
}
