package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cantor/internal/catalog/catalogtest"
	"cantor/internal/format"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	stdout, stderr = &out, io.Discard
	t.Cleanup(func() { stdout, stderr = os.Stdout, os.Stderr })
	root := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func newWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := run(t, "-w", dir, "init", "--parish", "St. Cecilia")
	require.NoError(t, err)
	file := filepath.Join(dir, "catalog.yml")
	require.NoError(t, os.WriteFile(file, []byte(catalogtest.Sample), 0o644))
	_, err = run(t, "-w", dir, "catalog", "import", "--file", file)
	require.NoError(t, err)
	return dir
}

func TestRecommendJSON(t *testing.T) {
	dir := newWorkspace(t)
	out, err := run(t, "-w", dir, "--json", "recommend", "--date", "2025-12-26", "--celebration", "st-stephen", "--seed", "3")
	require.NoError(t, err)
	var v format.View
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	assert.Equal(t, "christmas", string(v.Season))
	require.NotEmpty(t, v.Items)
	assert.Equal(t, 201, v.Items[0].Number)
}

func TestRecommendDayTable(t *testing.T) {
	dir := newWorkspace(t)
	out, err := run(t, "-w", dir, "recommend", "--date", "2025-12-26", "--seed", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Saint Stephen")
	assert.Contains(t, out, "Christmas weekday")
	assert.Contains(t, out, "Angels We Have Heard on High")
}

func TestRecommendRangeAndRecord(t *testing.T) {
	dir := newWorkspace(t)
	out, err := run(t, "-w", dir, "--json", "recommend", "--date", "2025-12-01", "--to", "2025-12-31", "--seed", "1", "--record")
	require.NoError(t, err)
	var days []struct {
		Date            string        `json:"date"`
		Recommendations []format.View `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &days), out)
	require.Len(t, days, 2)
	assert.Equal(t, "2025-12-20", days[0].Date)

	out, err = run(t, "-w", dir, "--json", "log", "tail", "--entity-kind", "recommendation")
	require.NoError(t, err)
	var evts []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &evts), out)
	assert.Len(t, evts, 3)
}

func TestCatalogCheckAndLists(t *testing.T) {
	dir := newWorkspace(t)
	out, err := run(t, "-w", dir, "catalog", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "catalog OK")

	out, err = run(t, "-w", dir, "--json", "songs", "list", "--occasion", "entrance")
	require.NoError(t, err)
	var songs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &songs), out)
	assert.Len(t, songs, 2)

	out, err = run(t, "-w", dir, "rules", "list", "--kind", "category")
	require.NoError(t, err)
	assert.Contains(t, out, "Faith of Our Fathers")

	out, err = run(t, "-w", dir, "--json", "subseasons", "--date", "2025-12-26")
	require.NoError(t, err)
	assert.Contains(t, out, "christmas-octave")
}

func TestCatalogImportRejectsDanglingRefs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "broken.yml")
	doc := catalogtest.Base + `
songs:
  - {number: 1, title: One}
rules:
  - {song: 2, part: entrance, condition: {kind: season, ref: advent}}
`
	require.NoError(t, os.WriteFile(file, []byte(doc), 0o644))
	_, err := run(t, "-w", dir, "catalog", "import", "--file", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "song 2")
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, "-w", t.TempDir(), "token", "--jwt-secret", "s3cret", "--subject", "organist")
	require.NoError(t, err)
	assert.NotEmpty(t, bytes.TrimSpace([]byte(out)))

	_, err = run(t, "-w", t.TempDir(), "token", "--subject", "organist")
	assert.Error(t, err)
}
