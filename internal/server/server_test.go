package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cantor/internal/catalog/catalogtest"
	"cantor/internal/config"
	"cantor/internal/domain"
	"cantor/internal/engine"
	"cantor/internal/format"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, doc string) (*testServer, func()) {
	t.Helper()
	conn := catalogtest.Open(t)
	if doc != "" {
		catalogtest.Load(t, conn, doc)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
	require.NoError(t, err, "build handler")
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doRaw(t *testing.T, client *http.Client, method, url string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err, "new request")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err, "do request")
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err, "read body")
	return res, data
}

func doGet(t *testing.T, srv *testServer, path string) (*http.Response, []byte) {
	t.Helper()
	return doRaw(t, srv.Client(), http.MethodGet, srv.URL+path, nil, nil)
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	res, data := doGet(t, srv, "/v0/health")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var h HealthResponse
	require.NoError(t, json.Unmarshal(data, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Schema)
}

func TestRecommendationEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, catalogtest.Sample)
	defer cleanup()

	res, data := doGet(t, srv, "/v0/recommendations/2025-12-26/st-stephen?season=christmas&seed=4")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var v format.View
	require.NoError(t, json.Unmarshal(data, &v))
	assert.Equal(t, "2025-12-26", v.Date)
	assert.Equal(t, domain.SeasonChristmas, v.Season)
	require.NotEmpty(t, v.Items)
	assert.Equal(t, domain.PartMain, v.Items[0].Part)
	assert.Equal(t, 201, v.Items[0].Number)

	// Same seed, same answer.
	_, again := doGet(t, srv, "/v0/recommendations/2025-12-26/st-stephen?season=christmas&seed=4")
	assert.JSONEq(t, string(data), string(again))
}

func TestRecommendationErrors(t *testing.T) {
	srv, cleanup := newTestServer(t, catalogtest.Sample)
	defer cleanup()

	res, data := doGet(t, srv, "/v0/recommendations/2025-13-40/st-stephen?season=christmas")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_date", errorCode(t, data))

	res, data = doGet(t, srv, "/v0/recommendations/2025-12-26/st-nobody?season=christmas")
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = doGet(t, srv, "/v0/recommendations/2025-12-26/st-stephen?seed=abc")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestDayAndSubSeasons(t *testing.T) {
	srv, cleanup := newTestServer(t, catalogtest.Sample)
	defer cleanup()

	res, data := doGet(t, srv, "/v0/days/2025-12-26?seed=1")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var day DayResponse
	require.NoError(t, json.Unmarshal(data, &day))
	assert.Equal(t, "christmas", day.Season)
	require.Len(t, day.Recommendations, 2)
	assert.Equal(t, "st-stephen", day.Recommendations[0].Celebration.Slug)

	res, data = doGet(t, srv, "/v0/days?from=2025-12-01&to=2025-12-31&seed=1")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var rng RangeResponse
	require.NoError(t, json.Unmarshal(data, &rng))
	assert.Len(t, rng.Days, 2)

	res, data = doGet(t, srv, "/v0/subseasons/2025-12-24")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var subs SubSeasonsResponse
	require.NoError(t, json.Unmarshal(data, &subs))
	require.Len(t, subs.SubSeasons, 1)
	assert.Equal(t, domain.SubSeasonLateAdvent, subs.SubSeasons[0].Code)
	assert.Equal(t, "2025-04-20", subs.Easter)
	assert.Equal(t, "2025-06-08", subs.Pentecost)
}

func TestListEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, catalogtest.Sample)
	defer cleanup()

	res, data := doGet(t, srv, "/v0/songs?occasion=entrance")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var songs []domain.Song
	require.NoError(t, json.Unmarshal(data, &songs))
	assert.Len(t, songs, 2)

	res, data = doGet(t, srv, "/v0/celebrations")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var cels []domain.Celebration
	require.NoError(t, json.Unmarshal(data, &cels))
	assert.Len(t, cels, 3)

	res, data = doGet(t, srv, "/v0/rules?kind=category")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var rules []domain.SongRule
	require.NoError(t, json.Unmarshal(data, &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, 310, rules[0].Song.Number)

	res, data = doGet(t, srv, "/v0/catalog/check")
	assert.Equal(t, http.StatusOK, res.StatusCode, string(data))
}

func TestCatalogImportRequiresToken(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()
	body := []byte(catalogtest.Sample)

	res, data := doRaw(t, client, http.MethodPost, srv.URL+"/v0/catalog", body, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))

	res, data = doRaw(t, client, http.MethodPost, srv.URL+"/v0/catalog", body, map[string]string{"Authorization": "Bearer not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))

	readOnly, err := SignToken(testSecret, "reader", nil, time.Minute)
	require.NoError(t, err)
	res, data = doRaw(t, client, http.MethodPost, srv.URL+"/v0/catalog", body, map[string]string{"Authorization": "Bearer " + readOnly})
	assert.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	token, err := SignToken(testSecret, "admin", []string{PermissionCatalogWrite}, time.Minute)
	require.NoError(t, err)
	res, data = doRaw(t, client, http.MethodPost, srv.URL+"/v0/catalog", body, map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/yaml",
	})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var imp ImportResponse
	require.NoError(t, json.Unmarshal(data, &imp))
	assert.Equal(t, 5, imp.Stats.Songs)

	res, data = doGet(t, srv, "/v0/events?entity_kind=catalog")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts paginatedEvents
	require.NoError(t, json.Unmarshal(data, &evts))
	require.Len(t, evts.Items, 1)
	assert.Equal(t, "admin", evts.Items[0].ActorID)
}

func TestCatalogImportIntegrityError(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	token, err := SignToken(testSecret, "admin", []string{PermissionCatalogWrite}, 0)
	require.NoError(t, err)

	broken := catalogtest.Base + `
songs:
  - {number: 1, title: One}
rules:
  - {song: 1, part: entrance, condition: {kind: celebration, ref: st-missing}}
`
	res, data := doRaw(t, srv.Client(), http.MethodPost, srv.URL+"/v0/catalog", []byte(broken), map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "catalog_integrity", errorCode(t, data))
}

func TestOpenAPIAndMetrics(t *testing.T) {
	srv, cleanup := newTestServer(t, catalogtest.Sample)
	defer cleanup()

	res, data := doGet(t, srv, "/v0/openapi.json")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/v0/recommendations/{date}/{celebration}")
	assert.Contains(t, string(data), "bearerAuth")

	doGet(t, srv, "/v0/recommendations/2025-12-26/st-stephen?season=christmas&seed=1")
	res, data = doGet(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.Contains(string(data), "cantor_recommendations_total"))

	res, _ = doGet(t, srv, "/docs")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRateLimitAndCORS(t *testing.T) {
	conn := catalogtest.Open(t)
	handler, err := New(Config{
		Engine:      engine.New(conn, config.Default()),
		CORSOrigins: []string{"https://parish.example"},
		RateLimit:   2,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()
	client := srv.Client()

	res, _ := doRaw(t, client, http.MethodGet, srv.URL+"/v0/health", nil, map[string]string{"Origin": "https://parish.example"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "https://parish.example", res.Header.Get("Access-Control-Allow-Origin"))

	res, _ = doRaw(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, data := doRaw(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "rate_limited", errorCode(t, data))

	// Metrics stay reachable.
	res, _ = doRaw(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
