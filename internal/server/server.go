package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cantor/internal/catalog"
	"cantor/internal/domain"
	"cantor/internal/engine"
	"cantor/internal/events"
	"cantor/internal/format"
	"cantor/internal/liturgy"
	"cantor/internal/logging"
	"cantor/internal/migrate"
	"cantor/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig

	// RateLimit is requests per minute per IP on the API routes; /metrics
	// is not limited.
	CORSOrigins []string
	RateLimit   int
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"celebration st-nobody: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope of every failed request.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the cantor API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logging.Component("http")))
	router.Use(corsHandler(cfg.CORSOrigins))
	router.Handle("/metrics", promhttp.Handler())

	apiRouter := router.With(rateLimiter(cfg.RateLimit), newAuthMiddleware(cfg.Auth))

	hcfg := huma.DefaultConfig("Cantor API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(apiRouter, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerCalendar(group, cfg.Engine)
	registerRecommendations(group, cfg.Engine)
	registerCatalog(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var dateErr *liturgy.InvalidDateError
	if errors.As(err, &dateErr) {
		return newAPIError(http.StatusBadRequest, "invalid_date", err.Error(), map[string]any{"date": dateErr.Value})
	}
	var integrity *domain.IntegrityError
	if errors.As(err, &integrity) {
		return newAPIError(http.StatusUnprocessableEntity, "catalog_integrity", err.Error(), map[string]any{"problems": integrity.Problems})
	}
	var invalid *catalog.ValidationError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusBadRequest, "invalid_catalog", err.Error(), map[string]any{"fields": invalid.Fields})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "exceeds") || strings.Contains(lowered, "before start"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		log := logging.Component("http")
		log.Error().Err(err).Msg("request failed")
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{Description: "Error"}
		}
	}
}

// applyAuthSecurity marks the catalog write as bearer protected.
func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	catalogPath := path.Join(basePath, "catalog")
	if item, ok := oas.Paths[catalogPath]; ok && item.Post != nil {
		item.Post.Security = []map[string][]string{{"bearerAuth": {}}}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Cantor API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		v, err := migrate.Version(ctx, e.DB)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok", Schema: v}}, nil
	})
}

func registerCalendar(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-subseasons",
		Method:      http.MethodGet,
		Path:        "/subseasons/{date}",
		Summary:     "Sub-seasons active on a date",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date" example:"2025-12-20"`
	}) (*struct {
		Body SubSeasonsResponse `json:"body"`
	}, error) {
		date, err := liturgy.ParseDate(input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		active := liturgy.Classify(date)
		infos, err := e.Repo.SubSeasonInfos(ctx, active)
		if err != nil {
			return nil, handleError(err)
		}
		// Windows apply whether or not the catalog describes them.
		described := map[domain.SubSeason]domain.SubSeasonInfo{}
		for _, info := range infos {
			described[info.Code] = info
		}
		resp := SubSeasonsResponse{
			Date:       domain.FormatDate(date),
			Easter:     domain.FormatDate(liturgy.Easter(date.Year())),
			Pentecost:  domain.FormatDate(liturgy.Pentecost(date.Year())),
			Ascension:  domain.FormatDate(liturgy.Ascension(date.Year())),
			May:        liturgy.IsMay(date),
			SubSeasons: []domain.SubSeasonInfo{},
		}
		for _, code := range active {
			info, ok := described[code]
			if !ok {
				info = domain.SubSeasonInfo{Code: code}
			}
			resp.SubSeasons = append(resp.SubSeasons, info)
		}
		return &struct {
			Body SubSeasonsResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-celebrations",
		Method:      http.MethodGet,
		Path:        "/celebrations",
		Summary:     "List celebrations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Celebration `json:"body"`
	}, error) {
		items, err := e.Repo.ListCelebrations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Celebration{}
		}
		return &struct {
			Body []domain.Celebration `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-songs",
		Method:      http.MethodGet,
		Path:        "/songs",
		Summary:     "List songs",
	}, func(ctx context.Context, input *struct {
		Season   string `query:"season"`
		Occasion string `query:"occasion"`
	}) (*struct {
		Body []domain.Song `json:"body"`
	}, error) {
		items, err := e.Repo.ListSongs(ctx, repo.SongFilters{Season: input.Season, Occasion: input.Occasion})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Song{}
		}
		return &struct {
			Body []domain.Song `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List song rules",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Kind     string `query:"kind" enum:"season,subseason,celebration,category"`
		Ref      string `query:"ref"`
		MassPart string `query:"mass_part"`
	}) (*struct {
		Body []domain.SongRule `json:"body"`
	}, error) {
		items, err := e.Repo.ListRules(ctx, repo.RuleFilters{Kind: input.Kind, Ref: input.Ref, MassPart: input.MassPart})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.SongRule{}
		}
		return &struct {
			Body []domain.SongRule `json:"body"`
		}{Body: items}, nil
	})
}

func registerRecommendations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-recommendation",
		Method:      http.MethodGet,
		Path:        "/recommendations/{date}/{celebration}",
		Summary:     "Recommend songs for one celebration",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Date        string `path:"date" example:"2025-12-26"`
		Celebration string `path:"celebration" example:"st-stephen"`
		Season      string `query:"season" doc:"Season code; defaults to the calendar season of the date"`
		Seed        string `query:"seed" doc:"Fixes the random tie-break"`
		Record      bool   `query:"record"`
	}) (*struct {
		Body format.View `json:"body"`
	}, error) {
		date, err := liturgy.ParseDate(input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		seed, serr := parseSeed(input.Seed)
		if serr != nil {
			return nil, serr
		}
		rec, err := e.Recommend(ctx, engine.RecommendOptions{
			Date:        date,
			Celebration: input.Celebration,
			Season:      input.Season,
			Seed:        seed,
			Record:      input.Record,
			ActorID:     actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body format.View `json:"body"`
		}{Body: rec.View()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-day",
		Method:      http.MethodGet,
		Path:        "/days/{date}",
		Summary:     "Recommend songs for every celebration of a calendar day",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date" example:"2025-12-26"`
		Seed string `query:"seed"`
	}) (*struct {
		Body DayResponse `json:"body"`
	}, error) {
		date, err := liturgy.ParseDate(input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		seed, serr := parseSeed(input.Seed)
		if serr != nil {
			return nil, serr
		}
		day, err := e.Repo.GetCalendarDay(ctx, domain.FormatDate(date))
		if err != nil {
			return nil, handleError(fmt.Errorf("calendar day %s: %w", domain.FormatDate(date), err))
		}
		recs, err := e.RecommendDay(ctx, date, engine.DayOptions{Seed: seed, ActorID: actorID(ctx)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DayResponse `json:"body"`
		}{Body: dayResponse(day.Date, day.Season, recs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-days",
		Method:      http.MethodGet,
		Path:        "/days",
		Summary:     "Recommend songs for every calendar day in a range",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		From string `query:"from" required:"true" example:"2025-12-01"`
		To   string `query:"to" required:"true" example:"2025-12-31"`
		Seed string `query:"seed"`
	}) (*struct {
		Body RangeResponse `json:"body"`
	}, error) {
		from, err := liturgy.ParseDate(input.From)
		if err != nil {
			return nil, handleError(err)
		}
		to, err := liturgy.ParseDate(input.To)
		if err != nil {
			return nil, handleError(err)
		}
		seed, serr := parseSeed(input.Seed)
		if serr != nil {
			return nil, serr
		}
		days, err := e.RecommendRange(ctx, from, to, engine.DayOptions{Seed: seed, ActorID: actorID(ctx)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RangeResponse `json:"body"`
		}{Body: rangeResponse(days)}, nil
	})
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "import-catalog",
		Method:      http.MethodPost,
		Path:        "/catalog",
		Summary:     "Import a catalog document (YAML or JSON)",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		RawBody []byte
	}) (*struct {
		Body ImportResponse `json:"body"`
	}, error) {
		principal, aerr := requirePermission(ctx, PermissionCatalogWrite)
		if aerr != nil {
			return nil, aerr
		}
		if len(input.RawBody) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		cat, err := catalog.Parse(input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		im := catalog.Importer{Repo: e.Repo, Events: e.Events}
		st, err := im.Import(ctx, cat, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ImportResponse `json:"body"`
		}{Body: ImportResponse{Stats: st}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-catalog",
		Method:      http.MethodGet,
		Path:        "/catalog/check",
		Summary:     "Check the stored catalog for dangling references",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.Repo.CheckIntegrity(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind" enum:"catalog,recommendation"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		items, err := e.Repo.TailEvents(ctx, normalizeLimit(input.Limit), input.EntityKind)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	_ = json.Unmarshal([]byte(evt.Payload), &payload)
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func parseSeed(raw string) (*int64, huma.StatusError) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid seed", map[string]any{"seed": raw})
	}
	return &v, nil
}

func actorID(ctx context.Context) string {
	if p, ok := principalFromContext(ctx); ok {
		return p.ActorID
	}
	return events.Anonymous
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
