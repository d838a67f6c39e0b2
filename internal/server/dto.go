package server

import (
	"cantor/internal/catalog"
	"cantor/internal/domain"
	"cantor/internal/engine"
	"cantor/internal/format"
)

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Schema int    `json:"schema_version"`
}

type SubSeasonsResponse struct {
	Date       string                 `json:"date" format:"date"`
	Easter     string                 `json:"easter" format:"date"`
	Pentecost  string                 `json:"pentecost" format:"date"`
	Ascension  string                 `json:"ascension" format:"date"`
	May        bool                   `json:"may"`
	SubSeasons []domain.SubSeasonInfo `json:"subseasons"`
}

type DayResponse struct {
	Date            string        `json:"date" format:"date"`
	Season          string        `json:"season"`
	Recommendations []format.View `json:"recommendations"`
}

type RangeResponse struct {
	Days []DayResponse `json:"days"`
}

type ImportResponse struct {
	Stats catalog.Stats `json:"stats"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedEvents struct {
	Items []EventResponse `json:"items"`
}

func views(recs []format.Recommendation) []format.View {
	out := make([]format.View, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.View())
	}
	return out
}

func dayResponse(date, season string, recs []format.Recommendation) DayResponse {
	return DayResponse{Date: date, Season: season, Recommendations: views(recs)}
}

func rangeResponse(days []engine.DayResult) RangeResponse {
	out := RangeResponse{Days: make([]DayResponse, 0, len(days))}
	for _, d := range days {
		season := ""
		if len(d.Recommendations) > 0 {
			season = string(d.Recommendations[0].Season())
		}
		out.Days = append(out.Days, dayResponse(d.Date, season, d.Recommendations))
	}
	return out
}
