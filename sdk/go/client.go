package cantorsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Cantor HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Celebration is a liturgical observance.
type Celebration struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Categories  []string `json:"categories"`
}

// Item is one recommended song.
type Item struct {
	Part   string `json:"part"`
	Label  string `json:"label"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	Source string `json:"source,omitempty"`
}

// Recommendation is the song list for one celebration.
type Recommendation struct {
	ID          string      `json:"id"`
	Date        string      `json:"date"`
	Celebration Celebration `json:"celebration"`
	Season      string      `json:"season"`
	SubSeasons  []string    `json:"subseasons"`
	Description string      `json:"description,omitempty"`
	Degraded    bool        `json:"degraded"`
	Items       []Item      `json:"items"`
}

// Day holds the recommendations for every celebration of a date.
type Day struct {
	Date            string           `json:"date"`
	Season          string           `json:"season"`
	Recommendations []Recommendation `json:"recommendations"`
}

// ImportStats counts what a catalog import wrote.
type ImportStats struct {
	Seasons      int `json:"seasons"`
	SubSeasons   int `json:"subseasons"`
	Categories   int `json:"categories"`
	Celebrations int `json:"celebrations"`
	CalendarDays int `json:"calendar_days"`
	Songs        int `json:"songs"`
	Rules        int `json:"rules"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RecommendOptions narrows a recommendation request. Zero values use
// server defaults.
type RecommendOptions struct {
	Season string
	Seed   *int64
	Record bool
}

// Health returns the schema version reported by the server.
func (c *Client) Health(ctx context.Context) (int, error) {
	var resp struct {
		Status string `json:"status"`
		Schema int    `json:"schema_version"`
	}
	err := c.do(ctx, http.MethodGet, "health", nil, "", &resp)
	return resp.Schema, err
}

// Recommend fetches the recommendation for one celebration on date
// (YYYY-MM-DD).
func (c *Client) Recommend(ctx context.Context, date, celebration string, opts RecommendOptions) (Recommendation, error) {
	q := url.Values{}
	if opts.Season != "" {
		q.Set("season", opts.Season)
	}
	if opts.Seed != nil {
		q.Set("seed", strconv.FormatInt(*opts.Seed, 10))
	}
	if opts.Record {
		q.Set("record", "true")
	}
	endpoint := withQuery(fmt.Sprintf("recommendations/%s/%s", url.PathEscape(date), url.PathEscape(celebration)), q)
	var resp Recommendation
	err := c.do(ctx, http.MethodGet, endpoint, nil, "", &resp)
	return resp, err
}

// Day fetches recommendations for every celebration on date.
func (c *Client) Day(ctx context.Context, date string, seed *int64) (Day, error) {
	q := url.Values{}
	if seed != nil {
		q.Set("seed", strconv.FormatInt(*seed, 10))
	}
	var resp Day
	err := c.do(ctx, http.MethodGet, withQuery("days/"+url.PathEscape(date), q), nil, "", &resp)
	return resp, err
}

// Celebrations lists the celebrations known to the server.
func (c *Client) Celebrations(ctx context.Context) ([]Celebration, error) {
	var resp []Celebration
	err := c.do(ctx, http.MethodGet, "celebrations", nil, "", &resp)
	return resp, err
}

// ImportCatalog uploads a YAML or JSON catalog document. It needs a bearer
// token carrying the catalog.write permission.
func (c *Client) ImportCatalog(ctx context.Context, doc []byte) (ImportStats, error) {
	var resp struct {
		Stats ImportStats `json:"stats"`
	}
	err := c.do(ctx, http.MethodPost, "catalog", bytes.NewReader(doc), "application/yaml", &resp)
	return resp.Stats, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+"/v0/"+strings.TrimLeft(endpoint, "/"), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
