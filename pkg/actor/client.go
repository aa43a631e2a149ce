// Package actor wraps the scraping-actor platform API: dispatching harvest
// runs, checking run status, and fetching dataset items.
package actor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/outreachly/lead-engine/internal/resilience"
)

// Default base URL for the actor platform API.
const defaultBaseURL = "https://api.apify.com/v2"

// Terminal run statuses reported by the platform.
const (
	StatusReady     = "READY"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusTimedOut  = "TIMED-OUT"
	StatusAborted   = "ABORTED"
)

// TerminalStatus reports whether a platform status is final.
func TerminalStatus(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusAborted:
		return true
	}
	return false
}

// Client defines the actor platform operations.
type Client interface {
	StartRun(ctx context.Context, actorID string, input RunInput) (*Run, error)
	GetRun(ctx context.Context, runID string) (*Run, error)
	DatasetItems(ctx context.Context, datasetID string, limit int) ([]DatasetItem, error)
}

// RunInput is the actor input for one harvest dispatch. ClientTag travels
// through the platform and comes back in the webhook so callbacks can be
// correlated even without a mapping row.
type RunInput struct {
	ProfileURLs []string `json:"profileUrls"`
	PostsWanted int      `json:"postsWanted,omitempty"`
	ClientTag   string   `json:"clientTag,omitempty"`
}

// Run describes one actor run.
type Run struct {
	ID               string   `json:"id"`
	ActorID          string   `json:"actId"`
	Status           string   `json:"status"`
	StartedAt        string   `json:"startedAt,omitempty"`
	FinishedAt       string   `json:"finishedAt,omitempty"`
	DefaultDatasetID string   `json:"defaultDatasetId,omitempty"`
	Stats            RunStats `json:"stats"`
}

// RunStats carries the platform's usage figures for a run.
type RunStats struct {
	ComputeUnits float64 `json:"computeUnits"`
	ResultCount  int     `json:"resultCount"`
}

// DatasetItem is one harvested record. The actor's output schema is not
// fixed, so items decode into a raw field map with typed accessors.
type DatasetItem map[string]any

// Str returns the named field as a string, or "" when absent.
func (d DatasetItem) Str(field string) string {
	s, _ := d[field].(string)
	return s
}

// APIError is returned when the platform responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("actor: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a new actor platform client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the platform's standard {"data": ...} response wrapper.
type envelope[T any] struct {
	Data T `json:"data"`
}

func (c *httpClient) StartRun(ctx context.Context, actorID string, input RunInput) (*Run, error) {
	var resp envelope[Run]
	if err := c.post(ctx, fmt.Sprintf("/acts/%s/runs", actorID), input, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("actor: start run %s", actorID))
	}
	return &resp.Data, nil
}

func (c *httpClient) GetRun(ctx context.Context, runID string) (*Run, error) {
	var resp envelope[Run]
	if err := c.get(ctx, fmt.Sprintf("/actor-runs/%s", runID), &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("actor: get run %s", runID))
	}
	return &resp.Data, nil
}

func (c *httpClient) DatasetItems(ctx context.Context, datasetID string, limit int) ([]DatasetItem, error) {
	path := fmt.Sprintf("/datasets/%s/items", datasetID)
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var items []DatasetItem
	if err := c.get(ctx, path, &items); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("actor: dataset items %s", datasetID))
	}
	return items, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
