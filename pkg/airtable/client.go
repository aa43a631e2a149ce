// Package airtable is the typed boundary over the Airtable record store. It
// is the only package that performs record-store I/O: find, create, update,
// and list over whitelisted tables, with rate limiting and capped-backoff
// retries.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/outreachly/lead-engine/internal/resilience"
)

// Default base URL for the Airtable REST API.
const defaultBaseURL = "https://api.airtable.com/v0"

// Airtable allows 5 requests per second per base.
const defaultRateLimitRPS = 5

// ErrFieldUnknown is returned before any request is made when a write names
// a field outside the table's whitelist. It indicates a code bug, not bad
// data.
var ErrFieldUnknown = errors.New("airtable: field not in table whitelist")

// ErrAmbiguousCreate is returned when a create may or may not have committed
// (the request was sent but the outcome is unknown). Callers reconcile by
// re-reading under the table's uniqueness key.
var ErrAmbiguousCreate = errors.New("airtable: create outcome ambiguous")

// Table names an Airtable table together with the closed set of writable
// field names. Writes naming any other field fail with ErrFieldUnknown.
type Table struct {
	Name   string
	Fields map[string]struct{}
}

// Allows reports whether field is writable on the table. A table with a nil
// whitelist accepts any field (used only by read paths and tests).
func (t Table) Allows(field string) bool {
	if t.Fields == nil {
		return true
	}
	_, ok := t.Fields[field]
	return ok
}

func (t Table) checkFields(fields map[string]any) error {
	var bad []string
	for name := range fields {
		if !t.Allows(name) {
			bad = append(bad, name)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return fmt.Errorf("%w: table %q fields %v", ErrFieldUnknown, t.Name, bad)
}

// Record is the single record shape exposed to the rest of the system,
// regardless of how the store represents it on the wire.
type Record struct {
	ID          string         `json:"id"`
	Fields      map[string]any `json:"fields"`
	CreatedTime string         `json:"createdTime,omitempty"`
}

// Str returns the named field as a string, or "" when absent or non-string.
func (r *Record) Str(field string) string {
	if r == nil {
		return ""
	}
	s, _ := r.Fields[field].(string)
	return s
}

// Int returns the named field as an int. Airtable numbers decode as float64.
func (r *Record) Int(field string) int {
	if r == nil {
		return 0
	}
	switch v := r.Fields[field].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Client defines the record-store operations used by the tracking core.
// FindOne and Get return (nil, nil) when no record matches.
type Client interface {
	FindOne(ctx context.Context, table Table, formula string) (*Record, error)
	Get(ctx context.Context, table Table, recordID string) (*Record, error)
	Create(ctx context.Context, table Table, fields map[string]any) (*Record, error)
	Update(ctx context.Context, table Table, recordID string, fields map[string]any) (*Record, error)
	List(ctx context.Context, table Table, formula string, limit int) ([]Record, error)
}

// APIError is returned when Airtable responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("airtable: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit overrides the default request rate (5 req/s). Zero or
// negative disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithRetryConfig overrides the retry policy for transient store errors.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseID  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates an Airtable client scoped to one base.
func NewClient(apiKey, baseID string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseID:  baseID,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(defaultRateLimitRPS, 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

func (c *httpClient) FindOne(ctx context.Context, table Table, formula string) (*Record, error) {
	records, err := c.List(ctx, table, formula, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// List follows the response offset cursor until the server stops returning
// one (or limit is reached), so callers see every page.
func (c *httpClient) List(ctx context.Context, table Table, formula string, limit int) ([]Record, error) {
	var records []Record
	offset := ""

	for {
		q := url.Values{}
		if formula != "" {
			q.Set("filterByFormula", formula)
		}
		if limit > 0 {
			q.Set("maxRecords", fmt.Sprint(limit))
		}
		if offset != "" {
			q.Set("offset", offset)
		}
		path := c.tablePath(table) + "?" + q.Encode()

		resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*listResponse, error) {
			var out listResponse
			if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
				return nil, err
			}
			return &out, nil
		})
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("airtable: list %s", table.Name))
		}

		records = append(records, resp.Records...)
		if resp.Offset == "" || (limit > 0 && len(records) >= limit) {
			break
		}
		offset = resp.Offset
	}

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (c *httpClient) Get(ctx context.Context, table Table, recordID string) (*Record, error) {
	path := c.tablePath(table) + "/" + url.PathEscape(recordID)

	rec, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Record, error) {
		var out Record
		if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, eris.Wrap(err, fmt.Sprintf("airtable: get %s/%s", table.Name, recordID))
	}
	return rec, nil
}

func (c *httpClient) Create(ctx context.Context, table Table, fields map[string]any) (*Record, error) {
	if err := table.checkFields(fields); err != nil {
		return nil, err
	}

	body := map[string]any{"fields": fields}

	// Creates are not idempotent. Retry only error classes where the request
	// cannot have committed; anything ambiguous surfaces as such and the
	// caller reconciles via the table's uniqueness key.
	cfg := c.retry
	cfg.ShouldRetry = resilience.IsPreCommit

	var out Record
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		out = Record{}
		return c.do(ctx, http.MethodPost, c.tablePath(table), body, &out)
	})
	if err != nil {
		if resilience.IsAmbiguous(err) {
			return nil, eris.Wrap(ErrAmbiguousCreate, fmt.Sprintf("airtable: create in %s: %v", table.Name, err))
		}
		return nil, eris.Wrap(err, fmt.Sprintf("airtable: create in %s", table.Name))
	}
	return &out, nil
}

func (c *httpClient) Update(ctx context.Context, table Table, recordID string, fields map[string]any) (*Record, error) {
	if err := table.checkFields(fields); err != nil {
		return nil, err
	}

	body := map[string]any{"fields": fields}
	path := c.tablePath(table) + "/" + url.PathEscape(recordID)

	var out Record
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		out = Record{}
		return c.do(ctx, http.MethodPatch, path, body, &out)
	})
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("airtable: update %s/%s", table.Name, recordID))
	}
	return &out, nil
}

func (c *httpClient) tablePath(table Table) string {
	return "/" + url.PathEscape(c.baseID) + "/" + url.PathEscape(table.Name)
}

func (c *httpClient) do(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit")
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return eris.Wrap(err, "decode response")
		}
	}
	return nil
}
