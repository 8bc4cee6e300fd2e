package catalog

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

	"github.com/lehigh-university-libraries/doisync/internal/models"
)

const (
	opAll    = "all"
	opByDOI  = "byDoi"
	opSave   = "save"
	cacheKey = "_"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for every request.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithObserver installs a callback that receives every request step.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithClock overrides the time source used for cache-busting parameters.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithStrictResponses makes Save fail with MalformedResponseError when a
// successful response body is not valid JSON, instead of substituting the
// generic success marker.
func WithStrictResponses() Option {
	return func(c *Client) {
		c.strict = true
	}
}

// Client reads and writes records against a script-backed endpoint whose
// supported transport is discovered per call. It holds no mutable state and
// is safe for concurrent use.
type Client struct {
	endpoint   *url.URL
	httpClient *http.Client
	observer   Observer
	now        func() time.Time
	strict     bool
}

// NewClient creates a client for the endpoint URL.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("catalog: endpoint URL is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("catalog: invalid endpoint URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("catalog: endpoint URL must be absolute: %q", endpoint)
	}

	c := &Client{
		endpoint:   parsed,
		httpClient: &http.Client{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the configured endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

// FetchAll returns the whole collection stored by the endpoint.
func (c *Client) FetchAll(ctx context.Context) (models.Collection, error) {
	body, err := c.read(ctx, opAll, url.Values{"op": {opAll}})
	if err != nil {
		return nil, err
	}
	coll, err := decodeCollection(body)
	if err != nil {
		return nil, &RemoteReadError{Op: opAll, StatusCode: http.StatusOK, Err: err}
	}
	return coll, nil
}

// FetchByKey returns the record stored under doi, or nil when the endpoint
// reports no match.
func (c *Client) FetchByKey(ctx context.Context, doi string) (models.Raw, error) {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return nil, ErrMissingIdentifier
	}
	body, err := c.read(ctx, opByDOI, url.Values{"op": {opByDOI}, "doi": {doi}})
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(body)
	if err != nil {
		return nil, &RemoteReadError{Op: opByDOI, StatusCode: http.StatusOK, Err: err}
	}
	return rec, nil
}

func (c *Client) read(ctx context.Context, op string, q url.Values) ([]byte, error) {
	q.Set(cacheKey, strconv.FormatInt(c.now().UnixMilli(), 10))
	target := c.urlWithQuery(q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &RemoteReadError{Op: op, Err: err}
	}

	c.emit(Event{Kind: EventAttempt, Op: op, Method: http.MethodGet, URL: target})
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.emit(Event{Kind: EventFailure, Op: op, Method: http.MethodGet, URL: target, Err: err})
		return nil, &RemoteReadError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !succeeded(resp) {
		c.emit(Event{Kind: EventFailure, Op: op, Method: http.MethodGet, URL: target, StatusCode: resp.StatusCode})
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &RemoteReadError{Op: op, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteReadError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	c.emit(Event{Kind: EventSuccess, Op: op, Method: http.MethodGet, URL: target, StatusCode: resp.StatusCode})
	return data, nil
}

// urlWithQuery appends an encoded query to the endpoint, keeping any query the
// endpoint URL already carries.
func (c *Client) urlWithQuery(rawQuery string) string {
	base := c.endpoint.String()
	if rawQuery == "" {
		return base
	}
	sep := "?"
	if c.endpoint.RawQuery != "" || c.endpoint.ForceQuery {
		sep = "&"
	}
	return base + sep + rawQuery
}

func (c *Client) emit(ev Event) {
	if c.observer != nil {
		c.observer(ev)
	}
}

func succeeded(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// decodeCollection unwraps a {"data": {...}} envelope when present, otherwise
// the whole payload is the collection. Null and non-object entries are skipped.
func decodeCollection(body []byte) (models.Collection, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	payload := trimmed
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err == nil && isObject(envelope.Data) {
		payload = envelope.Data
	}

	if bytes.Equal(payload, []byte("null")) {
		return models.Collection{}, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("decode collection: %w", err)
	}

	coll := make(models.Collection, len(entries))
	for doi, raw := range entries {
		if !isObject(raw) {
			continue
		}
		var rec models.Raw
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode record %q: %w", doi, err)
		}
		coll[doi] = rec
	}
	return coll, nil
}

// decodeRecord reads the record under "data"; a null or missing value is the
// absence marker.
func decodeRecord(body []byte) (models.Raw, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var rec models.Raw
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
