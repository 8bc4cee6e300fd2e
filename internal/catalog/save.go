package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/lehigh-university-libraries/doisync/internal/models"
)

const (
	// InlineDataLimit is the longest record JSON, in UTF-16 code units, sent as
	// a single GET parameter.
	InlineDataLimit = 1200
	// ChunkSize is the length of each d<N> GET parameter before encoding, in
	// UTF-16 code units.
	ChunkSize = 1000
	// MaxChunks caps the number of d<N> parameters.
	MaxChunks = 99
	// MaxGETURLLength is the longest GET fallback URL the client will issue.
	MaxGETURLLength = 7000
)

// Strategy names one way of delivering a save to the endpoint.
type Strategy string

const (
	StrategyForm Strategy = "form"
	StrategyJSON Strategy = "json"
	StrategyGET  Strategy = "get"
)

// Strategies lists the save strategies in the order they are tried.
var Strategies = []Strategy{StrategyForm, StrategyJSON, StrategyGET}

var successMarker = json.RawMessage(`{"ok":true}`)

// SaveResult describes the attempt that stored the record.
type SaveResult struct {
	DOI      string
	Strategy Strategy
	Response json.RawMessage
	// Substituted is set when the response body was empty or not JSON and
	// Response holds the generic success marker instead.
	Substituted bool
}

// attempt pairs a request builder with the predicate deciding success.
type attempt struct {
	strategy Strategy
	build    func(ctx context.Context, doi string, payload []byte) (*http.Request, error)
	ok       func(*http.Response) bool
}

func (c *Client) attempts() []attempt {
	return []attempt{
		{strategy: StrategyForm, build: c.formRequest, ok: succeeded},
		{strategy: StrategyJSON, build: c.jsonRequest, ok: succeeded},
		{strategy: StrategyGET, build: c.getRequest, ok: succeeded},
	}
}

// Save normalizes raw and stores it under doi (or the record's own DOI when
// doi is empty).
func (c *Client) Save(ctx context.Context, doi string, raw map[string]any) (*SaveResult, error) {
	return c.SaveRecord(ctx, models.Normalize(doi, raw))
}

// SaveJSON is Save for a JSON document. A document that is not a JSON object is
// saved as the minimal record for doi.
func (c *Client) SaveJSON(ctx context.Context, doi string, data []byte) (*SaveResult, error) {
	return c.SaveRecord(ctx, models.NormalizeJSON(doi, data))
}

// SaveRecord walks the strategy chain until one attempt gets a 2xx response.
func (c *Client) SaveRecord(ctx context.Context, rec models.Record) (*SaveResult, error) {
	doi := strings.TrimSpace(rec.DOI)
	if doi == "" {
		return nil, ErrMissingIdentifier
	}
	rec.DOI = doi

	payload, err := models.EncodeJSON(rec)
	if err != nil {
		payload, err = models.EncodeJSON(models.Minimal(doi))
		if err != nil {
			return nil, fmt.Errorf("catalog: encode record: %w", err)
		}
	}

	var failures []AttemptFailure
	for _, a := range c.attempts() {
		if err := ctx.Err(); err != nil {
			failures = append(failures, AttemptFailure{Strategy: a.strategy, Err: err})
			break
		}

		req, err := a.build(ctx, doi, payload)
		if err != nil {
			var tooLarge *PayloadTooLargeError
			if errors.As(err, &tooLarge) {
				tooLarge.Attempts = failures
				c.emit(Event{Kind: EventSkipped, Op: opSave, DOI: doi, Strategy: a.strategy, Err: err})
				return nil, tooLarge
			}
			failures = append(failures, AttemptFailure{Strategy: a.strategy, Err: err})
			c.emit(Event{Kind: EventFailure, Op: opSave, DOI: doi, Strategy: a.strategy, Err: err})
			continue
		}

		c.emit(Event{Kind: EventAttempt, Op: opSave, DOI: doi, Strategy: a.strategy, Method: req.Method, URL: req.URL.String()})
		resp, err := c.httpClient.Do(req)
		if err != nil {
			failures = append(failures, AttemptFailure{Strategy: a.strategy, Err: err})
			c.emit(Event{Kind: EventFailure, Op: opSave, DOI: doi, Strategy: a.strategy, Method: req.Method, Err: err})
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if !a.ok(resp) {
			failures = append(failures, AttemptFailure{Strategy: a.strategy, StatusCode: resp.StatusCode})
			c.emit(Event{Kind: EventFailure, Op: opSave, DOI: doi, Strategy: a.strategy, Method: req.Method, StatusCode: resp.StatusCode})
			continue
		}
		if readErr != nil {
			body = nil
		}

		c.emit(Event{Kind: EventSuccess, Op: opSave, DOI: doi, Strategy: a.strategy, Method: req.Method, StatusCode: resp.StatusCode})
		return c.saveResult(doi, a.strategy, body)
	}

	writeErr := &RemoteWriteError{DOI: doi, Attempts: failures}
	if n := len(failures); n > 0 {
		writeErr.StatusCode = failures[n-1].StatusCode
		writeErr.Err = failures[n-1].Err
	}
	return nil, writeErr
}

func (c *Client) saveResult(doi string, strategy Strategy, body []byte) (*SaveResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return &SaveResult{
			DOI:      doi,
			Strategy: strategy,
			Response: append(json.RawMessage(nil), trimmed...),
		}, nil
	}
	if c.strict && len(trimmed) > 0 {
		var v any
		err := json.Unmarshal(trimmed, &v)
		return nil, &MalformedResponseError{Strategy: strategy, Body: append([]byte(nil), trimmed...), Err: err}
	}
	return &SaveResult{
		DOI:         doi,
		Strategy:    strategy,
		Response:    append(json.RawMessage(nil), successMarker...),
		Substituted: true,
	}, nil
}

func (c *Client) formRequest(ctx context.Context, doi string, payload []byte) (*http.Request, error) {
	form := url.Values{
		"op":     {opSave},
		"doi":    {doi},
		"record": {string(payload)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	return req, nil
}

func (c *Client) jsonRequest(ctx context.Context, doi string, payload []byte) (*http.Request, error) {
	body, err := models.EncodeJSON(struct {
		Op     string          `json:"op"`
		DOI    string          `json:"doi"`
		Record json.RawMessage `json:"record"`
	}{Op: opSave, DOI: doi, Record: payload})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) getRequest(ctx context.Context, doi string, payload []byte) (*http.Request, error) {
	target, err := c.saveURL(doi, payload)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
}

// saveURL assembles the GET fallback URL. Short records travel in one data
// parameter, longer ones in d1..dN chunks.
func (c *Client) saveURL(doi string, payload []byte) (string, error) {
	var b strings.Builder
	b.WriteString(c.urlWithQuery("op=" + opSave))
	b.WriteString("&doi=")
	b.WriteString(EscapeComponent(doi))

	data := string(payload)
	if UTF16Len(data) <= InlineDataLimit {
		b.WriteString("&data=")
		b.WriteString(EscapeComponent(data))
	} else {
		for i, chunk := range SplitChunks(data, ChunkSize, MaxChunks) {
			fmt.Fprintf(&b, "&d%d=%s", i+1, EscapeComponent(chunk))
		}
	}

	target := b.String()
	if len(target) > MaxGETURLLength {
		return "", &PayloadTooLargeError{DOI: doi, URLLength: len(target), Limit: MaxGETURLLength}
	}
	return target, nil
}

var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// EscapeComponent percent-encodes s for use as one query value, leaving
// A-Z a-z 0-9 and - _ . ! ~ * ' ( ) literal and writing a space as %20.
func EscapeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

// UTF16Len returns the length of s in UTF-16 code units, so characters outside
// the Basic Multilingual Plane count twice.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

// SplitChunks cuts s into pieces of at most size UTF-16 code units, returning
// no more than limit pieces. A surrogate pair is never split, so a piece may
// be one unit short.
func SplitChunks(s string, size, limit int) []string {
	if size <= 0 || s == "" {
		return nil
	}
	var chunks []string
	for len(s) > 0 && (limit <= 0 || len(chunks) < limit) {
		end, n := 0, 0
		for end < len(s) {
			r, w := utf8.DecodeRuneInString(s[end:])
			units := runeUnits(r)
			if n+units > size && n > 0 {
				break
			}
			end += w
			n += units
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}
