package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/doisync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEndpoint mimics the script endpoint and records which save strategies
// reached it.
type stubEndpoint struct {
	mu      sync.Mutex
	status  map[Strategy]int
	body    map[Strategy]string
	allBody string
	calls   []Strategy
	lastGET url.Values
	lastRaw string
	store   map[string]map[string]any
}

func newStubEndpoint() *stubEndpoint {
	return &stubEndpoint{
		status: map[Strategy]int{},
		body:   map[Strategy]string{},
		store:  map[string]map[string]any{},
	}
}

func (s *stubEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := r.URL.Query()
	if r.Method == http.MethodGet && q.Get("op") != "save" {
		switch q.Get("op") {
		case "all":
			_, _ = io.WriteString(w, s.allBody)
		case "byDoi":
			rec := s.store[q.Get("doi")]
			_ = json.NewEncoder(w).Encode(map[string]any{"data": rec})
		default:
			http.Error(w, "unknown op", http.StatusBadRequest)
		}
		return
	}

	var strategy Strategy
	var doi, record string
	switch {
	case r.Method == http.MethodGet:
		strategy = StrategyGET
		s.lastGET = q
		s.lastRaw = r.URL.RawQuery
		doi = q.Get("doi")
		record = q.Get("data")
		if record == "" {
			var b strings.Builder
			for i := 1; q.Has("d" + strconv.Itoa(i)); i++ {
				b.WriteString(q.Get("d" + strconv.Itoa(i)))
			}
			record = b.String()
		}
	case strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded"):
		strategy = StrategyForm
		_ = r.ParseForm()
		doi = r.PostForm.Get("doi")
		record = r.PostForm.Get("record")
	default:
		strategy = StrategyJSON
		var body struct {
			DOI    string          `json:"doi"`
			Record json.RawMessage `json:"record"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		doi = body.DOI
		record = string(body.Record)
	}
	s.calls = append(s.calls, strategy)

	if code, ok := s.status[strategy]; ok && code != http.StatusOK {
		w.WriteHeader(code)
		return
	}
	var rec map[string]any
	_ = json.Unmarshal([]byte(record), &rec)
	s.store[doi] = rec
	if body, ok := s.body[strategy]; ok {
		_, _ = io.WriteString(w, body)
		return
	}
	_, _ = io.WriteString(w, `{"ok":true,"doi":"`+doi+`"}`)
}

func (s *stubEndpoint) strategies() []Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Strategy(nil), s.calls...)
}

func newTestClient(t *testing.T, stub *stubEndpoint, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL+"/exec", opts...)
	require.NoError(t, err)
	return client
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)

	_, err = NewClient("/relative/path")
	require.Error(t, err)

	c, err := NewClient("https://script.example.com/macros/s/abc/exec")
	require.NoError(t, err)
	assert.Equal(t, "https://script.example.com/macros/s/abc/exec", c.Endpoint())
}

func TestSaveThenFetchByKey(t *testing.T) {
	stub := newStubEndpoint()
	client := newTestClient(t, stub)
	ctx := context.Background()

	res, err := client.Save(ctx, "", map[string]any{
		"doi":      " 10.1/a ",
		"title":    "Only Title",
		"folder":   "reading",
		"notes":    []any{"first"},
		"glossary": "wrong type",
		"details":  map[string]any{"pages": float64(12)},
		"extra":    "dropped",
	})
	require.NoError(t, err)
	assert.Equal(t, StrategyForm, res.Strategy)
	assert.Equal(t, "10.1/a", res.DOI)
	assert.False(t, res.Substituted)

	rec, err := client.FetchByKey(ctx, "10.1/a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "10.1/a", rec["DOI"])
	assert.Equal(t, []any{"Only Title"}, rec["title"])
	assert.Equal(t, "reading", rec["folder"])
	assert.Equal(t, []any{"first"}, rec["notes"])
	assert.Equal(t, map[string]any{"pages": float64(12)}, rec["details"])
	assert.Contains(t, rec, "abstract")
	assert.Nil(t, rec["abstract"])
	assert.NotContains(t, rec, "glossary")
	assert.NotContains(t, rec, "varData")
	assert.NotContains(t, rec, "extra")
}

func TestSaveFallsBackToJSON(t *testing.T) {
	stub := newStubEndpoint()
	stub.status[StrategyForm] = http.StatusInternalServerError
	client := newTestClient(t, stub)

	res, err := client.Save(context.Background(), "10.1/b", map[string]any{"title": []any{"B"}})
	require.NoError(t, err)
	assert.Equal(t, StrategyJSON, res.Strategy)
	assert.Equal(t, []Strategy{StrategyForm, StrategyJSON}, stub.strategies())
}

func TestSaveFallsBackToGETWithChunks(t *testing.T) {
	stub := newStubEndpoint()
	stub.status[StrategyForm] = http.StatusMethodNotAllowed
	stub.status[StrategyJSON] = http.StatusUnsupportedMediaType
	client := newTestClient(t, stub)

	rec := map[string]any{"DOI": "10.1/long", "abstract": strings.Repeat("abcdefghij", 250)}
	res, err := client.Save(context.Background(), "", rec)
	require.NoError(t, err)
	assert.Equal(t, StrategyGET, res.Strategy)
	assert.Equal(t, Strategies, stub.strategies())

	q := stub.lastGET
	assert.Equal(t, "save", q.Get("op"))
	assert.Equal(t, "10.1/long", q.Get("doi"))
	assert.False(t, q.Has("data"))

	var keys []int
	for key := range q {
		if strings.HasPrefix(key, "d") && key != "doi" && key != "data" {
			n, err := strconv.Atoi(key[1:])
			require.NoError(t, err)
			keys = append(keys, n)
		}
	}
	sort.Ints(keys)
	require.Greater(t, len(keys), 1)

	var joined strings.Builder
	for i, n := range keys {
		assert.Equal(t, i+1, n)
		chunk := q.Get("d" + strconv.Itoa(n))
		assert.LessOrEqual(t, UTF16Len(chunk), ChunkSize)
		joined.WriteString(chunk)
	}

	expected, err := json.Marshal(map[string]any{"DOI": "10.1/long", "abstract": rec["abstract"], "title": []string{}})
	require.NoError(t, err)
	assert.JSONEq(t, string(expected), joined.String())
}

func TestSaveShortRecordUsesDataParameter(t *testing.T) {
	stub := newStubEndpoint()
	stub.status[StrategyForm] = http.StatusBadRequest
	stub.status[StrategyJSON] = http.StatusBadRequest
	client := newTestClient(t, stub)

	_, err := client.Save(context.Background(), "10.1/short", map[string]any{"title": "S"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"DOI":"10.1/short","title":["S"],"abstract":null}`, stub.lastGET.Get("data"))
	assert.False(t, stub.lastGET.Has("d1"))
}

func TestSavePayloadTooLarge(t *testing.T) {
	stub := newStubEndpoint()
	stub.status[StrategyForm] = http.StatusInternalServerError
	stub.status[StrategyJSON] = http.StatusInternalServerError
	client := newTestClient(t, stub)

	_, err := client.Save(context.Background(), "10.1/huge", map[string]any{"abstract": strings.Repeat("x", 8000)})
	require.Error(t, err)

	var tooLarge *PayloadTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Greater(t, tooLarge.URLLength, MaxGETURLLength)
	assert.Len(t, tooLarge.Attempts, 2)
	assert.Equal(t, []Strategy{StrategyForm, StrategyJSON}, stub.strategies())
}

func TestSaveGETEncodesSpacesAsPercent20(t *testing.T) {
	stub := newStubEndpoint()
	stub.status[StrategyForm] = http.StatusBadRequest
	stub.status[StrategyJSON] = http.StatusBadRequest
	client := newTestClient(t, stub)

	_, err := client.Save(context.Background(), "10.1/sp ace", map[string]any{"title": "A (short) title!"})
	require.NoError(t, err)

	raw := stub.lastRaw
	assert.Contains(t, raw, "doi=10.1%2Fsp%20ace")
	assert.Contains(t, raw, "A%20(short)%20title!")
	assert.NotContains(t, raw, "+")
	assert.Equal(t, "10.1/sp ace", stub.lastGET.Get("doi"))
}

func TestSaveSpacesCountTowardsURLBudget(t *testing.T) {
	stub := newStubEndpoint()
	stub.status[StrategyForm] = http.StatusInternalServerError
	stub.status[StrategyJSON] = http.StatusInternalServerError
	client := newTestClient(t, stub)

	_, err := client.Save(context.Background(), "10.1/spaces", map[string]any{"abstract": strings.Repeat(" ", 2400)})

	var tooLarge *PayloadTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Greater(t, tooLarge.URLLength, 7200)
	assert.Equal(t, []Strategy{StrategyForm, StrategyJSON}, stub.strategies())
}

// paddedAbstract returns a record whose JSON encoding is exactly size UTF-16
// code units long.
func paddedAbstract(t *testing.T, doi string, size int) map[string]any {
	t.Helper()
	base, err := models.EncodeJSON(models.Normalize(doi, map[string]any{"abstract": ""}))
	require.NoError(t, err)
	pad := size - UTF16Len(string(base))
	require.GreaterOrEqual(t, pad, 0)

	rec := map[string]any{"abstract": strings.Repeat("x", pad)}
	encoded, err := models.EncodeJSON(models.Normalize(doi, rec))
	require.NoError(t, err)
	require.Equal(t, size, UTF16Len(string(encoded)))
	return rec
}

func TestSaveInlineDataThreshold(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		inline bool
		chunks int
	}{
		{name: "at limit", size: InlineDataLimit, inline: true},
		{name: "one over limit", size: InlineDataLimit + 1, chunks: 2},
		{name: "two full chunks", size: 2 * ChunkSize, chunks: 2},
		{name: "one past two chunks", size: 2*ChunkSize + 1, chunks: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStubEndpoint()
			stub.status[StrategyForm] = http.StatusBadRequest
			stub.status[StrategyJSON] = http.StatusBadRequest
			client := newTestClient(t, stub)

			_, err := client.Save(context.Background(), "10.1/edge", paddedAbstract(t, "10.1/edge", tt.size))
			require.NoError(t, err)

			q := stub.lastGET
			assert.Equal(t, tt.inline, q.Has("data"))
			for i := 1; i <= tt.chunks; i++ {
				assert.True(t, q.Has("d"+strconv.Itoa(i)), "missing d%d", i)
			}
			assert.False(t, q.Has("d"+strconv.Itoa(tt.chunks+1)))
		})
	}
}

// getURLLength reports the GET fallback URL length for a record padded with
// pad characters, whether or not it fits the budget.
func getURLLength(t *testing.T, client *Client, doi string, pad int) int {
	t.Helper()
	payload, err := models.EncodeJSON(models.Normalize(doi, map[string]any{"abstract": strings.Repeat("x", pad)}))
	require.NoError(t, err)
	target, err := client.saveURL(doi, payload)
	var tooLarge *PayloadTooLargeError
	if errors.As(err, &tooLarge) {
		return tooLarge.URLLength
	}
	require.NoError(t, err)
	return len(target)
}

func TestSaveURLLengthThreshold(t *testing.T) {
	const doi = "10.1/budget"
	stub := newStubEndpoint()
	stub.status[StrategyForm] = http.StatusInternalServerError
	stub.status[StrategyJSON] = http.StatusInternalServerError
	client := newTestClient(t, stub)

	pad := -1
	for p := 5000; p < 8000; p++ {
		if getURLLength(t, client, doi, p) == MaxGETURLLength {
			pad = p
			break
		}
	}
	require.NotEqual(t, -1, pad, "no record produces a URL of exactly %d characters", MaxGETURLLength)
	require.Equal(t, MaxGETURLLength+1, getURLLength(t, client, doi, pad+1))

	tests := []struct {
		name     string
		pad      int
		issued   bool
		expected []Strategy
	}{
		{name: "exactly at budget", pad: pad, issued: true, expected: Strategies},
		{name: "one over budget", pad: pad + 1, expected: []Strategy{StrategyForm, StrategyJSON}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub.mu.Lock()
			stub.calls = nil
			stub.mu.Unlock()

			res, err := client.Save(context.Background(), doi, map[string]any{"abstract": strings.Repeat("x", tt.pad)})
			if tt.issued {
				require.NoError(t, err)
				assert.Equal(t, StrategyGET, res.Strategy)
			} else {
				var tooLarge *PayloadTooLargeError
				require.ErrorAs(t, err, &tooLarge)
				assert.Equal(t, MaxGETURLLength+1, tooLarge.URLLength)
			}
			assert.Equal(t, tt.expected, stub.strategies())
		})
	}
}

func TestEscapeComponent(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"a b", "a%20b"},
		{"a+b", "a%2Bb"},
		{"!'()*", "!'()*"},
		{"-_.~", "-_.~"},
		{"10.1/x?y=z&w", "10.1%2Fx%3Fy%3Dz%26w"},
		{`{"k":"é"}`, "%7B%22k%22%3A%22%C3%A9%22%7D"},
		{"%2A", "%252A"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, EscapeComponent(tt.input))
		})
	}
}

func TestUTF16Len(t *testing.T) {
	assert.Equal(t, 3, UTF16Len("abc"))
	assert.Equal(t, 2, UTF16Len("àè"))
	assert.Equal(t, 2, UTF16Len("😀"))
	assert.Equal(t, 4, UTF16Len("a😀b"))
}

func TestSaveAllAttemptsFail(t *testing.T) {
	stub := newStubEndpoint()
	stub.status[StrategyForm] = http.StatusInternalServerError
	stub.status[StrategyJSON] = http.StatusBadGateway
	stub.status[StrategyGET] = http.StatusServiceUnavailable
	client := newTestClient(t, stub)

	_, err := client.Save(context.Background(), "10.1/c", nil)
	require.Error(t, err)

	var writeErr *RemoteWriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, http.StatusServiceUnavailable, writeErr.StatusCode)
	require.Len(t, writeErr.Attempts, 3)
	assert.Equal(t, StrategyGET, writeErr.Attempts[2].Strategy)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestSaveTransportFailuresFallThrough(t *testing.T) {
	errRefused := errors.New("connection refused")
	var methods []string
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodPost {
			return nil, errRefused
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     http.Header{},
			Request:    r,
		}, nil
	})

	client, err := NewClient("https://script.example.com/exec", WithHTTPClient(&http.Client{Transport: transport}))
	require.NoError(t, err)

	res, err := client.Save(context.Background(), "10.1/d", nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyGET, res.Strategy)
	assert.True(t, res.Substituted)
	assert.JSONEq(t, `{"ok":true}`, string(res.Response))
	assert.Equal(t, []string{http.MethodPost, http.MethodPost, http.MethodGet}, methods)
}

func TestSaveTransportFailureSurfacesLastError(t *testing.T) {
	errDown := errors.New("network down")
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errDown
	})
	client, err := NewClient("https://script.example.com/exec", WithHTTPClient(&http.Client{Transport: transport}))
	require.NoError(t, err)

	_, err = client.Save(context.Background(), "10.1/e", nil)
	var writeErr *RemoteWriteError
	require.True(t, errors.As(err, &writeErr))
	assert.ErrorIs(t, err, errDown)
	assert.Len(t, writeErr.Attempts, 3)
}

func TestSaveResponseBodies(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		strict      bool
		substituted bool
		malformed   bool
	}{
		{name: "json body is returned", body: `{"ok":true,"rev":3}`},
		{name: "empty body is substituted", body: "", substituted: true},
		{name: "html body is substituted", body: "<html>ok</html>", substituted: true},
		{name: "empty body is substituted in strict mode", body: "", strict: true, substituted: true},
		{name: "html body fails in strict mode", body: "<html>ok</html>", strict: true, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStubEndpoint()
			stub.body[StrategyForm] = tt.body
			var opts []Option
			if tt.strict {
				opts = append(opts, WithStrictResponses())
			}
			client := newTestClient(t, stub, opts...)

			res, err := client.Save(context.Background(), "10.1/f", nil)
			if tt.malformed {
				var malformed *MalformedResponseError
				require.True(t, errors.As(err, &malformed))
				assert.Equal(t, StrategyForm, malformed.Strategy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.substituted, res.Substituted)
			if tt.substituted {
				assert.JSONEq(t, `{"ok":true}`, string(res.Response))
			} else {
				assert.JSONEq(t, tt.body, string(res.Response))
			}
		})
	}
}

func TestSaveMissingIdentifier(t *testing.T) {
	stub := newStubEndpoint()
	client := newTestClient(t, stub)

	_, err := client.Save(context.Background(), "  ", map[string]any{"title": "no id"})
	require.ErrorIs(t, err, ErrMissingIdentifier)
	assert.Empty(t, stub.strategies())
}

func TestFetchAll(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected int
		doi      string
	}{
		{name: "envelope is unwrapped", body: `{"data":{"10.1/a":{"DOI":"10.1/a"}}}`, expected: 1, doi: "10.1/a"},
		{name: "bare mapping is kept", body: `{"10.1/a":{"DOI":"10.1/a"},"10.1/b":{"DOI":"10.1/b"}}`, expected: 2, doi: "10.1/b"},
		{name: "null data uses whole payload", body: `{"data":null,"10.1/c":{"DOI":"10.1/c"}}`, expected: 1, doi: "10.1/c"},
		{name: "null payload is empty", body: `null`, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStubEndpoint()
			stub.allBody = tt.body
			client := newTestClient(t, stub)

			coll, err := client.FetchAll(context.Background())
			require.NoError(t, err)
			assert.Len(t, coll, tt.expected)
			if tt.doi != "" {
				assert.Equal(t, tt.doi, coll[tt.doi]["DOI"])
			}
		})
	}
}

func TestFetchAllReadErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.FetchAll(context.Background())
	var readErr *RemoteReadError
	require.True(t, errors.As(err, &readErr))
	assert.Equal(t, "all", readErr.Op)
	assert.Equal(t, http.StatusInternalServerError, readErr.StatusCode)

	_, err = client.FetchByKey(context.Background(), "10.1/a")
	require.True(t, errors.As(err, &readErr))
	assert.Equal(t, "byDoi", readErr.Op)
}

func TestFetchByKeyMissingRecord(t *testing.T) {
	stub := newStubEndpoint()
	client := newTestClient(t, stub)

	rec, err := client.FetchByKey(context.Background(), "10.1/none")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestReadsCarryCacheBuster(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		_, _ = io.WriteString(w, `{"data":null}`)
	}))
	defer srv.Close()

	fixed := time.UnixMilli(1700000000123)
	client, err := NewClient(srv.URL+"/exec?key=v", WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	_, err = client.FetchByKey(context.Background(), "10.1/a b")
	require.NoError(t, err)
	assert.Equal(t, "1700000000123", got.Get("_"))
	assert.Equal(t, "10.1/a b", got.Get("doi"))
	assert.Equal(t, "v", got.Get("key"))
}

func TestObserverSeesEveryAttempt(t *testing.T) {
	stub := newStubEndpoint()
	stub.status[StrategyForm] = http.StatusInternalServerError
	var events []Event
	client := newTestClient(t, stub, WithObserver(func(ev Event) { events = append(events, ev) }))

	_, err := client.Save(context.Background(), "10.1/g", nil)
	require.NoError(t, err)

	var kinds []EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventAttempt, EventFailure, EventAttempt, EventSuccess}, kinds)
	assert.Equal(t, StrategyJSON, events[3].Strategy)
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		size     int
		limit    int
		expected []string
	}{
		{name: "even split", input: "abcdef", size: 2, expected: []string{"ab", "cd", "ef"}},
		{name: "remainder", input: "abcde", size: 2, expected: []string{"ab", "cd", "e"}},
		{name: "multibyte runes stay whole", input: "àèìòù", size: 2, expected: []string{"àè", "ìò", "ù"}},
		{name: "surrogate pairs count twice", input: "ab😀c", size: 2, expected: []string{"ab", "😀", "c"}},
		{name: "surrogate pair never split", input: "a😀b", size: 2, expected: []string{"a", "😀", "b"}},
		{name: "limit caps chunks", input: "abcdef", size: 1, limit: 2, expected: []string{"a", "b"}},
		{name: "empty input", input: "", size: 3, expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitChunks(tt.input, tt.size, tt.limit))
		})
	}
}
