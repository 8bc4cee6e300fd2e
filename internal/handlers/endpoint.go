package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lehigh-university-libraries/doisync/internal/catalog"
	"github.com/lehigh-university-libraries/doisync/internal/metrics"
	"github.com/lehigh-university-libraries/doisync/internal/models"
)

const maxBodyBytes = 10 << 20

// HandleEndpoint serves GET ?op=all|byDoi|save and POST saves in JSON or form
// encoding.
func (h *Handler) HandleEndpoint(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodPost:
		h.handlePost(w, r)
	default:
		observe("", "", http.StatusMethodNotAllowed)
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	op := q.Get("op")

	switch op {
	case "all":
		all, err := h.store.All(r.Context())
		if err != nil {
			observe(op, "get", http.StatusInternalServerError)
			h.writeError(w, "Failed to list records: "+err.Error(), http.StatusInternalServerError)
			return
		}
		observe(op, "get", http.StatusOK)
		h.writeJSON(w, map[string]any{"data": all})
	case "byDoi":
		doi := strings.TrimSpace(q.Get("doi"))
		if doi == "" {
			observe(op, "get", http.StatusBadRequest)
			h.writeError(w, "doi is required", http.StatusBadRequest)
			return
		}
		rec, ok, err := h.store.Get(r.Context(), doi)
		if err != nil {
			observe(op, "get", http.StatusInternalServerError)
			h.writeError(w, "Failed to read record: "+err.Error(), http.StatusInternalServerError)
			return
		}
		observe(op, "get", http.StatusOK)
		if !ok {
			h.writeJSON(w, map[string]any{"data": nil})
			return
		}
		h.writeJSON(w, map[string]any{"data": rec})
	case "save":
		h.save(w, r, catalog.StrategyGET, q.Get("doi"), joinDataParams(q))
	default:
		observe(op, "get", http.StatusBadRequest)
		h.writeError(w, "Unknown op: "+op, http.StatusBadRequest)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if mediaType == "application/x-www-form-urlencoded" {
		data, err := io.ReadAll(body)
		if err != nil {
			observe("save", string(catalog.StrategyForm), http.StatusBadRequest)
			h.writeError(w, "Invalid form body: "+err.Error(), http.StatusBadRequest)
			return
		}
		form, err := url.ParseQuery(string(data))
		if err != nil {
			observe("save", string(catalog.StrategyForm), http.StatusBadRequest)
			h.writeError(w, "Invalid form body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if op := form.Get("op"); op != "save" {
			observe(op, string(catalog.StrategyForm), http.StatusBadRequest)
			h.writeError(w, "Unknown op: "+op, http.StatusBadRequest)
			return
		}
		h.save(w, r, catalog.StrategyForm, form.Get("doi"), form.Get("record"))
		return
	}

	var payload struct {
		Op     string          `json:"op"`
		DOI    string          `json:"doi"`
		Record json.RawMessage `json:"record"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		observe("save", string(catalog.StrategyJSON), http.StatusBadRequest)
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if payload.Op != "save" {
		observe(payload.Op, string(catalog.StrategyJSON), http.StatusBadRequest)
		h.writeError(w, "Unknown op: "+payload.Op, http.StatusBadRequest)
		return
	}
	h.save(w, r, catalog.StrategyJSON, payload.DOI, string(payload.Record))
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, transport catalog.Strategy, doi, record string) {
	label := string(transport)
	if h.rejected[transport] {
		observe("save", label, http.StatusMethodNotAllowed)
		h.writeError(w, "Transport not accepted: "+label, http.StatusMethodNotAllowed)
		return
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(record), &raw); err != nil || raw == nil {
		observe("save", label, http.StatusBadRequest)
		h.writeError(w, "record must be a JSON object", http.StatusBadRequest)
		return
	}
	rec := models.Normalize(doi, raw)
	if rec.DOI == "" {
		observe("save", label, http.StatusBadRequest)
		h.writeError(w, "doi is required", http.StatusBadRequest)
		return
	}

	if err := h.store.Put(r.Context(), rec.DOI, rec.Map()); err != nil {
		observe("save", label, http.StatusInternalServerError)
		h.writeError(w, "Failed to store record: "+err.Error(), http.StatusInternalServerError)
		return
	}

	observe("save", label, http.StatusOK)
	metrics.RecordsSaved.WithLabelValues(label).Inc()
	slog.Info("Record saved", "doi", rec.DOI, "transport", label)
	h.writeJSON(w, map[string]any{"ok": true, "doi": rec.DOI})
}

// joinDataParams returns the data parameter, or the d1..dN chunks joined in
// numeric order.
func joinDataParams(q url.Values) string {
	if q.Has("data") {
		return q.Get("data")
	}
	var b strings.Builder
	for i := 1; i <= catalog.MaxChunks; i++ {
		key := "d" + strconv.Itoa(i)
		if !q.Has(key) {
			break
		}
		b.WriteString(q.Get(key))
	}
	return b.String()
}
