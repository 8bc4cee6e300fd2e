package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/lehigh-university-libraries/doisync/internal/catalog"
	"github.com/lehigh-university-libraries/doisync/internal/metrics"
	"github.com/lehigh-university-libraries/doisync/internal/storage"
)

// Handler serves the record endpoint contract on top of a Store.
type Handler struct {
	store    storage.Store
	rejected map[catalog.Strategy]bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithRejected makes the endpoint answer 405 to the given save transports.
func WithRejected(strategies ...catalog.Strategy) Option {
	return func(h *Handler) {
		for _, s := range strategies {
			h.rejected[s] = true
		}
	}
}

func New(store storage.Store, opts ...Option) *Handler {
	h := &Handler{
		store:    store,
		rejected: make(map[catalog.Strategy]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ParseStrategies turns a comma-separated list such as "form,json" into
// strategies, rejecting unknown names.
func ParseStrategies(list []string) ([]catalog.Strategy, error) {
	var out []catalog.Strategy
	for _, item := range list {
		for _, name := range strings.Split(item, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			s := catalog.Strategy(name)
			switch s {
			case catalog.StrategyForm, catalog.StrategyJSON, catalog.StrategyGET:
				out = append(out, s)
			default:
				return nil, &UnknownStrategyError{Name: name}
			}
		}
	}
	return out, nil
}

// UnknownStrategyError reports a transport name that is not form, json or get.
type UnknownStrategyError struct {
	Name string
}

func (e *UnknownStrategyError) Error() string {
	return "unknown transport " + strconv.Quote(e.Name) + " (expected form, json or get)"
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	slog.Error(message, "status", code)
	http.Error(w, message, code)
}

func observe(op, transport string, code int) {
	metrics.EndpointRequests.WithLabelValues(op, transport, strconv.Itoa(code)).Inc()
}
