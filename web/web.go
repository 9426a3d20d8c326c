// Package web exposes the archive over HTTP: subscription management as
// JSON, archived feeds as canonical XML, plus health and metrics endpoints.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/feedvault/feedvault/adapters/metrics"
	"github.com/feedvault/feedvault/app"
	"github.com/feedvault/feedvault/domain/schema"
	"github.com/feedvault/feedvault/domain/subscribe"
	"github.com/feedvault/feedvault/ports"
)

// Deps contains dependencies for the HTTP handler.
type Deps struct {
	Archiver    *app.Archiver
	Logger      zerolog.Logger
	Metrics     *metrics.Collector // nil disables the /metrics endpoint
	MetricsPath string
}

// Handler serves the archive API.
type Handler struct {
	archiver *app.Archiver
	logger   zerolog.Logger
	metrics  *metrics.Collector
	start    time.Time
}

// NewHandler builds the router with all endpoints mounted.
func NewHandler(deps Deps) http.Handler {
	h := &Handler{
		archiver: deps.Archiver,
		logger:   deps.Logger.With().Str("component", "web").Logger(),
		metrics:  deps.Metrics,
		start:    time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.observe)

	r.Get("/healthz", h.health)
	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, promhttp.Handler())
	}

	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/", h.listSubscriptions)
		r.Post("/", h.subscribe)
		r.Delete("/", h.unsubscribe)
	})
	r.Route("/feeds", func(r chi.Router) {
		r.Get("/", h.listFeeds)
		r.Get("/{feedID}", h.getFeed)
		r.Post("/{feedID}/entries/{entryID}/read", h.markRead)
		r.Post("/{feedID}/entries/{entryID}/starred", h.markStarred)
	})

	return r
}

// observe records request counters and durations per route pattern.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		status := strconv.Itoa(ww.Status())
		h.metrics.RequestsTotal.WithLabelValues(r.Method, pattern, status).Inc()
		h.metrics.RequestDuration.WithLabelValues(r.Method, pattern, status).
			Observe(time.Since(start).Seconds())
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"session": h.archiver.Stage().Session().Identifier(),
		"uptime":  time.Since(h.start).String(),
	})
}

// subscriptionJSON is the wire shape of one subscription.
type subscriptionJSON struct {
	Label    string `json:"label"`
	FeedURI  string `json:"feed_uri"`
	SiteURI  string `json:"site_uri,omitempty"`
	FeedID   string `json:"feed_id"`
	Category string `json:"category,omitempty"`
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	list, err := h.archiver.SubscriptionList(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	subs := collectSubscriptions(list.Set(), "", nil)
	if subs == nil {
		subs = []subscriptionJSON{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"title":         list.Title(),
		"subscriptions": subs,
	})
}

// collectSubscriptions flattens the outline tree, tagging nested entries with
// their category label.
func collectSubscriptions(set subscribe.Set, category string, out []subscriptionJSON) []subscriptionJSON {
	for _, s := range set.Subscriptions() {
		out = append(out, subscriptionJSON{
			Label:    s.Label(),
			FeedURI:  s.FeedURI(),
			SiteURI:  s.SiteURI(),
			FeedID:   s.FeedID(),
			Category: category,
		})
	}
	for _, c := range set.Categories() {
		out = collectSubscriptions(c.Set, c.Label(), out)
	}
	return out
}

type subscribeRequest struct {
	Label    string `json:"label"`
	FeedURI  string `json:"feed_uri"`
	SiteURI  string `json:"site_uri"`
	Category string `json:"category"`
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.FeedURI == "" {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "feed_uri is required"})
		return
	}
	id, err := h.archiver.Subscribe(r.Context(), req.Label, req.FeedURI, req.SiteURI, req.Category)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"feed_id": id})
}

func (h *Handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("feed_uri")
	if uri == "" {
		h.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "feed_uri query parameter is required"})
		return
	}
	if err := h.archiver.Unsubscribe(r.Context(), uri); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listFeeds(w http.ResponseWriter, r *http.Request) {
	ids, err := h.archiver.FeedIDs(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"feeds": ids})
}

func (h *Handler) getFeed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "feedID")
	f, err := h.archiver.Feed(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	if err := schema.Write(w, f.Element()); err != nil {
		h.logger.Error().Err(err).Str("feed", id).Msg("serialize feed")
	}
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, h.archiver.MarkRead)
}

func (h *Handler) markStarred(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, h.archiver.MarkStarred)
}

func (h *Handler) mark(w http.ResponseWriter, r *http.Request,
	set func(ctx context.Context, feedID, entryID string, v bool) error) {
	feedID := chi.URLParam(r, "feedID")
	entryID := chi.URLParam(r, "entryID")
	value := r.URL.Query().Get("value") != "false"
	if err := set(r.Context(), feedID, entryID, value); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("encode response")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ports.ErrNotFound), errors.Is(err, app.ErrNotSubscribed):
		h.respondJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
