// Package httpapi is the HTTP surface of the match server (§6.2): health/
// bug-report intake, the live-show toggle, and Prometheus metrics. Grounded
// on the teacher's internal/api/router.go dependency-injection shape - a
// pure NewRouter function safe to exercise with httptest, with middleware
// ordering (logger, recoverer, rate limit, CORS) preserved.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"matchserver/internal/config"
	"matchserver/internal/metrics"
)

// BugReportStore is the persistence boundary §6.4 calls for; satisfied in
// production by cmd/server's adapter around *persistence.Store, faked in tests.
type BugReportStore interface {
	SaveBugReport(ctx context.Context, report BugReport) error
}

// BugReport mirrors persistence.BugReport so this package doesn't import
// persistence just to name the request shape.
type BugReport struct {
	PlayerMatchID string    `json:"playerMatchId"`
	MatchID       string    `json:"matchId"`
	Description   string    `json:"description"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// LiveAnnouncer is the narrow matchmaker capability POST /api/live drives.
type LiveAnnouncer interface {
	InformShowIsLive()
}

// RouterConfig is the dependency-injection bundle for NewRouter, following
// the teacher's testability pattern.
type RouterConfig struct {
	Store  BugReportStore
	Live   LiveAnnouncer
	Server config.ServerConfig

	RateLimiter    *IPRateLimiter
	RateLimit      config.RateLimitConfig
	DisableLogging bool
}

// NewRouter builds the chi router. Pure: no goroutines, no listeners -
// safe to wrap with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	rl := cfg.RateLimiter
	if rl == nil {
		rl = NewIPRateLimiter(cfg.RateLimit)
	}
	r.Use(rl.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Server.ClientURL, "http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &handlers{store: cfg.Store, live: cfg.Live}

	r.Route("/api", func(r chi.Router) {
		r.Post("/health", h.handleBugReport)
		r.Post("/live", h.handleShowLive)
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

type handlers struct {
	store BugReportStore
	live  LiveAnnouncer
}

// handleBugReport implements POST /api/health (§6.2): persist and return
// 200, or 400 on a missing/malformed body.
func (h *handlers) handleBugReport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BugReport BugReport `json:"bugReport"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.BugReport.Description == "" {
		metrics.RecordRequest("POST", "/api/health", "400")
		http.Error(w, "missing bugReport", http.StatusBadRequest)
		return
	}
	if body.BugReport.SubmittedAt.IsZero() {
		body.BugReport.SubmittedAt = time.Now()
	}
	if err := h.store.SaveBugReport(r.Context(), body.BugReport); err != nil {
		metrics.RecordRequest("POST", "/api/health", "500")
		http.Error(w, "failed to persist report", http.StatusInternalServerError)
		return
	}
	metrics.RecordRequest("POST", "/api/health", "200")
	w.WriteHeader(http.StatusOK)
}

// handleShowLive implements POST /api/live (§6.2): every match emits
// showIsLive to its connected sessions at once; it is not held for the next
// broadcast.
func (h *handlers) handleShowLive(w http.ResponseWriter, r *http.Request) {
	h.live.InformShowIsLive()
	metrics.RecordRequest("POST", "/api/live", "200")
	w.WriteHeader(http.StatusOK)
}
