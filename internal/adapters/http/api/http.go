// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/vitals/internal/adapters/repository"
	"github.com/okian/vitals/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	WebhookDependencies
	QueryDependencies
	RawEventDependencies
	StatsProvider
}

// ServerConfig carries the request-shaping knobs the handlers need.
type ServerConfig struct {
	// MaxBodyBytes caps webhook payload size.
	MaxBodyBytes int64
	// IdentityTimeout bounds the identity lookup during webhook intake.
	IdentityTimeout time.Duration
	// MaxListLimit caps raw event listings.
	MaxListLimit int
	// MaxRangeDays caps timeline and session range queries.
	MaxRangeDays int
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	webhookHandler   *WebhookHandler
	queryHandler     *QueryHandler
	rawEventsHandler *RawEventsHandler
	dashboardHandler *dashboardHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, verifier *Verifier, cfg ServerConfig) *Server {
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(deps),
		webhookHandler:   NewWebhookHandler(deps, verifier, cfg.MaxBodyBytes, cfg.IdentityTimeout),
		queryHandler:     NewQueryHandler(deps, cfg.MaxRangeDays),
		rawEventsHandler: NewRawEventsHandler(deps, cfg.MaxListLimit),
		dashboardHandler: newdashboardHandler(),
	}
}

// Register attaches all HTTP routes to the router.
func (s *Server) Register(ctx context.Context, r chi.Router) {
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/metrics", s.healthHandler.HandleMetrics)
	r.Get("/dashboard", s.dashboardHandler.HandleDashboard)
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	r.Post("/webhooks/{provider}", MetricsMiddleware(s.webhookHandler.HandleWebhook, "webhooks"))

	r.Get("/v1/users/{userID}/metrics/{metricType}/best", MetricsMiddleware(s.queryHandler.HandleBestMetric, "metric_best"))
	r.Get("/v1/users/{userID}/metrics/{metricType}", MetricsMiddleware(s.queryHandler.HandleMetricTimeline, "metric_timeline"))
	r.Get("/v1/users/{userID}/sleeps", MetricsMiddleware(s.queryHandler.HandleSleeps, "sleeps"))
	r.Get("/v1/users/{userID}/activities", MetricsMiddleware(s.queryHandler.HandleActivities, "activities"))
	r.Get("/v1/users/{userID}/summary", MetricsMiddleware(s.queryHandler.HandleSummary, "summary"))

	r.Get("/v1/rawevents", MetricsMiddleware(s.rawEventsHandler.HandleList, "rawevents"))
	r.Post("/v1/rawevents/{id}/replay", MetricsMiddleware(s.rawEventsHandler.HandleReplay, "rawevents_replay"))
}

type ackResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// parseDate validates a calendar date parameter.
func parseDate(s string) (string, bool) {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		return "", false
	}
	return t.Format(model.DateLayout), true
}

// isNotFound allows the API to translate upstream not-found errors to 404.
func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
