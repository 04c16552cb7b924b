// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/vitals/internal/domain/model"
)

// QueryDependencies defines the interface for read-side dependencies.
type QueryDependencies interface {
	BestMetric(ctx context.Context, userID, metricType, date string) (model.CanonicalMetric, error)
	MetricTimeline(ctx context.Context, userID, metricType, from, to string) ([]model.CanonicalMetric, error)
	SleepsInRange(ctx context.Context, userID string, from, to time.Time) ([]model.SleepSession, error)
	ActivitiesInRange(ctx context.Context, userID string, from, to time.Time) ([]model.ActivitySession, error)
	Summary(ctx context.Context, userID, date string) (model.DailySummary, error)
}

// QueryHandler handles read queries over canonical data.
type QueryHandler struct {
	deps         QueryDependencies
	maxRangeDays int
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(deps QueryDependencies, maxRangeDays int) *QueryHandler {
	return &QueryHandler{
		deps:         deps,
		maxRangeDays: maxRangeDays,
	}
}

// HandleBestMetric handles GET /v1/users/{userID}/metrics/{metricType}/best?date= requests
func (h *QueryHandler) HandleBestMetric(w http.ResponseWriter, r *http.Request) {
	const op = "api.best_metric"
	userID := chi.URLParam(r, "userID")
	metricType := chi.URLParam(r, "metricType")
	date, ok := parseDate(r.URL.Query().Get("date"))
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_date", NewKind(op, ErrBadRequest))
		return
	}
	m, err := h.deps.BestMetric(r.Context(), userID, metricType, date)
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "not_found", Wrap(op, err))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleMetricTimeline handles GET /v1/users/{userID}/metrics/{metricType}?from=&to= requests
func (h *QueryHandler) HandleMetricTimeline(w http.ResponseWriter, r *http.Request) {
	const op = "api.metric_timeline"
	userID := chi.URLParam(r, "userID")
	metricType := chi.URLParam(r, "metricType")
	from, to, err := h.dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_range", WrapKind(op, ErrBadRequest, err))
		return
	}
	points, err := h.deps.MetricTimeline(r.Context(), userID, metricType, from.Format(model.DateLayout), to.Format(model.DateLayout))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// HandleSleeps handles GET /v1/users/{userID}/sleeps?from=&to= requests
func (h *QueryHandler) HandleSleeps(w http.ResponseWriter, r *http.Request) {
	const op = "api.sleeps"
	userID := chi.URLParam(r, "userID")
	from, to, err := h.dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_range", WrapKind(op, ErrBadRequest, err))
		return
	}
	sessions, err := h.deps.SleepsInRange(r.Context(), userID, from, to.Add(24*time.Hour))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// HandleActivities handles GET /v1/users/{userID}/activities?from=&to= requests
func (h *QueryHandler) HandleActivities(w http.ResponseWriter, r *http.Request) {
	const op = "api.activities"
	userID := chi.URLParam(r, "userID")
	from, to, err := h.dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_range", WrapKind(op, ErrBadRequest, err))
		return
	}
	sessions, err := h.deps.ActivitiesInRange(r.Context(), userID, from, to.Add(24*time.Hour))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// HandleSummary handles GET /v1/users/{userID}/summary?date= requests
func (h *QueryHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	const op = "api.summary"
	userID := chi.URLParam(r, "userID")
	date, ok := parseDate(r.URL.Query().Get("date"))
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_date", NewKind(op, ErrBadRequest))
		return
	}
	s, err := h.deps.Summary(r.Context(), userID, date)
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "not_found", Wrap(op, err))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// dateRange reads and validates the from/to query pair. The bounds are
// inclusive calendar dates; callers widen `to` themselves when they need
// an exclusive timestamp bound.
func (h *QueryHandler) dateRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := time.Parse(model.DateLayout, r.URL.Query().Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, errInvalidFrom
	}
	to, err := time.Parse(model.DateLayout, r.URL.Query().Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, errInvalidTo
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errInvertedRange
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > h.maxRangeDays {
		return time.Time{}, time.Time{}, errRangeTooLarge
	}
	return from, to, nil
}
