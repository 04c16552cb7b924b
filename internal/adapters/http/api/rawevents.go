// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/vitals/internal/adapters/repository"
	"github.com/okian/vitals/internal/domain/model"
)

// defaultListLimit applies when the limit query parameter is absent.
const defaultListLimit = 100

// RawEventDependencies defines the interface for raw event operator endpoints.
type RawEventDependencies interface {
	// ListRawEvents returns stored events, newest first. Empty status or
	// provider means no filter.
	ListRawEvents(ctx context.Context, status, provider string, limit int) ([]model.RawEvent, error)

	// ResetRawEventForReplay flips a settled event back to pending.
	ResetRawEventForReplay(ctx context.Context, id string) error

	// MarkRawEventFailed flips a stored event to failed with a reason.
	MarkRawEventFailed(ctx context.Context, id, reason string) error

	// Enqueue pushes a raw event id for async processing. Returns false on
	// backpressure.
	Enqueue(ctx context.Context, id string) bool
}

// RawEventsHandler handles raw event inspection and replay requests.
type RawEventsHandler struct {
	deps     RawEventDependencies
	maxLimit int
}

// NewRawEventsHandler creates a new raw events handler.
func NewRawEventsHandler(deps RawEventDependencies, maxLimit int) *RawEventsHandler {
	return &RawEventsHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleList handles GET /v1/rawevents?status=&provider=&limit= requests
func (h *RawEventsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_rawevents"
	status := r.URL.Query().Get("status")
	switch status {
	case "", model.RawEventStatusPending, model.RawEventStatusProcessed, model.RawEventStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "bad_status", NewKind(op, ErrBadRequest))
		return
	}
	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_limit", NewKind(op, ErrBadRequest))
			return
		}
		limit = n
	}
	if limit > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
		return
	}
	events, err := h.deps.ListRawEvents(r.Context(), status, r.URL.Query().Get("provider"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// HandleReplay handles POST /v1/rawevents/{id}/replay requests
//
// Replay is the recovery path for failed events: once a mapping or a
// connection exists, the stored payload runs through the pipeline again.
func (h *RawEventsHandler) HandleReplay(w http.ResponseWriter, r *http.Request) {
	const op = "api.replay_rawevent"
	id := chi.URLParam(r, "id")
	err := h.deps.ResetRawEventForReplay(r.Context(), id)
	switch {
	case isNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", Wrap(op, err))
		return
	case errors.Is(err, repository.ErrNotReplayable):
		writeError(w, http.StatusConflict, "not_replayable", Wrap(op, err))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	if ok := h.deps.Enqueue(r.Context(), id); !ok {
		// Back to failed so a later replay attempt is not rejected as
		// already pending.
		_ = h.deps.MarkRawEventFailed(r.Context(), id, model.FailureQueueFull)
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "requeued", EventID: id})
}
