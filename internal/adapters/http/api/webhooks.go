// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/okian/vitals/internal/domain/identity"
	"github.com/okian/vitals/internal/domain/model"
	"github.com/okian/vitals/internal/domain/normalize"
	"github.com/okian/vitals/pkg/metrics"
)

// WebhookDependencies defines the interface for webhook intake dependencies.
type WebhookDependencies interface {
	// KnownProvider reports whether a provider has registered mappings.
	KnownProvider(provider string) bool

	// ParseEnvelope extracts the event type and provider-side user id.
	ParseEnvelope(provider string, payload []byte) (normalize.Envelope, error)

	// ResolveUser maps a provider-side user id to an internal account.
	ResolveUser(ctx context.Context, provider, providerUserID string) (string, error)

	// AppendRawEvent persists the audit copy of a callback.
	AppendRawEvent(ctx context.Context, event *model.RawEvent) error

	// MarkRawEventFailed flips a stored event to failed with a reason.
	MarkRawEventFailed(ctx context.Context, id, reason string) error

	// Enqueue pushes a raw event id for async processing. Returns false on
	// backpressure.
	Enqueue(ctx context.Context, id string) bool
}

// WebhookHandler handles provider callback requests.
type WebhookHandler struct {
	deps            WebhookDependencies
	verifier        *Verifier
	maxBodyBytes    int64
	identityTimeout time.Duration
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(deps WebhookDependencies, verifier *Verifier, maxBodyBytes int64, identityTimeout time.Duration) *WebhookHandler {
	return &WebhookHandler{
		deps:            deps,
		verifier:        verifier,
		maxBodyBytes:    maxBodyBytes,
		identityTimeout: identityTimeout,
	}
}

// HandleWebhook handles POST /webhooks/{provider} requests.
//
// Exactly one raw event row is written per callback once the envelope has
// been read; authentication failures write nothing at all.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "api.webhook"
	receivedAt := time.Now().UTC()

	provider := chi.URLParam(r, "provider")
	if !h.deps.KnownProvider(provider) {
		http.NotFound(w, r)
		return
	}
	metrics.RecordWebhookReceived(provider)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RecordWebhookRejected(provider, "oversized")
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", WrapKind(op, ErrBadRequest, err))
			return
		}
		metrics.RecordWebhookRejected(provider, "body_read")
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	// The signature gate runs before anything is persisted. A forged
	// callback must leave no trace in the store.
	if err := h.verifier.Verify(provider, r.Header, body, receivedAt); err != nil {
		metrics.RecordWebhookRejected(provider, "invalid_signature")
		writeError(w, http.StatusUnauthorized, "invalid_signature", Wrap(op, err))
		return
	}

	event := &model.RawEvent{
		ID:         uuid.NewString(),
		Provider:   provider,
		Payload:    datatypes.JSON(body),
		Status:     model.RawEventStatusPending,
		ReceivedAt: receivedAt,
	}

	env, err := h.deps.ParseEnvelope(provider, body)
	if err != nil {
		metrics.RecordWebhookRejected(provider, "malformed_payload")
		h.storeFailed(r.Context(), event, model.FailureMalformedPayload)
		writeError(w, http.StatusBadRequest, "malformed_payload", WrapKind(op, ErrBadRequest, err))
		return
	}
	event.EventType = env.EventType

	ctx, cancel := context.WithTimeout(r.Context(), h.identityTimeout)
	userID, err := h.deps.ResolveUser(ctx, provider, env.ProviderUserID)
	cancel()
	switch {
	case errors.Is(err, identity.ErrUnknownUser):
		// The account is simply not linked. The row is kept for audit
		// and the provider is acked so it stops retrying.
		metrics.RecordWebhookRejected(provider, "unknown_user")
		h.storeFailed(r.Context(), event, model.FailureUnknownUser)
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "ignored", EventID: event.ID})
		return
	case err != nil:
		// The answer is unknown, not "no". Fail closed so the provider
		// retries once the lookup recovers.
		metrics.RecordWebhookRejected(provider, "identity_error")
		h.storeFailed(r.Context(), event, model.FailureIdentityLookup)
		writeError(w, http.StatusServiceUnavailable, "identity_unavailable", WrapKind(op, ErrUnavailable, err))
		return
	}
	event.UserID = userID

	if err := h.deps.AppendRawEvent(r.Context(), event); err != nil {
		metrics.RecordWebhookRejected(provider, "store_error")
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", WrapKind(op, ErrUnavailable, err))
		return
	}

	if ok := h.deps.Enqueue(r.Context(), event.ID); !ok {
		// The audit row stays; only the pending status is rolled back so
		// the provider's retry does not collide with a stale queue entry.
		_ = h.deps.MarkRawEventFailed(r.Context(), event.ID, model.FailureQueueFull)
		metrics.RecordWebhookRejected(provider, "queue_full")
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: event.ID})
}

// storeFailed persists a raw event that will never be processed, already
// marked failed. Storage errors here are swallowed: the HTTP status has
// been decided and an audit miss must not change it.
func (h *WebhookHandler) storeFailed(ctx context.Context, event *model.RawEvent, reason string) {
	event.Status = model.RawEventStatusFailed
	event.FailureReason = reason
	now := time.Now().UTC()
	event.ProcessedAt = &now
	_ = h.deps.AppendRawEvent(ctx, event)
}
