// Package handlers serves the inbox HTTP API.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/telhawk-systems/inbox/common/httputil"
	"github.com/telhawk-systems/inbox/common/logging"
	"github.com/telhawk-systems/inbox/common/messaging"
	"github.com/telhawk-systems/inbox/common/middleware"
	"github.com/telhawk-systems/inbox/internal/ingest"
	"github.com/telhawk-systems/inbox/internal/model"
	"github.com/telhawk-systems/inbox/internal/repository"
	"github.com/telhawk-systems/inbox/internal/service"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Inbox is the read/write API the handlers serve.
type Inbox interface {
	ListConversations(ctx context.Context) ([]model.ConversationSummary, error)
	ListMessages(ctx context.Context, counterpartyID string) ([]model.MessageRecord, error)
	SubmitOutgoingMessage(ctx context.Context, msg service.OutgoingMessage) (model.MessageRecord, error)
	Ping(ctx context.Context) error
}

// Ingester accepts webhook envelopes.
type Ingester interface {
	Ingest(ctx context.Context, env model.Envelope) (ingest.Summary, error)
	Health() ingest.Stats
}

type Handler struct {
	inbox        Inbox
	ingester     Ingester
	bus          messaging.Client
	logger       *slog.Logger
	maxBodyBytes int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithBus reports the broker connection in readiness checks.
func WithBus(c messaging.Client) Option {
	return func(h *Handler) { h.bus = c }
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithMaxBodyBytes limits request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

func NewHandler(inbox Inbox, ingester Ingester, opts ...Option) *Handler {
	h := &Handler{
		inbox:        inbox,
		ingester:     ingester,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles GET /healthz. It does not touch the store.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "healthy"}
	if h.ingester != nil {
		resp["ingest"] = h.ingester.Health()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ReadyCheck handles GET /readyz.
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	resp := map[string]any{"status": "ready", "store": "ok"}

	if err := h.inbox.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		resp["status"] = "not ready"
		resp["store"] = err.Error()
	}

	bus := messaging.CheckClientHealth(h.bus)
	resp["messaging"] = bus
	if !bus.Healthy() {
		status = http.StatusServiceUnavailable
		resp["status"] = "not ready"
	}

	httputil.WriteJSON(w, status, resp)
}

// ListConversations handles GET /conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.inbox.ListConversations(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "failed to fetch conversations", err)
		return
	}

	out := make([]conversationJSON, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, toConversationJSON(s))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// ListMessages handles GET /messages/{wa_id}.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	waID := chi.URLParam(r, "wa_id")
	if waID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "wa_id is required")
		return
	}

	records, err := h.inbox.ListMessages(r.Context(), waID)
	if err != nil {
		h.writeServiceError(w, r, "failed to fetch messages", err)
		return
	}

	out := make([]messageJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, toMessageJSON(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// SendMessage handles POST /messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req sendMessageRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := h.inbox.SubmitOutgoingMessage(r.Context(), service.OutgoingMessage{
		CounterpartyID: req.WaID,
		Body:           string(req.Text),
		DisplayName:    req.Name,
	})
	if err != nil {
		h.writeServiceError(w, r, "failed to send message", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toMessageJSON(rec))
}

// ReceiveWebhook handles POST /webhook: the body is ingested as one
// envelope and the batch summary is returned. Envelopes that fail
// processing answer 422 so senders do not retry them.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	id := middleware.GetRequestID(r.Context())
	if id == "" {
		id = uuid.NewString()
	}
	env := model.Envelope{
		ID:         "http-" + id,
		Source:     model.SourceHTTP,
		Payload:    body,
		ReceivedAt: time.Now().UTC(),
	}

	sum, err := h.ingester.Ingest(r.Context(), env)
	if err != nil {
		h.writeServiceError(w, r, "failed to ingest webhook", err)
		return
	}

	status := http.StatusOK
	if sum.Failed > 0 {
		status = http.StatusUnprocessableEntity
	}
	httputil.WriteJSON(w, status, sum)
}

// writeServiceError maps service errors onto status codes and logs
// server-side failures.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrAlreadyExists):
		httputil.WriteError(w, http.StatusConflict, msg)
	case errors.Is(err, repository.ErrStoreUnavailable):
		h.logger.ErrorContext(r.Context(), msg,
			slog.String(logging.FieldRequestID, middleware.GetRequestID(r.Context())),
			logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		h.logger.ErrorContext(r.Context(), msg,
			slog.String(logging.FieldRequestID, middleware.GetRequestID(r.Context())),
			logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, msg)
	}
}
