package clerk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chatmockup/entitlementd/internal/entmetrics"
	"github.com/rs/zerolog/log"
	svix "github.com/svix/svix-webhooks/go"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Provisioner reacts to verified identity events.
type Provisioner interface {
	HandleUserCreated(ctx context.Context, user User) error
}

// WebhookHandler handles incoming Clerk webhook events. Clerk signs webhook
// deliveries with the svix scheme (svix-id, svix-timestamp, svix-signature).
type WebhookHandler struct {
	verifier    *svix.Webhook
	provisioner Provisioner
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates a Clerk webhook HTTP handler. The secret is the
// whsec_... signing secret from the Clerk dashboard.
func NewWebhookHandler(secret string, provisioner Provisioner) (*WebhookHandler, error) {
	verifier, err := svix.NewWebhook(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("parse clerk webhook secret: %w", err)
	}
	return &WebhookHandler{
		verifier:    verifier,
		provisioner: provisioner,
	}, nil
}

type webhookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ServeHTTP verifies the svix signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		entmetrics.WebhookRequestsTotal.WithLabelValues("clerk", eventType, strconv.Itoa(status)).Inc()
		entmetrics.WebhookDuration.WithLabelValues("clerk", eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, webhookErrorResponse{Error: "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	if err := h.verifier.Verify(payload, r.Header); err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "invalid webhook signature"})
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "malformed event payload"})
		return
	}
	eventType = event.Type

	if err := h.handleEvent(r.Context(), &event); err != nil {
		log.Error().Err(err).
			Str("type", event.Type).
			Msg("Clerk webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
		return
	}

	status = http.StatusOK
	writeJSON(w, status, webhookReceivedResponse{Received: true})
}

func (h *WebhookHandler) handleEvent(ctx context.Context, event *webhookEvent) error {
	switch event.Type {
	case "user.created":
		var user User
		if err := json.Unmarshal(event.Data, &user); err != nil {
			return fmt.Errorf("decode user.created: %w", err)
		}
		if strings.TrimSpace(user.ID) == "" {
			return fmt.Errorf("user.created event missing user id")
		}
		return h.provisioner.HandleUserCreated(ctx, user)

	default:
		log.Info().
			Str("type", event.Type).
			Msg("Clerk webhook ignored (unhandled type)")
		return nil
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("clerk: encode webhook response")
	}
}
