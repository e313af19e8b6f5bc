package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/fuomag9/schedsync/internal/webhook"
)

const maxWebhookBody = 1 << 20

// EventApplier applies a verified webhook event
type EventApplier interface {
	Apply(ctx context.Context, eventType string, payload json.RawMessage) error
}

type webhookEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// HandleCalendlyWebhook verifies and applies provider webhook deliveries.
// Once the signature checks out the delivery is always acknowledged.
func HandleCalendlyWebhook(verifier *webhook.Verifier, applier EventApplier, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "Payload too large")
				return
			}
			writeError(w, http.StatusBadRequest, "Failed to read body")
			return
		}

		if !verifier.Verify(body, r.Header.Get(webhook.SignatureHeader)) {
			logger.Warn("rejected webhook with invalid signature", zap.String("remote_addr", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}

		var envelope webhookEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			logger.Error("failed to decode webhook envelope", zap.Error(err))
		} else if err := applier.Apply(r.Context(), envelope.Event, envelope.Payload); err != nil {
			// already logged by the applier; the provider must not retry
			logger.Debug("webhook event not applied", zap.String("event_type", envelope.Event))
		}

		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}
