package payments

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/angelmondragon/orderflow-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/security"
)

const (
	WebhookEventCaptured = "payment.captured"
	WebhookEventFailed   = "payment.failed"

	webhookConsumer = "gateway-webhook"
)

// Webhook outcomes reported back to the gateway.
const (
	WebhookProcessed = "processed"
	WebhookIgnored   = "ignored"
)

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		IntentID      string `json:"intent_id"`
		TransactionID string `json:"transaction_id"`
		FailureReason string `json:"failure_reason"`
	} `json:"data"`
}

// WebhookResult tells the caller whether the event changed anything.
type WebhookResult struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func ignored(reason string) WebhookResult {
	return WebhookResult{Status: WebhookIgnored, Reason: reason}
}

// VerifyWebhook authenticates a gateway callback against the raw request body
// and applies it. Business no-ops (unknown payment, settled payment, replayed
// event) return an ignored result and no error.
func (r *Reconciler) VerifyWebhook(ctx context.Context, signature string, rawBody []byte) (WebhookResult, error) {
	if !security.VerifyHex(r.cfg.WebhookSecret, rawBody, signature) {
		r.logg.Warn(ctx, "webhook signature mismatch")
		return WebhookResult{}, pkgerrors.New(pkgerrors.CodeInvalidSignature, "webhook signature mismatch")
	}

	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return WebhookResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	intentID := strings.TrimSpace(event.Data.IntentID)
	if intentID == "" {
		return WebhookResult{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload missing intent id")
	}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"webhook_event_id": event.ID,
		"webhook_type":     event.Type,
		"intent_id":        intentID,
	})

	if event.Type != WebhookEventCaptured && event.Type != WebhookEventFailed {
		r.logg.Info(ctx, "webhook event type not handled")
		return ignored("unhandled event type"), nil
	}

	if r.dedupe != nil && event.ID != "" {
		seen, err := r.dedupe.CheckAndMarkProcessed(ctx, webhookConsumer, event.ID)
		if err != nil {
			r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "webhook dedupe unavailable; relying on conditional update")
		} else if seen {
			return ignored("duplicate event"), nil
		}
	}

	result, err := r.applyWebhook(ctx, event, intentID)
	if err != nil && r.dedupe != nil && event.ID != "" {
		if delErr := r.dedupe.Delete(ctx, webhookConsumer, event.ID); delErr != nil {
			r.logg.Warn(ctx, "clear webhook dedupe marker failed")
		}
	}
	return result, err
}

func (r *Reconciler) applyWebhook(ctx context.Context, event webhookEvent, intentID string) (WebhookResult, error) {
	payment, err := r.repo.FindByIntentID(ctx, intentID)
	if err != nil {
		if db.IsNotFound(err) {
			r.logg.Warn(ctx, "webhook for unknown payment")
			return ignored("unknown payment"), nil
		}
		return WebhookResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status.IsSettled() {
		return ignored("payment already settled"), nil
	}

	switch event.Type {
	case WebhookEventCaptured:
		transactionID := strings.TrimSpace(event.Data.TransactionID)
		if transactionID == "" {
			return WebhookResult{}, pkgerrors.New(pkgerrors.CodeValidation, "captured webhook missing transaction id")
		}
		_, flipped, err := r.markSucceeded(ctx, payment, transactionID, sourceWebhook)
		if err != nil {
			return WebhookResult{}, err
		}
		if !flipped {
			return ignored("payment already settled"), nil
		}
	case WebhookEventFailed:
		flipped, err := r.markFailed(ctx, payment, strings.TrimSpace(event.Data.FailureReason), sourceWebhook)
		if err != nil {
			return WebhookResult{}, err
		}
		if !flipped {
			return ignored("payment not pending"), nil
		}
	}
	return WebhookResult{Status: WebhookProcessed}, nil
}
