package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// SignatureHeader carries the hex HMAC of the raw request body.
const SignatureHeader = "X-Gateway-Signature"

const maxWebhookBody = 1 << 20

// WebhookVerifier authenticates and applies gateway callbacks.
type WebhookVerifier interface {
	VerifyWebhook(ctx context.Context, signature string, rawBody []byte) (payments.WebhookResult, error)
}

// GatewayWebhook handles payment gateway callbacks. Business no-ops answer
// 200 with status "ignored" so the gateway stops retrying.
func GatewayWebhook(svc WebhookVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(SignatureHeader))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInvalidSignature, "gateway signature missing"))
			return
		}

		result, err := svc.VerifyWebhook(ctx, signature, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if result.Status == payments.WebhookIgnored && logg != nil {
			logg.Info(logg.WithField(ctx, "reason", result.Reason), "gateway webhook ignored")
		}
		responses.WriteSuccess(w, result)
	}
}
