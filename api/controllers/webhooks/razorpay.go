package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/covercraft/covercraft-backend/api/responses"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/logger"
	"github.com/covercraft/covercraft-backend/pkg/razorpay"
)

const maxWebhookBody = 1 << 20

// GatewayWebhookService applies a signed gateway event.
type GatewayWebhookService interface {
	HandleGatewayWebhook(ctx context.Context, rawBody []byte, signature string) error
}

// RazorpayWebhook answers 400 only for a bad signature. Once the signature
// holds, processing failures are logged and acknowledged so the gateway does
// not redeliver forever.
func RazorpayWebhook(svc GatewayWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		err = svc.HandleGatewayWebhook(ctx, payload, r.Header.Get(razorpay.SignatureHeader))
		switch {
		case err == nil:
		case pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid):
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "remote_ip", r.RemoteAddr), "razorpay webhook signature rejected")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		default:
			if logg != nil {
				logg.Error(logg.WithField(ctx, "body_bytes", len(payload)), "razorpay webhook processing failed", err)
			}
		}
		responses.WriteSuccess(w, map[string]any{"received": true})
	}
}
