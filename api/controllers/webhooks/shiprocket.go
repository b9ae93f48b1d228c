package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/covercraft/covercraft-backend/api/responses"
	"github.com/covercraft/covercraft-backend/pkg/config"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/logger"
	"github.com/covercraft/covercraft-backend/pkg/shiprocket"
)

// CarrierWebhookService folds a carrier status update into the order.
type CarrierWebhookService interface {
	HandleCarrierWebhook(ctx context.Context, payload *shiprocket.WebhookPayload) error
}

// ShiprocketWebhook answers 401 when the shared secret or HMAC does not match
// and 200 for everything else, including payloads it cannot use.
func ShiprocketWebhook(cfg config.ShiprocketConfig, svc CarrierWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}
		if err := shiprocket.VerifyWebhook(cfg, r.Header, raw); err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "remote_ip", r.RemoteAddr), "shiprocket webhook authentication failed")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payload, err := shiprocket.ParseWebhook(raw)
		if err != nil {
			if logg != nil {
				logg.Error(ctx, "shiprocket webhook payload unreadable", err)
			}
			responses.WriteSuccess(w, map[string]any{"received": true})
			return
		}

		if err := svc.HandleCarrierWebhook(ctx, payload); err != nil && logg != nil {
			logg.Error(logg.WithFields(ctx, map[string]any{
				"awb":       payload.WaybillCode,
				"order_ref": payload.OrderRef,
				"status":    payload.RawStatus(),
			}), "shiprocket webhook processing failed", err)
		}
		responses.WriteSuccess(w, map[string]any{"received": true})
	}
}
