package orders

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/covercraft/covercraft-backend/api/responses"
	"github.com/covercraft/covercraft-backend/api/validators"
	internalorders "github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/internal/reconciliation"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/logger"
)

// AdminList pages through every order of one kind, optionally filtered by
// status and buyer.
func AdminList(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		filter, err := adminFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListAll(r.Context(), filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderPage(page))
	}
}

func adminFilter(r *http.Request) (internalorders.ListFilter, error) {
	q := r.URL.Query()
	filter := internalorders.ListFilter{Kind: enums.OrderKindStandard}
	if raw := strings.TrimSpace(q.Get("kind")); raw != "" {
		kind, err := enums.ParseOrderKind(strings.ToLower(raw))
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind filter")
		}
		filter.Kind = kind
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(filter.Kind, strings.ToLower(raw))
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(q.Get("user_id")); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id filter")
		}
		filter.UserID = &userID
	}
	return filter, nil
}

// AdminUpdateStatus applies a manual lifecycle step, e.g. approving a custom order.
func AdminUpdateStatus(engine reconciliation.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation engine unavailable"))
			return
		}
		principal, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req statusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := engine.UpdateStatus(r.Context(), principal, orderID, reconciliation.StatusInput{
			Status: enums.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
			Note:   validators.SanitizeString(req.Note, 1000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderDTO(order))
	}
}

// AdminRetryRefund pushes a failed or pending refund again.
func AdminRetryRefund(engine reconciliation.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation engine unavailable"))
			return
		}
		principal, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := engine.RetryRefund(r.Context(), principal, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderDTO(order))
	}
}

// AdminDelete physically removes an order that never saw money or a shipment.
func AdminDelete(engine reconciliation.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation engine unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := engine.Delete(r.Context(), orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": orderID, "deleted": true})
	}
}
