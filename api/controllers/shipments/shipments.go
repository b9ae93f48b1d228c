package shipments

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/covercraft/covercraft-backend/api/middleware"
	"github.com/covercraft/covercraft-backend/api/responses"
	"github.com/covercraft/covercraft-backend/api/validators"
	"github.com/covercraft/covercraft-backend/internal/fulfillment"
	internalorders "github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/logger"
)

type createResponse struct {
	Shipment internalorders.ShipmentDTO `json:"shipment"`
	Created  bool                       `json:"created"`
	Warnings []string                   `json:"warnings,omitempty"`
}

type courierDTO struct {
	ID            int64           `json:"courier_id"`
	Name          string          `json:"name"`
	FreightCharge decimal.Decimal `json:"freight_charge"`
	ETADays       int             `json:"eta_days"`
}

type assignRequest struct {
	CourierID int64 `json:"courier_id" validate:"min=0"`
}

func unavailable(r *http.Request, logg *logger.Logger, w http.ResponseWriter) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment orchestrator unavailable"))
}

// Create books the carrier shipment for a paid (or COD) order. Replays of an
// already booked order answer 200 with the existing shipment.
func Create(orch fulfillment.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orch == nil {
			unavailable(r, logg, w)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := orch.CreateShipment(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, createResponse{
			Shipment: internalorders.NewShipmentDTO(result.Shipment),
			Created:  result.Created,
			Warnings: result.Warnings,
		})
	}
}

// Couriers lists the carrier's serviceable couriers for the order, cheapest first.
func Couriers(orch fulfillment.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orch == nil {
			unavailable(r, logg, w)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		couriers, err := orch.RecommendedCouriers(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]courierDTO, 0, len(couriers))
		for _, c := range couriers {
			out = append(out, courierDTO{ID: c.ID, Name: c.Name, FreightCharge: c.FreightCharge, ETADays: c.ETADays})
		}
		responses.WriteSuccess(w, map[string]any{"couriers": out})
	}
}

// Assign generates the AWB. A courier_id of 0 lets the carrier pick.
func Assign(orch fulfillment.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orch == nil {
			unavailable(r, logg, w)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req assignRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		shipment, err := orch.AssignCourier(r.Context(), orderID, req.CourierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewShipmentDTO(shipment))
	}
}

type shipmentStep func(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)

func runStep(orch fulfillment.Orchestrator, logg *logger.Logger, pick func(fulfillment.Orchestrator) shipmentStep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orch == nil {
			unavailable(r, logg, w)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		shipment, err := pick(orch)(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewShipmentDTO(shipment))
	}
}

func Pickup(orch fulfillment.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return runStep(orch, logg, func(o fulfillment.Orchestrator) shipmentStep { return o.RequestPickup })
}

func Cancel(orch fulfillment.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return runStep(orch, logg, func(o fulfillment.Orchestrator) shipmentStep { return o.CancelShipment })
}

func Label(orch fulfillment.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return runStep(orch, logg, func(o fulfillment.Orchestrator) shipmentStep { return o.GenerateLabel })
}

func Manifest(orch fulfillment.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return runStep(orch, logg, func(o fulfillment.Orchestrator) shipmentStep { return o.GenerateManifest })
}

// Track returns the buyer's shipment. refresh=true pulls the carrier first.
func Track(orch fulfillment.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orch == nil {
			unavailable(r, logg, w)
			return
		}
		principal, ok := middleware.PrincipalFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refresh, err := validators.ParseQueryBool(r, "refresh")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		shipment, err := orch.Track(r.Context(), principal, orderID, refresh)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewShipmentDTO(shipment))
	}
}
