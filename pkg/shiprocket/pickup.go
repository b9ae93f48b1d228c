package shiprocket

import (
	"context"
	"net/http"

	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
)

// Pickup is the carrier's answer to a pickup request.
type Pickup struct {
	Status        string
	ScheduledDate string
	TokenNumber   string
}

type pickupResponse struct {
	PickupStatus int `json:"pickup_status"`
	Response     struct {
		PickupScheduledDate string  `json:"pickup_scheduled_date"`
		PickupTokenNumber   string  `json:"pickup_token_number"`
		Status              flexInt `json:"status"`
		Data                string  `json:"data"`
	} `json:"response"`
	Message string `json:"message"`
}

// RequestPickup asks the assigned courier to collect the parcel.
func (c *Client) RequestPickup(ctx context.Context, shipmentID int64) (*Pickup, error) {
	if shipmentID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment id is required")
	}
	body := map[string]any{"shipment_id": []int64{shipmentID}}
	var out pickupResponse
	if err := c.call(ctx, "request_pickup", http.MethodPost, "/v1/external/courier/generate/pickup", body, &out); err != nil {
		return nil, err
	}
	if out.PickupStatus != 1 {
		msg := out.Message
		if msg == "" {
			msg = out.Response.Data
		}
		if msg == "" {
			msg = "pickup request was not accepted"
		}
		return nil, pkgerrors.New(pkgerrors.CodeCarrierRejected, msg).
			WithDetails(map[string]any{"operation": "request_pickup", "shipment_id": shipmentID})
	}
	return &Pickup{
		Status:        "scheduled",
		ScheduledDate: out.Response.PickupScheduledDate,
		TokenNumber:   out.Response.PickupTokenNumber,
	}, nil
}
