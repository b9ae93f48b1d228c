package shiprocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
)

// Courier is a serviceable courier for a shipment. FreightCharge is in rupees.
type Courier struct {
	ID            int64           `json:"courierId"`
	Name          string          `json:"name"`
	FreightCharge decimal.Decimal `json:"freightCharge"`
	ETADays       int             `json:"etaDays"`
}

type serviceabilityResponse struct {
	Data struct {
		Available []struct {
			CourierCompanyID      flexInt         `json:"courier_company_id"`
			CourierName           string          `json:"courier_name"`
			FreightCharge         decimal.Decimal `json:"freight_charge"`
			EstimatedDeliveryDays flexInt         `json:"estimated_delivery_days"`
		} `json:"available_courier_companies"`
	} `json:"data"`
}

// RecommendedCouriers lists couriers that can service the shipment, in provider order.
// An empty list is a valid answer.
func (c *Client) RecommendedCouriers(ctx context.Context, shipmentID int64) ([]Courier, error) {
	if shipmentID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment id is required")
	}
	q := url.Values{}
	q.Set("shipment_id", strconv.FormatInt(shipmentID, 10))

	var out serviceabilityResponse
	if err := c.call(ctx, "recommended_couriers", http.MethodGet, "/v1/external/courier/serviceability/?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	couriers := make([]Courier, 0, len(out.Data.Available))
	for _, row := range out.Data.Available {
		couriers = append(couriers, Courier{
			ID:            int64(row.CourierCompanyID),
			Name:          row.CourierName,
			FreightCharge: row.FreightCharge,
			ETADays:       int(row.EstimatedDeliveryDays),
		})
	}
	return couriers, nil
}

// Cheapest picks the lowest freight charge; ties go to the earliest entry.
func Cheapest(couriers []Courier) (Courier, bool) {
	if len(couriers) == 0 {
		return Courier{}, false
	}
	best := couriers[0]
	for _, candidate := range couriers[1:] {
		if candidate.FreightCharge.LessThan(best.FreightCharge) {
			best = candidate
		}
	}
	return best, true
}

// Assignment is the waybill issued when a courier is assigned.
type Assignment struct {
	WaybillCode string
	CourierID   int64
	CourierName string
}

type assignResponse struct {
	AWBAssignStatus int `json:"awb_assign_status"`
	Response        struct {
		Data struct {
			AWBCode          string  `json:"awb_code"`
			CourierCompanyID flexInt `json:"courier_company_id"`
			CourierName      string  `json:"courier_name"`
			AWBAssignError   string  `json:"awb_assign_error"`
		} `json:"data"`
	} `json:"response"`
	Message string `json:"message"`
}

// AssignCourier generates the waybill for a shipment with the chosen courier.
func (c *Client) AssignCourier(ctx context.Context, shipmentID, courierID int64) (*Assignment, error) {
	if shipmentID <= 0 || courierID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment id and courier id are required")
	}
	body := map[string]any{
		"shipment_id": shipmentID,
		"courier_id":  courierID,
	}
	var out assignResponse
	if err := c.call(ctx, "assign_courier", http.MethodPost, "/v1/external/courier/assign/awb", body, &out); err != nil {
		return nil, err
	}
	data := out.Response.Data
	if out.AWBAssignStatus != 1 || data.AWBCode == "" {
		msg := data.AWBAssignError
		if msg == "" {
			msg = out.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("courier %d could not be assigned", courierID)
		}
		return nil, pkgerrors.New(pkgerrors.CodeCarrierRejected, msg).
			WithDetails(map[string]any{"operation": "assign_courier", "shipment_id": shipmentID})
	}
	name := data.CourierName
	id := int64(data.CourierCompanyID)
	if id == 0 {
		id = courierID
	}
	return &Assignment{WaybillCode: data.AWBCode, CourierID: id, CourierName: name}, nil
}
