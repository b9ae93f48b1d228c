package shiprocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/types"
)

// The carrier reports local times without a zone.
var istZone = time.FixedZone("IST", 5*3600+1800)

var carrierTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02 01 2006 15:04:05",
	"2006-01-02",
}

// parseCarrierTime reads the carrier's zone-less timestamps as IST. The zero
// time is returned when nothing matches.
func parseCarrierTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	for _, layout := range carrierTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, istZone); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// NormalizeStatus maps the carrier's free-form status vocabulary onto ours.
// ok is false for statuses we do not act on.
func NormalizeStatus(raw string) (enums.ShipmentStatus, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", false
	}

	switch {
	case strings.HasPrefix(s, "rto"), strings.Contains(s, "return"):
		return enums.ShipmentStatusRTO, true
	case strings.HasPrefix(s, "cancel"), s == "canceled":
		return enums.ShipmentStatusCancelled, true
	case s == "undelivered", s == "delayed", s == "lost", s == "damaged",
		s == "destroyed", s == "misrouted", strings.Contains(s, "on hold"),
		strings.Contains(s, "exception"), strings.Contains(s, "held"):
		return enums.ShipmentStatusOnHold, true
	case s == "delivered":
		return enums.ShipmentStatusDelivered, true
	case s == "shipped", s == "picked up", s == "in transit", s == "out for delivery",
		strings.HasPrefix(s, "reached"), strings.HasPrefix(s, "in transit"),
		strings.Contains(s, "dispatched"):
		return enums.ShipmentStatusInTransit, true
	case s == "new", s == "awb assigned", s == "label generated", s == "manifest generated",
		s == "out for pickup", strings.HasPrefix(s, "pickup"):
		return enums.ShipmentStatusPickupScheduled, true
	}
	return "", false
}

// Tracking is the carrier's current view of a waybill.
type Tracking struct {
	RawStatus string
	Status    enums.ShipmentStatus
	Known     bool
	TrackURL  string
	ETD       time.Time
	Events    types.TrackingEvents
}

type trackActivity struct {
	Date          string `json:"date"`
	Status        string `json:"status"`
	Activity      string `json:"activity"`
	Location      string `json:"location"`
	SRStatusLabel string `json:"sr-status-label"`
}

type trackResponse struct {
	TrackingData struct {
		TrackStatus   int `json:"track_status"`
		ShipmentTrack []struct {
			CurrentStatus string `json:"current_status"`
		} `json:"shipment_track"`
		Activities []trackActivity `json:"shipment_track_activities"`
		TrackURL   string          `json:"track_url"`
		ETD        string          `json:"etd"`
		Error      string          `json:"error"`
	} `json:"tracking_data"`
}

// Track fetches the scan history for a waybill.
func (c *Client) Track(ctx context.Context, waybill string) (*Tracking, error) {
	waybill = strings.TrimSpace(waybill)
	if waybill == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "waybill code is required")
	}
	var out trackResponse
	if err := c.call(ctx, "track_shipment", http.MethodGet, "/v1/external/courier/track/awb/"+url.PathEscape(waybill), nil, &out); err != nil {
		return nil, err
	}
	data := out.TrackingData
	if data.TrackStatus == 0 && data.Error != "" {
		return nil, pkgerrors.New(pkgerrors.CodeCarrierRejected, data.Error).
			WithDetails(map[string]any{"operation": "track_shipment", "waybill": waybill})
	}

	result := &Tracking{TrackURL: data.TrackURL, ETD: parseCarrierTime(data.ETD)}
	if len(data.ShipmentTrack) > 0 {
		result.RawStatus = data.ShipmentTrack[0].CurrentStatus
	}
	result.Events = activitiesToEvents(data.Activities)
	if result.RawStatus == "" && len(result.Events) > 0 {
		result.RawStatus = result.Events[0].Status
	}
	result.Status, result.Known = NormalizeStatus(result.RawStatus)
	return result, nil
}

func activitiesToEvents(in []trackActivity) types.TrackingEvents {
	if len(in) == 0 {
		return nil
	}
	events := make(types.TrackingEvents, 0, len(in))
	for _, a := range in {
		status := a.SRStatusLabel
		if status == "" || strings.EqualFold(status, "NA") {
			status = a.Status
		}
		events = append(events, types.TrackingEvent{
			Status:     strings.TrimSpace(status),
			Activity:   strings.TrimSpace(a.Activity),
			Location:   strings.TrimSpace(a.Location),
			OccurredAt: parseCarrierTime(a.Date),
		})
	}
	return events
}
