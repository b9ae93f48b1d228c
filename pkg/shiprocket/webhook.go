package shiprocket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/covercraft/covercraft-backend/pkg/config"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/types"
)

// WebhookPayload is the tracking push the carrier sends for every status change.
// OrderRef is our own reference echoed back; carrier ids are informational only.
type WebhookPayload struct {
	WaybillCode    string
	CourierName    string
	CurrentStatus  string
	ShipmentStatus string
	OrderRef       string
	CarrierOrderID int64
	IsReturn       bool
	ETD            time.Time
	OccurredAt     time.Time
	Scans          types.TrackingEvents
}

type webhookBody struct {
	AWB              flexString      `json:"awb"`
	CourierName      string          `json:"courier_name"`
	CurrentStatus    string          `json:"current_status"`
	ShipmentStatus   string          `json:"shipment_status"`
	CurrentTimestamp string          `json:"current_timestamp"`
	OrderID          flexString      `json:"order_id"`
	SROrderID        flexInt         `json:"sr_order_id"`
	ETD              string          `json:"etd"`
	IsReturn         flexInt         `json:"is_return"`
	Scans            []trackActivity `json:"scans"`
}

// ParseWebhook decodes a carrier webhook body. Callers must authenticate the
// request with VerifyWebhook first.
func ParseWebhook(raw []byte) (*WebhookPayload, error) {
	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid carrier webhook payload")
	}
	return &WebhookPayload{
		WaybillCode:    strings.TrimSpace(string(body.AWB)),
		CourierName:    strings.TrimSpace(body.CourierName),
		CurrentStatus:  strings.TrimSpace(body.CurrentStatus),
		ShipmentStatus: strings.TrimSpace(body.ShipmentStatus),
		OrderRef:       strings.TrimSpace(string(body.OrderID)),
		CarrierOrderID: int64(body.SROrderID),
		IsReturn:       body.IsReturn != 0,
		ETD:            parseCarrierTime(body.ETD),
		OccurredAt:     parseCarrierTime(body.CurrentTimestamp),
		Scans:          activitiesToEvents(body.Scans),
	}, nil
}

// Status normalises the reported status. A return leg is always RTO.
func (p *WebhookPayload) Status() (enums.ShipmentStatus, bool) {
	if p == nil {
		return "", false
	}
	raw := p.CurrentStatus
	if raw == "" {
		raw = p.ShipmentStatus
	}
	status, ok := NormalizeStatus(raw)
	if p.IsReturn && (!ok || status != enums.ShipmentStatusCancelled) {
		return enums.ShipmentStatusRTO, true
	}
	return status, ok
}

// RawStatus is the status text as the carrier sent it.
func (p *WebhookPayload) RawStatus() string {
	if p.CurrentStatus != "" {
		return p.CurrentStatus
	}
	return p.ShipmentStatus
}

// VerifyWebhook authenticates a carrier webhook. In header mode the configured
// header must carry the shared secret; in hmac mode it carries the HMAC-SHA256
// of the raw body, hex or base64 encoded.
func VerifyWebhook(cfg config.ShiprocketConfig, headers http.Header, raw []byte) error {
	secret := cfg.WebhookSecret
	if secret == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "carrier webhook secret is not configured")
	}
	name := strings.TrimSpace(cfg.WebhookHeader)
	if name == "" {
		name = "x-api-key"
	}
	provided := strings.TrimSpace(headers.Get(name))
	if provided == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "missing carrier webhook credentials")
	}

	switch cfg.WebhookMode() {
	case config.ShiprocketWebhookHMAC:
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(raw)
		expected := mac.Sum(nil)
		if sig, err := hex.DecodeString(provided); err == nil && hmac.Equal(sig, expected) {
			return nil
		}
		if sig, err := base64.StdEncoding.DecodeString(provided); err == nil && hmac.Equal(sig, expected) {
			return nil
		}
	default:
		if hmac.Equal([]byte(provided), []byte(secret)) {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid carrier webhook credentials")
}
