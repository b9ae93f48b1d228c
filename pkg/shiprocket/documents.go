package shiprocket

import (
	"context"
	"net/http"
	"strings"

	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
)

// CancelResult reports the carrier's response to a cancellation.
type CancelResult struct {
	Message string
}

// CancelShipment cancels the carrier orders behind the given waybills.
func (c *Client) CancelShipment(ctx context.Context, waybills []string) (*CancelResult, error) {
	awbs := make([]string, 0, len(waybills))
	for _, w := range waybills {
		if w = strings.TrimSpace(w); w != "" {
			awbs = append(awbs, w)
		}
	}
	if len(awbs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one waybill is required")
	}
	var out struct {
		Message string `json:"message"`
	}
	if err := c.call(ctx, "cancel_shipment", http.MethodPost, "/v1/external/orders/cancel/shipment/awbs", map[string]any{"awbs": awbs}, &out); err != nil {
		return nil, err
	}
	return &CancelResult{Message: out.Message}, nil
}

// Document is a generated label or manifest.
type Document struct {
	URL        string
	NotCreated []int64
}

// GenerateLabel renders shipping labels for a batch of shipments.
func (c *Client) GenerateLabel(ctx context.Context, shipmentIDs []int64) (*Document, error) {
	if err := requireIDs(shipmentIDs); err != nil {
		return nil, err
	}
	var out struct {
		LabelCreated int       `json:"label_created"`
		LabelURL     string    `json:"label_url"`
		Response     string    `json:"response"`
		NotCreated   []flexInt `json:"not_created"`
	}
	if err := c.call(ctx, "generate_label", http.MethodPost, "/v1/external/courier/generate/label", map[string]any{"shipment_id": shipmentIDs}, &out); err != nil {
		return nil, err
	}
	if out.LabelCreated != 1 || out.LabelURL == "" {
		msg := out.Response
		if msg == "" {
			msg = "label was not generated"
		}
		return nil, pkgerrors.New(pkgerrors.CodeCarrierRejected, msg).
			WithDetails(map[string]any{"operation": "generate_label"})
	}
	return &Document{URL: out.LabelURL, NotCreated: toInt64s(out.NotCreated)}, nil
}

// GenerateManifest renders the pickup manifest for a batch of shipments.
func (c *Client) GenerateManifest(ctx context.Context, shipmentIDs []int64) (*Document, error) {
	if err := requireIDs(shipmentIDs); err != nil {
		return nil, err
	}
	var out struct {
		Status      int    `json:"status"`
		ManifestURL string `json:"manifest_url"`
		Message     string `json:"message"`
	}
	if err := c.call(ctx, "generate_manifest", http.MethodPost, "/v1/external/manifests/generate", map[string]any{"shipment_id": shipmentIDs}, &out); err != nil {
		return nil, err
	}
	if out.ManifestURL == "" {
		msg := out.Message
		if msg == "" {
			msg = "manifest was not generated"
		}
		return nil, pkgerrors.New(pkgerrors.CodeCarrierRejected, msg).
			WithDetails(map[string]any{"operation": "generate_manifest"})
	}
	return &Document{URL: out.ManifestURL}, nil
}

func requireIDs(ids []int64) error {
	if len(ids) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one shipment id is required")
	}
	for _, id := range ids {
		if id <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "shipment ids must be positive")
		}
	}
	return nil
}

func toInt64s(in []flexInt) []int64 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int64, 0, len(in))
	for _, v := range in {
		out = append(out, int64(v))
	}
	return out
}
