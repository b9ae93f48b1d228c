package razorpay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
)

// RefundRequest issues a refund against a captured payment. Zero AmountPaise refunds in full.
type RefundRequest struct {
	PaymentID   string
	AmountPaise int64
	Receipt     string
	Notes       map[string]string
}

type Refund struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	AmountPaise int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

// Refund calls the refund API. Every failure is a REFUND_FAILED error carrying the
// provider's description; callers record it and retry out of band.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeRefundFailed, "refund requires a gateway payment id")
	}
	if req.AmountPaise < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeRefundFailed, "refund amount must not be negative")
	}

	body := map[string]any{"speed": "normal"}
	if req.AmountPaise > 0 {
		body["amount"] = req.AmountPaise
	}
	if req.Receipt != "" {
		body["receipt"] = truncate(req.Receipt, 40)
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var out Refund
	path := fmt.Sprintf("/v1/payments/%s/refund", url.PathEscape(paymentID))
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeRefundFailed, err, "refund failed: "+upstreamMessage(err))
	}
	if out.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeRefundFailed, "refund response missing id")
	}
	return &out, nil
}
