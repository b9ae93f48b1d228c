package razorpay

import (
	"context"
	"net/http"
	"strings"

	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
)

// CreateOrderRequest describes a gateway order. Amount is in paise.
type CreateOrderRequest struct {
	AmountPaise int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// Order is the gateway's transaction handle.
type Order struct {
	ID          string `json:"id"`
	AmountPaise int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Status      string `json:"status"`
}

// CreateOrder creates a gateway order. It has no effect on our store; the caller persists the id.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if req.AmountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid amount: must be greater than zero")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = c.currency
	}
	body := map[string]any{
		"amount":   req.AmountPaise,
		"currency": currency,
		"receipt":  truncate(req.Receipt, 40),
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var out Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "create gateway order failed")
	}
	if out.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "gateway order response missing id")
	}
	return &out, nil
}

// receipts are capped at 40 characters by the provider.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
