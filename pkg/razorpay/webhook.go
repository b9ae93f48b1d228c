package razorpay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "X-Razorpay-Signature"

// Webhook event names the reconciliation engine acts on.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
	EventRefundCreated   = "refund.created"
	EventRefundProcessed = "refund.processed"
	EventRefundFailed    = "refund.failed"
)

// PaymentEntity is the subset of the payment object we read.
type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	AmountPaise      int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// RefundEntity is the subset of the refund object we read.
type RefundEntity struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	AmountPaise int64  `json:"amount"`
	Status      string `json:"status"`
}

// WebhookEvent is a parsed webhook body. Entities absent from the payload stay nil.
type WebhookEvent struct {
	Event     string
	AccountID string
	CreatedAt int64
	Payment   *PaymentEntity
	Refund    *RefundEntity
}

// GatewayOrderID resolves the order the event belongs to.
func (e *WebhookEvent) GatewayOrderID() string {
	if e.Payment != nil {
		return e.Payment.OrderID
	}
	return ""
}

type webhookBody struct {
	Event     string `json:"event"`
	AccountID string `json:"account_id"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity RefundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// ParseWebhookEvent decodes a body that already passed VerifyWebhookSignature.
func ParseWebhookEvent(raw []byte) (*WebhookEvent, error) {
	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	event := &WebhookEvent{
		Event:     strings.TrimSpace(body.Event),
		AccountID: body.AccountID,
		CreatedAt: body.CreatedAt,
	}
	if event.Event == "" {
		return nil, fmt.Errorf("webhook missing event name")
	}
	if body.Payload.Payment != nil {
		p := body.Payload.Payment.Entity
		event.Payment = &p
	}
	if body.Payload.Refund != nil {
		r := body.Payload.Refund.Entity
		event.Refund = &r
	}
	return event, nil
}
