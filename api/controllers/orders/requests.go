package orders

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	internalorders "github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/internal/reconciliation"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/types"
)

type checkoutRequest struct {
	Items           []checkoutItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
	ShippingAddress types.ShippingAddress `json:"shipping_address" validate:"required"`
	PaymentMethod   string                `json:"payment_method" validate:"required"`
}

// checkoutItemRequest names either a catalog variant (product_id + variant_id)
// or a custom design (custom_tag). unit_price is rupees and only read for
// custom items.
type checkoutItemRequest struct {
	ProductID *uuid.UUID       `json:"product_id,omitempty"`
	VariantID *uuid.UUID       `json:"variant_id,omitempty"`
	CustomTag string           `json:"custom_tag,omitempty" validate:"max=64"`
	Quantity  int              `json:"quantity" validate:"required,min=1,max=100"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Name      string           `json:"name,omitempty" validate:"max=200"`
	Metadata  json.RawMessage  `json:"metadata,omitempty"`
}

func (req checkoutRequest) toInput(kind enums.OrderKind) (reconciliation.CheckoutInput, error) {
	method, err := enums.ParsePaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod)))
	if err != nil {
		return reconciliation.CheckoutInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported payment method").
			WithDetails(map[string]any{"payment_method": req.PaymentMethod})
	}

	items := make([]reconciliation.CheckoutItem, 0, len(req.Items))
	for i, item := range req.Items {
		converted, err := item.toItem(i)
		if err != nil {
			return reconciliation.CheckoutInput{}, err
		}
		items = append(items, converted)
	}

	return reconciliation.CheckoutInput{
		Kind:            kind,
		PaymentMethod:   method,
		ShippingAddress: req.ShippingAddress,
		Items:           items,
	}, nil
}

func (item checkoutItemRequest) toItem(index int) (reconciliation.CheckoutItem, error) {
	tag := strings.TrimSpace(item.CustomTag)
	hasCatalog := item.ProductID != nil || item.VariantID != nil

	out := reconciliation.CheckoutItem{
		Quantity: item.Quantity,
		Name:     strings.TrimSpace(item.Name),
		Metadata: item.Metadata,
	}
	switch {
	case tag != "" && hasCatalog:
		return out, itemError(index, "item must reference either a catalog variant or a custom tag, not both")
	case tag != "":
		out.Ref = internalorders.CustomItemRef{Tag: tag}
	case item.ProductID != nil && item.VariantID != nil:
		out.Ref = internalorders.CatalogItemRef{ProductID: *item.ProductID, VariantID: *item.VariantID}
	default:
		return out, itemError(index, "item requires product_id and variant_id, or custom_tag")
	}

	if item.UnitPrice != nil {
		paise, err := types.RupeesToPaise(*item.UnitPrice)
		if err != nil {
			return out, itemError(index, err.Error())
		}
		out.UnitPricePaise = paise
	}
	return out, nil
}

func itemError(index int, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).
		WithDetails(map[string]any{"field": fmt.Sprintf("items[%d]", index)})
}

type checkoutResponse struct {
	Order   internalorders.OrderDTO `json:"order"`
	Payment *gatewayCheckout        `json:"payment,omitempty"`
}

// gatewayCheckout is what the storefront needs to open the gateway widget.
type gatewayCheckout struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPublicKey string `json:"gateway_public_key"`
}

func newCheckoutResponse(result *reconciliation.CheckoutResult) checkoutResponse {
	resp := checkoutResponse{Order: internalorders.NewOrderDTO(result.Order)}
	if result.GatewayOrderID != "" {
		resp.Payment = &gatewayCheckout{
			GatewayOrderID:   result.GatewayOrderID,
			GatewayPublicKey: result.GatewayKeyID,
		}
	}
	return resp
}

type verifyRequest struct {
	OrderID          uuid.UUID `json:"order_id" validate:"required"`
	GatewayOrderID   string    `json:"gateway_order_id" validate:"required,max=64"`
	GatewayPaymentID string    `json:"gateway_payment_id" validate:"required,max=64"`
	Signature        string    `json:"signature" validate:"required,max=256"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note" validate:"max=1000"`
}
