package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/internal/catalog"
	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/pkg/auth"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/metrics"
	"github.com/covercraft/covercraft-backend/pkg/outbox/payloads"
	"github.com/covercraft/covercraft-backend/pkg/razorpay"
	"github.com/covercraft/covercraft-backend/pkg/types"
)

const maxCheckoutItems = 50

// CheckoutInput is a validated checkout request.
type CheckoutInput struct {
	Kind            enums.OrderKind
	PaymentMethod   enums.PaymentMethod
	ShippingAddress types.ShippingAddress
	Items           []CheckoutItem
}

// CheckoutItem is one requested line. UnitPricePaise, Name and Metadata are
// only read for custom items; catalog items take them from the catalog.
type CheckoutItem struct {
	Ref            orders.LineItemRef
	Quantity       int
	UnitPricePaise int64
	Name           string
	Metadata       json.RawMessage
}

// CheckoutResult is the persisted order plus what the storefront needs to
// open the gateway checkout.
type CheckoutResult struct {
	Order          *models.Order
	GatewayOrderID string
	GatewayKeyID   string
}

func (e *engine) Checkout(ctx context.Context, principal auth.Principal, input CheckoutInput) (*CheckoutResult, error) {
	if principal.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Kind == "" {
		input.Kind = enums.OrderKindStandard
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order kind")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	address := input.ShippingAddress.Normalize()
	if err := address.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if len(input.Items) > maxCheckoutItems {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "too many items")
	}

	items, subtotal, err := e.priceItems(ctx, input.Kind, input.Items)
	if err != nil {
		return nil, err
	}

	ref := orders.Ref{Kind: input.Kind, ID: uuid.New()}
	ctx = e.orderCtx(ctx, ref, SourceCheckout)
	order := &models.Order{
		ID:              ref.ID,
		Kind:            ref.Kind,
		UserID:          principal.UserID,
		Status:          enums.OrderStatusPending,
		Currency:        enums.CurrencyINR,
		SubtotalPaise:   subtotal,
		TotalPaise:      subtotal,
		ShippingAddress: address,
		PaymentMethod:   input.PaymentMethod,
		PaymentStatus:   enums.PaymentStatusPending,
		RefundStatus:    enums.RefundStatusNone,
		Items:           items,
	}

	result := &CheckoutResult{Order: order}
	if input.PaymentMethod.RequiresGateway() {
		gatewayOrder, err := e.gateway.CreateOrder(ctx, razorpay.CreateOrderRequest{
			AmountPaise: order.TotalPaise,
			Currency:    order.Currency.String(),
			Receipt:     e.codec.Format(ref),
			Notes: map[string]string{
				"order_id":   ref.ID.String(),
				"order_kind": ref.Kind.String(),
			},
		})
		if err != nil {
			e.logg.Error(ctx, "gateway order creation failed; checkout aborted", err)
			e.metrics.Event(SourceCheckout, "gateway_order", metrics.OutcomeFailed)
			return nil, err
		}
		order.GatewayOrderID = &gatewayOrder.ID
		result.GatewayOrderID = gatewayOrder.ID
		result.GatewayKeyID = e.gateway.KeyID()
	}

	// Cash on delivery never goes through the paid transition, so its stock
	// is taken here, once, in the same transaction as the order row.
	reserve := !input.PaymentMethod.RequiresGateway()
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if lines := stockLines(order.Items); reserve && len(lines) > 0 {
			if err := e.catalog.WithTx(tx).ReserveStock(ctx, lines); err != nil {
				return err
			}
		}
		if err := e.orders.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		return e.emit(ctx, tx, ref, enums.EventOrderCreated, SourceCheckout, &principal, payloads.OrderCreatedEvent{
			OrderRef:       payloadRef(ref),
			UserID:         order.UserID,
			PaymentMethod:  order.PaymentMethod,
			TotalPaise:     order.TotalPaise,
			Currency:       order.Currency,
			GatewayOrderID: result.GatewayOrderID,
			ItemCount:      len(order.Items),
		})
	})
	if errors.Is(err, catalog.ErrInsufficientStock) {
		e.metrics.Event(SourceCheckout, "checkout", metrics.OutcomeNoop)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "insufficient stock")
	}
	if err != nil {
		// The gateway order, if any, stays unpaid and expires on the provider side.
		e.logg.Error(ctx, "persist checkout order failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
	}

	e.metrics.Event(SourceCheckout, "checkout", metrics.OutcomeApplied)
	e.logg.Info(ctx, "checkout order created")
	return result, nil
}

// priceItems resolves every line to a frozen price. Catalog prices always
// come from the catalog; custom lines keep the caller's price.
func (e *engine) priceItems(ctx context.Context, kind enums.OrderKind, in []CheckoutItem) ([]models.OrderItem, int64, error) {
	items := make([]models.OrderItem, 0, len(in))
	var subtotal int64
	for i, line := range in {
		if line.Quantity < 1 {
			return nil, 0, lineError(i, "quantity must be at least 1")
		}
		var item models.OrderItem
		switch ref := line.Ref.(type) {
		case orders.CatalogItemRef:
			if kind == enums.OrderKindCustom {
				return nil, 0, lineError(i, "custom orders only accept custom items")
			}
			if ref.ProductID == uuid.Nil || ref.VariantID == uuid.Nil {
				return nil, 0, lineError(i, "product and variant are required")
			}
			variant, err := e.catalog.GetVariant(ctx, ref.ProductID, ref.VariantID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil, 0, pkgerrors.New(pkgerrors.CodeNotFound, "product variant not found").
						WithDetails(map[string]any{"item": i})
				}
				return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product variant")
			}
			if !variant.Sellable() {
				return nil, 0, lineError(i, "product variant is not available")
			}
			if variant.Stock < line.Quantity {
				return nil, 0, lineError(i, "insufficient stock")
			}
			item = models.OrderItem{
				Name:           variant.DisplayName(),
				SKU:            variant.SKU,
				UnitPricePaise: variant.PricePaise,
			}
			orders.SetItemRef(&item, ref)
		case orders.CustomItemRef:
			tag := strings.TrimSpace(ref.Tag)
			if tag == "" {
				return nil, 0, lineError(i, "custom item tag is required")
			}
			if line.UnitPricePaise < 0 {
				return nil, 0, lineError(i, "price must not be negative")
			}
			name := strings.TrimSpace(line.Name)
			if name == "" {
				name = "Custom cover"
			}
			item = models.OrderItem{
				Name:           name,
				SKU:            customSKU(tag),
				UnitPricePaise: line.UnitPricePaise,
			}
			if len(line.Metadata) > 0 {
				if !json.Valid(line.Metadata) {
					return nil, 0, lineError(i, "metadata must be valid JSON")
				}
				item.Metadata = datatypes.JSON(line.Metadata)
			}
			orders.SetItemRef(&item, orders.CustomItemRef{Tag: tag})
		default:
			return nil, 0, lineError(i, "item reference is required")
		}
		item.Quantity = line.Quantity
		subtotal += item.LineTotalPaise()
		items = append(items, item)
	}
	return items, subtotal, nil
}

func customSKU(tag string) string {
	return "CUSTOM-" + strings.ToUpper(strings.ReplaceAll(tag, " ", "-"))
}

func lineError(index int, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{"item": index})
}
