package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/internal/catalog"
	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/pkg/auth"
	"github.com/covercraft/covercraft-backend/pkg/config"
	"github.com/covercraft/covercraft-backend/pkg/db"
	"github.com/covercraft/covercraft-backend/pkg/db/dbtest"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/logger"
	"github.com/covercraft/covercraft-backend/pkg/outbox"
	"github.com/covercraft/covercraft-backend/pkg/razorpay"
	"github.com/covercraft/covercraft-backend/pkg/shiprocket"
	"github.com/covercraft/covercraft-backend/pkg/types"
)

const (
	keySecret  = "key-secret"
	hookSecret = "hook-secret"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

// gatewayStub fakes the payment provider's REST API.
type gatewayStub struct {
	mu           sync.Mutex
	orders       int
	refunds      int
	failCreate   bool
	failRefund   bool
	refundStatus string
	lastRefund   map[string]any
}

func (g *gatewayStub) roundTrip(req *http.Request) (*http.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case req.URL.Path == "/v1/orders":
		g.orders++
		if g.failCreate {
			return jsonResponse(http.StatusInternalServerError, `{"error":{"description":"gateway down"}}`), nil
		}
		return jsonResponse(http.StatusOK, fmt.Sprintf(`{"id":"order_%d","status":"created"}`, g.orders)), nil
	case strings.HasSuffix(req.URL.Path, "/refund"):
		g.refunds++
		g.lastRefund = map[string]any{}
		_ = json.NewDecoder(req.Body).Decode(&g.lastRefund)
		if g.failRefund {
			return jsonResponse(http.StatusBadRequest, `{"error":{"description":"insufficient balance"}}`), nil
		}
		status := g.refundStatus
		if status == "" {
			status = "processed"
		}
		return jsonResponse(http.StatusOK, fmt.Sprintf(`{"id":"rfnd_%d","payment_id":"pay_1","status":%q}`, g.refunds, status)), nil
	}
	return jsonResponse(http.StatusNotFound, `{}`), nil
}

func (g *gatewayStub) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.orders, g.refunds
}

func (g *gatewayStub) setFailRefund(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failRefund = v
}

type harness struct {
	client *db.Client
	conn   *gorm.DB
	engine Engine
	orders orders.Repository
	outbox *outbox.Repository
	stub   *gatewayStub
	codec  orders.RefCodec
	user   auth.Principal
	admin  auth.Principal
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	stub := &gatewayStub{}
	gateway, err := razorpay.NewClient(config.RazorpayConfig{
		KeyID:         "rzp_test_key",
		KeySecret:     keySecret,
		WebhookSecret: hookSecret,
		BaseURL:       "http://razorpay.test",
		Timeout:       time.Second,
		Currency:      "INR",
	}, razorpay.WithHTTPClient(&http.Client{Transport: roundTripFunc(stub.roundTrip)}))
	require.NoError(t, err)

	repo := orders.NewRepository(client.DB())
	outboxRepo := outbox.NewRepository(client.DB())
	codec := orders.NewRefCodec("ORD", "CUS")
	engine, err := NewEngine(EngineParams{
		Tx:                client,
		Orders:            repo,
		Catalog:           catalog.NewRepository(client.DB()),
		Gateway:           gateway,
		Outbox:            outbox.NewService(outboxRepo, logger.Nop()),
		Codec:             codec,
		RefundMaxAttempts: 3,
	})
	require.NoError(t, err)

	return &harness{
		client: client,
		conn:   client.DB(),
		engine: engine,
		orders: repo,
		outbox: outboxRepo,
		stub:   stub,
		codec:  codec,
		user:   auth.Principal{UserID: uuid.New(), Role: enums.RoleUser},
		admin:  auth.Principal{UserID: uuid.New(), Role: enums.RoleAdmin},
	}
}

func (h *harness) seedVariant(t *testing.T, stock int) models.ProductVariant {
	t.Helper()
	product := models.Product{Name: "Aurora", Slug: "aurora-" + uuid.NewString()[:6], IsActive: true}
	require.NoError(t, h.conn.Create(&product).Error)
	variant := models.ProductVariant{
		ProductID:  product.ID,
		SKU:        "AUR-" + uuid.NewString()[:6],
		Name:       "iPhone 15",
		PricePaise: 49900,
		Stock:      stock,
		IsActive:   true,
	}
	require.NoError(t, h.conn.Create(&variant).Error)
	return variant
}

func (h *harness) stock(t *testing.T, variantID uuid.UUID) int {
	t.Helper()
	var v models.ProductVariant
	require.NoError(t, h.conn.First(&v, "id = ?", variantID).Error)
	return v.Stock
}

func (h *harness) load(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := h.orders.Find(context.Background(), id)
	require.NoError(t, err)
	return order
}

func (h *harness) events(t *testing.T, id uuid.UUID, eventType enums.OutboxEventType) int {
	t.Helper()
	rows, err := h.outbox.ListByAggregate(context.Background(), id)
	require.NoError(t, err)
	n := 0
	for _, row := range rows {
		if row.EventType == eventType {
			n++
		}
	}
	return n
}

func testAddress() types.ShippingAddress {
	return types.ShippingAddress{
		Name: "Asha", Phone: "9876543210", Line1: "12 MG Road",
		City: "Bengaluru", State: "Karnataka", Pincode: "560001", Country: "India",
	}
}

// checkout places a standard razorpay order for two units of the variant.
func (h *harness) checkout(t *testing.T, variant models.ProductVariant) *CheckoutResult {
	t.Helper()
	res, err := h.engine.Checkout(context.Background(), h.user, CheckoutInput{
		Kind:            enums.OrderKindStandard,
		PaymentMethod:   enums.PaymentMethodRazorpay,
		ShippingAddress: testAddress(),
		Items: []CheckoutItem{{
			Ref:      orders.CatalogItemRef{ProductID: variant.ProductID, VariantID: variant.ID},
			Quantity: 2,
		}},
	})
	require.NoError(t, err)
	return res
}

func (h *harness) verify(ctx context.Context, res *CheckoutResult, paymentID string) (*models.Order, error) {
	return h.engine.VerifyPayment(ctx, h.user, VerifyInput{
		OrderID:          res.Order.ID,
		GatewayOrderID:   res.GatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        razorpay.Sign(keySecret, []byte(res.GatewayOrderID+"|"+paymentID)),
	})
}

func paymentWebhook(event, gatewayOrderID, paymentID string, amount int64) []byte {
	body, _ := json.Marshal(map[string]any{
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":                paymentID,
					"order_id":          gatewayOrderID,
					"amount":            amount,
					"status":            "captured",
					"error_description": "card declined",
				},
			},
		},
	})
	return body
}

func refundWebhook(event, paymentID, refundID string, amount int64) []byte {
	body, _ := json.Marshal(map[string]any{
		"event": event,
		"payload": map[string]any{
			"refund": map[string]any{
				"entity": map[string]any{
					"id":         refundID,
					"payment_id": paymentID,
					"amount":     amount,
				},
			},
		},
	})
	return body
}

func (h *harness) webhook(body []byte) error {
	return h.engine.HandleGatewayWebhook(context.Background(), body, razorpay.Sign(hookSecret, body))
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := NewEngine(EngineParams{})
	assert.Error(t, err)
}

func TestCheckoutCashOnDeliverySkipsGateway(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 5)

	res, err := h.engine.Checkout(context.Background(), h.user, CheckoutInput{
		PaymentMethod:   enums.PaymentMethodCOD,
		ShippingAddress: testAddress(),
		Items: []CheckoutItem{{
			Ref:            orders.CatalogItemRef{ProductID: variant.ProductID, VariantID: variant.ID},
			Quantity:       2,
			UnitPricePaise: 1,
		}},
	})
	require.NoError(t, err)
	created, _ := h.stub.counts()
	assert.Zero(t, created)
	assert.Empty(t, res.GatewayOrderID)

	order := h.load(t, res.Order.ID)
	assert.Equal(t, enums.OrderKindStandard, order.Kind)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, int64(99800), order.TotalPaise, "catalog price wins over the submitted one")
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Aurora (iPhone 15)", order.Items[0].Name)
	assert.Equal(t, 1, h.events(t, order.ID, enums.EventOrderCreated))
	assert.Equal(t, 3, h.stock(t, variant.ID), "cash on delivery takes stock at checkout")
}

func TestCheckoutCashOnDeliveryCannotOversell(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 1)
	codCheckout := func() error {
		_, err := h.engine.Checkout(context.Background(), h.user, CheckoutInput{
			PaymentMethod:   enums.PaymentMethodCOD,
			ShippingAddress: testAddress(),
			Items: []CheckoutItem{{
				Ref:      orders.CatalogItemRef{ProductID: variant.ProductID, VariantID: variant.ID},
				Quantity: 1,
			}},
		})
		return err
	}

	require.NoError(t, codCheckout())
	for i := 0; i < 2; i++ {
		err := codCheckout()
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "attempt %d: %v", i, err)
	}
	assert.Equal(t, 0, h.stock(t, variant.ID))

	var count int64
	require.NoError(t, h.conn.Table("orders").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPrepaidStockMovesOnlyOnPayment(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 4)
	res := h.checkout(t, variant)
	assert.Equal(t, 4, h.stock(t, variant.ID), "prepaid stock moves on payment")
	_, err := h.verify(context.Background(), res, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, 2, h.stock(t, variant.ID))
}

func TestCheckoutValidation(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 1)
	ctx := context.Background()
	base := CheckoutInput{PaymentMethod: enums.PaymentMethodRazorpay, ShippingAddress: testAddress()}

	in := base
	in.Items = []CheckoutItem{{Ref: orders.CatalogItemRef{ProductID: variant.ProductID, VariantID: variant.ID}, Quantity: 2}}
	_, err := h.engine.Checkout(ctx, h.user, in)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "insufficient stock")

	in = base
	in.Kind = enums.OrderKindCustom
	in.Items = []CheckoutItem{{Ref: orders.CatalogItemRef{ProductID: variant.ProductID, VariantID: variant.ID}, Quantity: 1}}
	_, err = h.engine.Checkout(ctx, h.user, in)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "catalog item on a custom order")

	in = base
	in.Kind = enums.OrderKindCustom
	in.Items = []CheckoutItem{{Ref: orders.CustomItemRef{Tag: "glitter"}, Quantity: 1, UnitPricePaise: -5}}
	_, err = h.engine.Checkout(ctx, h.user, in)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "negative custom price")

	in = base
	in.Items = []CheckoutItem{{Ref: orders.CatalogItemRef{ProductID: uuid.New(), VariantID: variant.ID}, Quantity: 1}}
	_, err = h.engine.Checkout(ctx, h.user, in)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = h.engine.Checkout(ctx, auth.Principal{}, in)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestCheckoutCustomOrderKeepsCallerPrice(t *testing.T) {
	h := newHarness(t)
	res, err := h.engine.Checkout(context.Background(), h.user, CheckoutInput{
		Kind:            enums.OrderKindCustom,
		PaymentMethod:   enums.PaymentMethodRazorpay,
		ShippingAddress: testAddress(),
		Items: []CheckoutItem{{
			Ref:            orders.CustomItemRef{Tag: "photo print"},
			Quantity:       1,
			UnitPricePaise: 69900,
			Metadata:       json.RawMessage(`{"image":"cdn://abc.png"}`),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_1", res.GatewayOrderID)
	assert.Equal(t, "rzp_test_key", res.GatewayKeyID)

	order := h.load(t, res.Order.ID)
	assert.Equal(t, enums.OrderKindCustom, order.Kind)
	assert.Equal(t, int64(69900), order.TotalPaise)
	assert.Equal(t, "CUSTOM-PHOTO-PRINT", order.Items[0].SKU)
}

func TestCheckoutGatewayFailurePersistsNothing(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 5)
	h.stub.failCreate = true

	_, err := h.engine.Checkout(context.Background(), h.user, CheckoutInput{
		PaymentMethod:   enums.PaymentMethodRazorpay,
		ShippingAddress: testAddress(),
		Items:           []CheckoutItem{{Ref: orders.CatalogItemRef{ProductID: variant.ProductID, VariantID: variant.ID}, Quantity: 1}},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))

	var count int64
	require.NoError(t, h.conn.Table("orders").Count(&count).Error)
	assert.Zero(t, count)
}

func TestVerifyPayment(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 5)
	res := h.checkout(t, variant)
	ctx := context.Background()

	_, err := h.engine.VerifyPayment(ctx, h.user, VerifyInput{
		OrderID:          res.Order.ID,
		GatewayOrderID:   res.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        razorpay.Sign("wrong-secret", []byte(res.GatewayOrderID+"|pay_1")),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid))
	order := h.load(t, res.Order.ID)
	assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, 5, h.stock(t, variant.ID))

	_, err = h.engine.VerifyPayment(ctx, h.user, VerifyInput{
		OrderID:          res.Order.ID,
		GatewayOrderID:   "order_other",
		GatewayPaymentID: "pay_1",
		Signature:        razorpay.Sign(keySecret, []byte("order_other|pay_1")),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "order id and gateway order id must match together")

	stranger := auth.Principal{UserID: uuid.New(), Role: enums.RoleUser}
	_, err = h.engine.VerifyPayment(ctx, stranger, VerifyInput{
		OrderID:          res.Order.ID,
		GatewayOrderID:   res.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        razorpay.Sign(keySecret, []byte(res.GatewayOrderID+"|pay_1")),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	paid, err := h.verify(ctx, res, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, enums.OrderStatusConfirmed, paid.Status)
	require.NotNil(t, paid.GatewayPaymentID)
	assert.Equal(t, "pay_1", *paid.GatewayPaymentID)
	assert.Equal(t, 3, h.stock(t, variant.ID))

	again, err := h.verify(ctx, res, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, again.Status)
	assert.Equal(t, 3, h.stock(t, variant.ID))
	assert.Equal(t, 1, h.events(t, res.Order.ID, enums.EventOrderPaid))
}

func TestConcurrentPaidTransitionDecrementsStockOnce(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 10)
	res := h.checkout(t, variant)
	body := paymentWebhook(razorpay.EventPaymentCaptured, res.GatewayOrderID, "pay_1", res.Order.TotalPaise)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.verify(context.Background(), res, "pay_1")
			errs <- err
		}()
		go func() {
			defer wg.Done()
			errs <- h.webhook(body)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 8, h.stock(t, variant.ID))
	assert.Equal(t, 1, h.events(t, res.Order.ID, enums.EventOrderPaid))
	assert.Equal(t, 1, h.events(t, res.Order.ID, enums.EventOrderStatusChanged))
	assert.Equal(t, enums.PaymentStatusPaid, h.load(t, res.Order.ID).PaymentStatus)
}

func TestGatewayWebhookReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 5)
	res := h.checkout(t, variant)
	body := paymentWebhook(razorpay.EventPaymentCaptured, res.GatewayOrderID, "pay_9", res.Order.TotalPaise)

	require.NoError(t, h.webhook(body))
	first := h.load(t, res.Order.ID)
	require.NoError(t, h.webhook(body))
	second := h.load(t, res.Order.ID)

	assert.Equal(t, enums.OrderStatusConfirmed, second.Status)
	assert.Equal(t, first.PaymentStatus, second.PaymentStatus)
	assert.Equal(t, first.RefundStatus, second.RefundStatus)
	assert.Equal(t, 3, h.stock(t, variant.ID))
	assert.Equal(t, 1, h.events(t, res.Order.ID, enums.EventOrderPaid))
	assert.Nil(t, second.GatewaySignature, "webhook capture carries no client signature")
}

func TestGatewayWebhookSignatureAndUnmatched(t *testing.T) {
	h := newHarness(t)
	body := paymentWebhook(razorpay.EventPaymentCaptured, "order_nowhere", "pay_1", 100)

	err := h.engine.HandleGatewayWebhook(context.Background(), body, razorpay.Sign("nope", body))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid))

	assert.NoError(t, h.webhook(body), "unmatched orders are acknowledged")
	assert.NoError(t, h.webhook([]byte(`{"event":"payment.authorized","payload":{}}`)))
	assert.NoError(t, h.webhook([]byte(`not json`)))
}

func TestCaptureAmountMismatchIsNotApplied(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 5)
	res := h.checkout(t, variant)

	require.NoError(t, h.webhook(paymentWebhook(razorpay.EventPaymentCaptured, res.GatewayOrderID, "pay_1", 100)))
	assert.Equal(t, enums.PaymentStatusPending, h.load(t, res.Order.ID).PaymentStatus)
}

func TestPaymentFailedNeverDowngradesPaid(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 5)
	res := h.checkout(t, variant)

	_, err := h.verify(context.Background(), res, "pay_1")
	require.NoError(t, err)
	require.NoError(t, h.webhook(paymentWebhook(razorpay.EventPaymentFailed, res.GatewayOrderID, "pay_1", res.Order.TotalPaise)))

	order := h.load(t, res.Order.ID)
	assert.Equal(t, enums.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, enums.OrderStatusConfirmed, order.Status)
	assert.Zero(t, h.events(t, res.Order.ID, enums.EventOrderPaymentFailed))
}

func TestPaymentFailedCancelsPendingOrder(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 5)
	res := h.checkout(t, variant)

	require.NoError(t, h.webhook(paymentWebhook(razorpay.EventPaymentFailed, res.GatewayOrderID, "pay_1", res.Order.TotalPaise)))
	order := h.load(t, res.Order.ID)
	assert.Equal(t, enums.PaymentStatusFailed, order.PaymentStatus)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)
	require.NotNil(t, order.CancelReason)
	assert.Contains(t, *order.CancelReason, "card declined")
	assert.Equal(t, 1, h.events(t, res.Order.ID, enums.EventOrderCancelled))
}

func TestLateCaptureOnCancelledOrderRefunds(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 5)
	res := h.checkout(t, variant)

	_, err := h.engine.Cancel(context.Background(), h.user, res.Order.ID, "changed my mind")
	require.NoError(t, err)
	require.NoError(t, h.webhook(paymentWebhook(razorpay.EventPaymentCaptured, res.GatewayOrderID, "pay_late", res.Order.TotalPaise)))

	order := h.load(t, res.Order.ID)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)
	assert.Equal(t, enums.PaymentStatusRefunded, order.PaymentStatus)
	assert.Equal(t, enums.RefundStatusCompleted, order.RefundStatus)
	assert.Equal(t, 5, h.stock(t, variant.ID), "aborted orders do not consume stock")
	_, refunds := h.stub.counts()
	assert.Equal(t, 1, refunds)
}

func TestRefundWebhooks(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 5)
	res := h.checkout(t, variant)
	_, err := h.verify(context.Background(), res, "pay_1")
	require.NoError(t, err)

	require.NoError(t, h.webhook(refundWebhook(razorpay.EventRefundCreated, "pay_1", "rfnd_x", 5000)))
	order := h.load(t, res.Order.ID)
	assert.Equal(t, enums.RefundStatusProcessing, order.RefundStatus)
	assert.Equal(t, int64(5000), order.RefundAmountPaise)
	assert.Equal(t, enums.OrderStatusConfirmed, order.Status, "refunds do not move the order")

	require.NoError(t, h.webhook(refundWebhook(razorpay.EventRefundProcessed, "pay_1", "rfnd_x", 5000)))
	order = h.load(t, res.Order.ID)
	assert.Equal(t, enums.RefundStatusCompleted, order.RefundStatus)
	assert.Equal(t, enums.PaymentStatusRefunded, order.PaymentStatus)

	require.NoError(t, h.webhook(refundWebhook(razorpay.EventRefundFailed, "pay_1", "rfnd_x", 5000)))
	assert.Equal(t, enums.RefundStatusCompleted, h.load(t, res.Order.ID).RefundStatus)
	assert.NoError(t, h.webhook(refundWebhook(razorpay.EventRefundCreated, "pay_unknown", "rfnd_y", 1)))
}

func TestCarrierSentinelPayloadMutatesNothing(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 5)
	res := h.checkout(t, variant)
	before := h.load(t, res.Order.ID)

	for _, ref := range []string{"test-123", "", "ORD-" + uuid.NewString(), "XYZ-" + res.Order.ID.String()} {
		err := h.engine.HandleCarrierWebhook(context.Background(), &shiprocket.WebhookPayload{
			OrderRef:      ref,
			CurrentStatus: "DELIVERED",
		})
		assert.NoError(t, err, ref)
	}
	after := h.load(t, res.Order.ID)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

// shipped records a carrier shipment for a paid order the way the
// fulfillment orchestrator does.
func (h *harness) shipped(t *testing.T, res *CheckoutResult) orders.Ref {
	t.Helper()
	ctx := context.Background()
	_, err := h.verify(ctx, res, "pay_1")
	require.NoError(t, err)
	ref := orders.StandardRef(res.Order.ID)
	row, won, err := h.orders.ClaimShipment(ctx, ref)
	require.NoError(t, err)
	require.True(t, won)
	ok, err := h.orders.RecordCarrierShipment(ctx, row.ID, 9001, 7001)
	require.NoError(t, err)
	require.True(t, ok)
	return ref
}

func TestCarrierWebhookDrivesOrderForward(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 5)
	res := h.checkout(t, variant)
	ref := h.shipped(t, res)
	ctx := context.Background()
	carrierRef := h.codec.Format(ref)

	require.NoError(t, h.engine.HandleCarrierWebhook(ctx, &shiprocket.WebhookPayload{
		OrderRef: carrierRef, CurrentStatus: "IN TRANSIT", WaybillCode: "AWB123", CourierName: "Delhivery",
		Scans: types.TrackingEvents{{Status: "IN TRANSIT", Activity: "Bag added", OccurredAt: time.Now().UTC().Truncate(time.Second)}},
	}))
	order := h.load(t, ref.ID)
	assert.Equal(t, enums.OrderStatusShipped, order.Status)
	require.NotNil(t, order.TrackingNumber)
	assert.Equal(t, "AWB123", *order.TrackingNumber)
	require.NotNil(t, order.Shipment)
	assert.Equal(t, enums.ShipmentStatusInTransit, order.Shipment.Status)
	require.NotNil(t, order.Shipment.WaybillCode)
	assert.Equal(t, "AWB123", *order.Shipment.WaybillCode)
	assert.Len(t, order.Shipment.TrackingEvents, 1)

	require.NoError(t, h.engine.HandleCarrierWebhook(ctx, &shiprocket.WebhookPayload{OrderRef: carrierRef, CurrentStatus: "UNDELIVERED"}))
	order = h.load(t, ref.ID)
	assert.Equal(t, enums.OrderStatusShipped, order.Status)
	require.NotNil(t, order.HoldReason)
	assert.Equal(t, "UNDELIVERED", *order.HoldReason)

	require.NoError(t, h.engine.HandleCarrierWebhook(ctx, &shiprocket.WebhookPayload{OrderRef: carrierRef, CurrentStatus: "DELIVERED"}))
	order = h.load(t, ref.ID)
	assert.Equal(t, enums.OrderStatusDelivered, order.Status)
	assert.NotNil(t, order.DeliveredAt)

	// A late, out-of-order scan never moves the order back.
	require.NoError(t, h.engine.HandleCarrierWebhook(ctx, &shiprocket.WebhookPayload{OrderRef: carrierRef, CurrentStatus: "IN TRANSIT"}))
	require.NoError(t, h.engine.HandleCarrierWebhook(ctx, &shiprocket.WebhookPayload{OrderRef: carrierRef, CurrentStatus: "RTO INITIATED"}))
	order = h.load(t, ref.ID)
	assert.Equal(t, enums.OrderStatusDelivered, order.Status)
	assert.Equal(t, enums.RefundStatusNone, order.RefundStatus)
}

func TestCarrierReturnCancelsAndRetriesRefund(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 5)
	res := h.checkout(t, variant)
	ref := h.shipped(t, res)
	h.stub.setFailRefund(true)

	require.NoError(t, h.engine.HandleCarrierWebhook(context.Background(), &shiprocket.WebhookPayload{
		OrderRef: h.codec.Format(ref), CurrentStatus: "RTO INITIATED",
	}))
	order := h.load(t, ref.ID)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)
	require.NotNil(t, order.CancelReason)
	assert.Equal(t, "carrier: RTO INITIATED", *order.CancelReason)
	assert.Equal(t, enums.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, enums.RefundStatusFailed, order.RefundStatus)
	assert.Equal(t, 1, order.RefundAttempts)
	require.NotNil(t, order.RefundLastError)
	assert.Contains(t, *order.RefundLastError, "insufficient balance")

	_, err := h.engine.RetryRefund(context.Background(), h.user, ref.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	h.stub.setFailRefund(false)
	order, err = h.engine.RetryRefund(context.Background(), h.admin, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusCompleted, order.RefundStatus)
	assert.Equal(t, enums.PaymentStatusRefunded, order.PaymentStatus)
	assert.Equal(t, 2, order.RefundAttempts)

	_, err = h.engine.RetryRefund(context.Background(), h.admin, ref.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestProcessDueRefundsRespectsAttemptCap(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 5)
	res := h.checkout(t, variant)
	_, err := h.verify(context.Background(), res, "pay_1")
	require.NoError(t, err)
	h.stub.setFailRefund(true)

	_, err = h.engine.Cancel(context.Background(), h.user, res.Order.ID, "")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		issued, err := h.engine.ProcessDueRefunds(context.Background(), 10)
		assert.Zero(t, issued)
		if i < 2 {
			assert.Error(t, err)
		} else {
			assert.NoError(t, err, "attempt cap reached")
		}
	}
	order := h.load(t, res.Order.ID)
	assert.Equal(t, 3, order.RefundAttempts)
	assert.Equal(t, enums.RefundStatusFailed, order.RefundStatus)

	h.stub.setFailRefund(false)
	h.stub.mu.Lock()
	h.stub.refundStatus = "pending"
	h.stub.mu.Unlock()
	order, err = h.engine.RetryRefund(context.Background(), h.admin, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusProcessing, order.RefundStatus, "the refund.processed webhook completes it")
	require.NotNil(t, order.RefundID)
}

func TestCancelRules(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 10)
	ctx := context.Background()

	res := h.checkout(t, variant)
	stranger := auth.Principal{UserID: uuid.New(), Role: enums.RoleUser}
	_, err := h.engine.Cancel(ctx, stranger, res.Order.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	order, err := h.engine.Cancel(ctx, h.user, res.Order.ID, "ordered twice")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)
	assert.Equal(t, enums.RefundStatusNone, order.RefundStatus, "nothing to refund on an unpaid order")
	_, err = h.engine.Cancel(ctx, h.user, res.Order.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	paidRes := h.checkout(t, variant)
	_, err = h.verify(ctx, paidRes, "pay_2")
	require.NoError(t, err)
	_, err = h.engine.UpdateStatus(ctx, h.admin, paidRes.Order.ID, StatusInput{Status: enums.OrderStatusProcessing})
	require.NoError(t, err)
	_, err = h.engine.Cancel(ctx, h.user, paidRes.Order.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "buyers cannot cancel once processing")

	_, err = h.engine.Cancel(ctx, h.admin, paidRes.Order.ID, "out of stock")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "operators cannot cancel once processing either")
	assert.Equal(t, enums.OrderStatusProcessing, h.load(t, paidRes.Order.ID).Status)
	assert.Zero(t, h.events(t, paidRes.Order.ID, enums.EventOrderCancelled))

	confirmedRes := h.checkout(t, variant)
	_, err = h.verify(ctx, confirmedRes, "pay_3")
	require.NoError(t, err)
	order, err = h.engine.Cancel(ctx, h.admin, confirmedRes.Order.ID, "out of stock")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)
	assert.Equal(t, enums.RefundStatusCompleted, order.RefundStatus)
	assert.Equal(t, 1, h.events(t, confirmedRes.Order.ID, enums.EventOrderCancelled))
}

func TestAdminConfirmRequiresPaymentForPrepaidOrders(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 10)
	ctx := context.Background()

	prepaid := h.checkout(t, variant)
	_, err := h.engine.UpdateStatus(ctx, h.admin, prepaid.Order.ID, StatusInput{Status: enums.OrderStatusConfirmed})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	order := h.load(t, prepaid.Order.ID)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)

	cod, err := h.engine.Checkout(ctx, h.user, CheckoutInput{
		PaymentMethod:   enums.PaymentMethodCOD,
		ShippingAddress: testAddress(),
		Items: []CheckoutItem{{
			Ref:      orders.CatalogItemRef{ProductID: variant.ProductID, VariantID: variant.ID},
			Quantity: 1,
		}},
	})
	require.NoError(t, err)
	order, err = h.engine.UpdateStatus(ctx, h.admin, cod.Order.ID, StatusInput{Status: enums.OrderStatusConfirmed})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, order.Status)
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.engine.Checkout(ctx, h.user, CheckoutInput{
		Kind:            enums.OrderKindCustom,
		PaymentMethod:   enums.PaymentMethodCOD,
		ShippingAddress: testAddress(),
		Items:           []CheckoutItem{{Ref: orders.CustomItemRef{Tag: "matte"}, Quantity: 1, UnitPricePaise: 39900}},
	})
	require.NoError(t, err)
	id := res.Order.ID

	_, err = h.engine.UpdateStatus(ctx, h.user, id, StatusInput{Status: enums.OrderStatusApproved})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.engine.UpdateStatus(ctx, h.admin, id, StatusInput{Status: enums.OrderStatusConfirmed})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "confirmed is not a custom status")

	_, err = h.engine.UpdateStatus(ctx, h.admin, id, StatusInput{Status: enums.OrderStatusDelivered})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	order, err := h.engine.UpdateStatus(ctx, h.admin, id, StatusInput{Status: enums.OrderStatusApproved, Note: "artwork ok"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusApproved, order.Status)
	require.NotNil(t, order.AdminNote)
	assert.Equal(t, "artwork ok", *order.AdminNote)

	order, err = h.engine.UpdateStatus(ctx, h.admin, id, StatusInput{Status: enums.OrderStatusRejected, Note: "blurry image"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRejected, order.Status)
	require.NotNil(t, order.CancelReason)
	assert.Equal(t, "blurry image", *order.CancelReason)
	assert.Equal(t, 1, h.events(t, id, enums.EventOrderCancelled))
}

func TestDeleteAndPurge(t *testing.T) {
	h := newHarness(t)
	variant := h.seedVariant(t, 10)
	ctx := context.Background()

	paid := h.checkout(t, variant)
	_, err := h.verify(ctx, paid, "pay_1")
	require.NoError(t, err)
	err = h.engine.Delete(ctx, paid.Order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	fresh := h.checkout(t, variant)
	require.NoError(t, h.engine.Delete(ctx, fresh.Order.ID))
	_, err = h.orders.Find(ctx, fresh.Order.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.True(t, pkgerrors.IsCode(h.engine.Delete(ctx, fresh.Order.ID), pkgerrors.CodeNotFound))

	stale := h.checkout(t, variant)
	require.NoError(t, h.conn.Table("orders").Where("id = ?", stale.Order.ID).
		Update("created_at", time.Now().UTC().Add(-72*time.Hour)).Error)

	_, err = h.engine.PurgeStale(ctx, 0, 10)
	assert.Error(t, err)
	purged, err := h.engine.PurgeStale(ctx, 48*time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	_, err = h.orders.Find(ctx, stale.Order.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Equal(t, enums.PaymentStatusPaid, h.load(t, paid.Order.ID).PaymentStatus)
}
