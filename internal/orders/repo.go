package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	"github.com/covercraft/covercraft-backend/pkg/pagination"
)

// Repository is the order store. Every state change is a guarded UPDATE whose
// affected row count tells the caller whether it won.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, ref Ref) (*models.Order, error)
	Find(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Order, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Order], error)

	MarkPaid(ctx context.Context, ref Ref, update PaidUpdate) (bool, error)
	MarkPaymentFailed(ctx context.Context, ref Ref, reason string) (bool, error)
	Transition(ctx context.Context, ref Ref, from []enums.OrderStatus, to enums.OrderStatus, extra map[string]any) (bool, error)
	Update(ctx context.Context, ref Ref, updates map[string]any) error

	RequestRefund(ctx context.Context, ref Ref, amountPaise int64) (bool, error)
	ClaimRefund(ctx context.Context, ref Ref, maxAttempts int) (bool, error)
	SetRefundStatus(ctx context.Context, ref Ref, from []enums.RefundStatus, to enums.RefundStatus, extra map[string]any) (bool, error)
	ListRefundsDue(ctx context.Context, kind enums.OrderKind, maxAttempts, limit int) ([]models.Order, error)

	ListStalePending(ctx context.Context, kind enums.OrderKind, cutoff time.Time, limit int) ([]models.Order, error)
	DeleteIfUnused(ctx context.Context, ref Ref) (bool, error)

	ClaimShipment(ctx context.Context, ref Ref) (*models.Shipment, bool, error)
	GetShipment(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	FindShipmentByWaybill(ctx context.Context, waybill string) (*models.Shipment, error)
	RecordCarrierShipment(ctx context.Context, rowID uuid.UUID, shipmentID, carrierOrderID int64) (bool, error)
	UpdateShipment(ctx context.Context, rowID uuid.UUID, updates map[string]any) error
	ReleaseShipmentClaim(ctx context.Context, orderID uuid.UUID) (bool, error)
	ListStaleShipmentClaims(ctx context.Context, cutoff time.Time, limit int) ([]models.Shipment, error)
	ListShipmentsForSync(ctx context.Context, cutoff time.Time, limit int) ([]models.Shipment, error)
}

// PaidUpdate carries the gateway identifiers recorded by the paid transition.
type PaidUpdate struct {
	GatewayPaymentID string
	Signature        *string
	PaidAt           time.Time
}

// ListFilter narrows order listings. Kind defaults to standard.
type ListFilter struct {
	Kind   enums.OrderKind
	UserID *uuid.UUID
	Status *enums.OrderStatus
}

// payableFrom are the payment states the paid transition may leave.
var payableFrom = []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusFailed}

var searchOrder = []enums.OrderKind{enums.OrderKindStandard, enums.OrderKindCustom}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) orders(ctx context.Context, kind enums.OrderKind) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Order{}).Table(kind.Table())
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if !order.Kind.IsValid() {
		return errors.New("order kind required")
	}
	if err := r.db.WithContext(ctx).Table(order.Kind.Table()).Create(order).Error; err != nil {
		return err
	}
	if len(order.Items) == 0 {
		return nil
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		order.Items[i].OrderKind = order.Kind
		order.Items[i].Position = i
	}
	return r.db.WithContext(ctx).Create(&order.Items).Error
}

func (r *repository) Get(ctx context.Context, ref Ref) (*models.Order, error) {
	return r.load(ctx, ref.Kind, "id = ?", ref.ID)
}

// Find resolves an id without knowing its table.
func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.search(ctx, "id = ?", id)
}

func (r *repository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	if gatewayOrderID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	return r.search(ctx, "gateway_order_id = ?", gatewayOrderID)
}

func (r *repository) FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Order, error) {
	if gatewayPaymentID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	return r.search(ctx, "gateway_payment_id = ?", gatewayPaymentID)
}

// search looks in the standard table first, then the custom one.
func (r *repository) search(ctx context.Context, query string, args ...any) (*models.Order, error) {
	for _, kind := range searchOrder {
		order, err := r.load(ctx, kind, query, args...)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *repository) load(ctx context.Context, kind enums.OrderKind, query string, args ...any) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Table(kind.Table()).Where(query, args...).First(&order).Error; err != nil {
		return nil, err
	}
	order.Kind = kind

	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND order_kind = ?", order.ID, kind).
		Order("position ASC").
		Find(&order.Items).Error; err != nil {
		return nil, err
	}

	shipment, err := r.GetShipment(ctx, order.ID)
	switch {
	case err == nil:
		order.Shipment = shipment
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return &order, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Order], error) {
	kind := filter.Kind
	if kind == "" {
		kind = enums.OrderKindStandard
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.Order]{}, err
	}

	q := r.db.WithContext(ctx).Table(kind.Table())
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}

	var rows []models.Order
	if err := pagination.Apply(q, cursor, params.Limit).Find(&rows).Error; err != nil {
		return pagination.Page[models.Order]{}, err
	}
	for i := range rows {
		rows[i].Kind = kind
	}
	return pagination.Build(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

// MarkPaid is the sticky paid transition. Only the caller that moves the row
// out of pending/failed gets true; every later caller sees false.
func (r *repository) MarkPaid(ctx context.Context, ref Ref, update PaidUpdate) (bool, error) {
	res := r.orders(ctx, ref.Kind).
		Where("id = ? AND payment_status IN ?", ref.ID, payableFrom).
		Updates(map[string]any{
			"payment_status":         enums.PaymentStatusPaid,
			"gateway_payment_id":     update.GatewayPaymentID,
			"gateway_signature":      update.Signature,
			"paid_at":                update.PaidAt,
			"payment_failure_reason": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkPaymentFailed records a gateway failure unless the order is already paid.
func (r *repository) MarkPaymentFailed(ctx context.Context, ref Ref, reason string) (bool, error) {
	res := r.orders(ctx, ref.Kind).
		Where("id = ? AND payment_status = ?", ref.ID, enums.PaymentStatusPending).
		Updates(map[string]any{
			"payment_status":         enums.PaymentStatusFailed,
			"payment_failure_reason": reason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Transition(ctx context.Context, ref Ref, from []enums.OrderStatus, to enums.OrderStatus, extra map[string]any) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.orders(ctx, ref.Kind).
		Where("id = ? AND status IN ?", ref.ID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Update(ctx context.Context, ref Ref, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return r.orders(ctx, ref.Kind).Where("id = ?", ref.ID).Updates(updates).Error
}

// RequestRefund opens a refund on a paid order that has none yet.
func (r *repository) RequestRefund(ctx context.Context, ref Ref, amountPaise int64) (bool, error) {
	res := r.orders(ctx, ref.Kind).
		Where("id = ? AND payment_status = ? AND refund_status = ?", ref.ID, enums.PaymentStatusPaid, enums.RefundStatusNone).
		Updates(map[string]any{
			"refund_status":       enums.RefundStatusRequested,
			"refund_amount_paise": amountPaise,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimRefund moves a due refund to processing and counts the attempt, so two
// workers never call the gateway for the same refund. maxAttempts <= 0 means
// no cap.
func (r *repository) ClaimRefund(ctx context.Context, ref Ref, maxAttempts int) (bool, error) {
	q := r.orders(ctx, ref.Kind).
		Where("id = ? AND refund_status IN ?", ref.ID, []enums.RefundStatus{enums.RefundStatusRequested, enums.RefundStatusFailed})
	if maxAttempts > 0 {
		q = q.Where("refund_attempts < ?", maxAttempts)
	}
	res := q.Updates(map[string]any{
		"refund_status":   enums.RefundStatusProcessing,
		"refund_attempts": gorm.Expr("refund_attempts + 1"),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetRefundStatus moves refund bookkeeping forward only from the listed states.
func (r *repository) SetRefundStatus(ctx context.Context, ref Ref, from []enums.RefundStatus, to enums.RefundStatus, extra map[string]any) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	updates := map[string]any{"refund_status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.orders(ctx, ref.Kind).
		Where("id = ? AND refund_status IN ?", ref.ID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListRefundsDue(ctx context.Context, kind enums.OrderKind, maxAttempts, limit int) ([]models.Order, error) {
	q := r.db.WithContext(ctx).Table(kind.Table()).
		Where("refund_status IN ?", []enums.RefundStatus{enums.RefundStatusRequested, enums.RefundStatusFailed})
	if maxAttempts > 0 {
		q = q.Where("refund_attempts < ?", maxAttempts)
	}
	var rows []models.Order
	if err := q.Order("updated_at ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Kind = kind
	}
	return rows, nil
}

func (r *repository) ListStalePending(ctx context.Context, kind enums.OrderKind, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).Table(kind.Table()).
		Where("status = ? AND payment_status <> ? AND created_at < ?", enums.OrderStatusPending, enums.PaymentStatusPaid, cutoff.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Kind = kind
	}
	return rows, nil
}

// DeleteIfUnused physically removes an order that never saw a payment or a
// shipment. It reports false when the guard kept the row.
func (r *repository) DeleteIfUnused(ctx context.Context, ref Ref) (bool, error) {
	table := ref.Kind.Table()
	res := r.db.WithContext(ctx).Table(table).
		Where("id = ? AND status IN ?", ref.ID, Deletable).
		Where("gateway_payment_id IS NULL AND payment_status <> ?", enums.PaymentStatusPaid).
		Where("NOT EXISTS (SELECT 1 FROM shipments WHERE shipments.order_id = " + table + ".id)").
		Delete(&models.Order{})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND order_kind = ?", ref.ID, ref.Kind).
		Delete(&models.OrderItem{}).Error
	return true, err
}
