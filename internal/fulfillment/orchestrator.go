// Package fulfillment sequences the carrier calls that turn a paid order into
// a tracked parcel. Each step persists its result before the next one runs, so
// a failure part way leaves a shipment an operator can resume.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/internal/orders"
	"github.com/covercraft/covercraft-backend/internal/reconciliation"
	"github.com/covercraft/covercraft-backend/pkg/auth"
	"github.com/covercraft/covercraft-backend/pkg/db"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/logger"
	"github.com/covercraft/covercraft-backend/pkg/metrics"
	"github.com/covercraft/covercraft-backend/pkg/outbox"
	"github.com/covercraft/covercraft-backend/pkg/outbox/payloads"
	"github.com/covercraft/covercraft-backend/pkg/shiprocket"
	"github.com/covercraft/covercraft-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Carrier is the slice of the carrier client the orchestrator drives.
type Carrier interface {
	CreateShipment(ctx context.Context, req shiprocket.CreateShipmentRequest) (*shiprocket.Shipment, error)
	RecommendedCouriers(ctx context.Context, shipmentID int64) ([]shiprocket.Courier, error)
	AssignCourier(ctx context.Context, shipmentID, courierID int64) (*shiprocket.Assignment, error)
	RequestPickup(ctx context.Context, shipmentID int64) (*shiprocket.Pickup, error)
	CancelShipment(ctx context.Context, waybills []string) (*shiprocket.CancelResult, error)
	GenerateLabel(ctx context.Context, shipmentIDs []int64) (*shiprocket.Document, error)
	GenerateManifest(ctx context.Context, shipmentIDs []int64) (*shiprocket.Document, error)
	Track(ctx context.Context, waybill string) (*shiprocket.Tracking, error)
}

// StatusApplier folds a carrier observation into the order.
type StatusApplier interface {
	ApplyCarrierStatus(ctx context.Context, ref orders.Ref, update reconciliation.CarrierUpdate) error
}

// Orchestrator is the fulfillment entry point used by admin tooling, the
// auto-fulfill consumer and the tracking cron.
type Orchestrator interface {
	CreateShipment(ctx context.Context, orderID uuid.UUID) (*Result, error)
	RecommendedCouriers(ctx context.Context, orderID uuid.UUID) ([]shiprocket.Courier, error)
	AssignCourier(ctx context.Context, orderID uuid.UUID, courierID int64) (*models.Shipment, error)
	RequestPickup(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	CancelShipment(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	GenerateLabel(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	GenerateManifest(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	Track(ctx context.Context, principal auth.Principal, orderID uuid.UUID, refresh bool) (*models.Shipment, error)
	SyncStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// Result describes a create-shipment run. Created is false when the shipment
// already existed. Warnings carry the follow-up steps that failed and can be
// retried on their own.
type Result struct {
	Shipment *models.Shipment
	Created  bool
	Warnings []string
}

type Params struct {
	Tx         txRunner
	Orders     orders.Repository
	Carrier    Carrier
	Applier    StatusApplier
	Outbox     outbox.Emitter
	Codec      orders.RefCodec
	Logger     *logger.Logger
	Metrics    *metrics.ReconciliationMetrics
	AutoAssign bool
	AutoPickup bool
	Now        func() time.Time
}

type orchestrator struct {
	tx         txRunner
	orders     orders.Repository
	carrier    Carrier
	applier    StatusApplier
	outbox     outbox.Emitter
	codec      orders.RefCodec
	logg       *logger.Logger
	metrics    *metrics.ReconciliationMetrics
	autoAssign bool
	autoPickup bool
	now        func() time.Time
}

func New(p Params) (Orchestrator, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Carrier == nil {
		return nil, fmt.Errorf("carrier client required")
	}
	if p.Applier == nil {
		return nil, fmt.Errorf("carrier status applier required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Codec == (orders.RefCodec{}) {
		p.Codec = orders.NewRefCodec("", "")
	}
	return &orchestrator{
		tx:         p.Tx,
		orders:     p.Orders,
		carrier:    p.Carrier,
		applier:    p.Applier,
		outbox:     p.Outbox,
		codec:      p.Codec,
		logg:       p.Logger,
		metrics:    p.Metrics,
		autoAssign: p.AutoAssign,
		autoPickup: p.AutoPickup,
		now:        p.Now,
	}, nil
}

// shippableCustom are the custom statuses an approved design ships from.
var shippableCustom = []enums.OrderStatus{enums.OrderStatusApproved, enums.OrderStatusInProduction}

func eligible(order *models.Order) error {
	if order.Status.IsTerminal() || order.Status == enums.OrderStatusShipped {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be shipped").
			WithDetails(map[string]any{"status": order.Status})
	}
	if order.Kind == enums.OrderKindCustom && !orders.ContainsStatus(shippableCustom, order.Status) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "custom order must be approved before shipping").
			WithDetails(map[string]any{"status": order.Status})
	}
	if !order.IsPaid() && order.PaymentMethod != enums.PaymentMethodCOD {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}
	return nil
}

// CreateShipment claims the shipment row, creates the carrier shipment and
// records its ids before any follow-up step. A second caller, concurrent or
// later, gets the existing shipment back with Created=false.
func (o *orchestrator) CreateShipment(ctx context.Context, orderID uuid.UUID) (*Result, error) {
	order, err := o.orders.Find(ctx, orderID)
	if err != nil {
		return nil, orders.MapLoadError(err)
	}
	ref := orders.Ref{Kind: order.Kind, ID: order.ID}
	ctx = o.logg.WithOrder(ctx, ref.ID.String(), ref.Kind.String())

	if order.Shipment.HasCarrierShipment() {
		return &Result{Shipment: order.Shipment}, nil
	}
	if err := eligible(order); err != nil {
		return nil, err
	}

	claim, won, err := o.orders.ClaimShipment(ctx, ref)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim shipment")
	}
	if !won {
		if claim.HasCarrierShipment() {
			return &Result{Shipment: claim}, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "shipment creation already in progress")
	}

	created, err := o.carrier.CreateShipment(ctx, o.shipmentRequest(order))
	o.metrics.CarrierCall("create_shipment", err)
	if err != nil {
		if _, releaseErr := o.orders.ReleaseShipmentClaim(ctx, ref.ID); releaseErr != nil {
			o.logg.Error(ctx, "release shipment claim failed", releaseErr)
		}
		o.logg.Error(ctx, "carrier shipment creation failed", err)
		return nil, err
	}
	ctx = o.logg.WithField(ctx, "shipment_id", created.ShipmentID)

	err = o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := o.orders.WithTx(tx)
		recorded, err := repo.RecordCarrierShipment(ctx, claim.ID, created.ShipmentID, created.CarrierOrderID)
		if err != nil {
			return err
		}
		if !recorded {
			return errors.New("shipment claim lost before carrier ids were stored")
		}
		if created.WaybillCode != "" {
			if err := o.recordAssignment(ctx, tx, ref, claim.ID, created.ShipmentID, &shiprocket.Assignment{
				WaybillCode: created.WaybillCode,
				CourierID:   created.CourierID,
				CourierName: created.CourierName,
			}); err != nil {
				return err
			}
		}
		if ref.Kind == enums.OrderKindStandard {
			from := []enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusConfirmed}
			moved, err := repo.Transition(ctx, ref, from, enums.OrderStatusProcessing, nil)
			if err != nil {
				return err
			}
			if moved {
				if err := o.emit(ctx, tx, ref, enums.EventOrderStatusChanged, payloads.OrderStatusChangedEvent{
					OrderRef: payloads.OrderRef{OrderID: ref.ID, Kind: ref.Kind},
					From:     order.Status.String(),
					To:       enums.OrderStatusProcessing.String(),
					Source:   reconciliation.SourceCarrier,
					Reason:   "shipment created",
				}); err != nil {
					return err
				}
			}
		}
		return o.emit(ctx, tx, ref, enums.EventShipmentCreated, payloads.ShipmentCreatedEvent{
			OrderRef:       payloads.OrderRef{OrderID: ref.ID, Kind: ref.Kind},
			ShipmentID:     created.ShipmentID,
			CarrierOrderID: created.CarrierOrderID,
		})
	})
	if err != nil {
		if isShipmentIDConflict(err) {
			o.logg.Error(ctx, "carrier shipment id already bound to another order", err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "carrier shipment already recorded for another order")
		}
		// The carrier shipment exists but is untracked here; the log line is the replay handle.
		o.logg.Error(ctx, "record carrier shipment failed; needs manual reconciliation", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record shipment")
	}
	o.logg.Info(ctx, "carrier shipment created")

	result := &Result{Created: true}
	shipment, err := o.orders.GetShipment(ctx, ref.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}

	if o.autoAssign && shipment.WaybillCode == nil {
		if _, err := o.assign(ctx, ref, shipment, 0); err != nil {
			o.logg.Warn(o.logg.WithField(ctx, "error", err.Error()), "courier assignment failed; shipment awaits a courier")
			result.Warnings = append(result.Warnings, "assign courier: "+errorMessage(err))
		}
	}
	if o.autoPickup {
		if current, err := o.orders.GetShipment(ctx, ref.ID); err == nil && current.WaybillCode != nil {
			if _, err := o.pickup(ctx, ref, current); err != nil {
				o.logg.Warn(o.logg.WithField(ctx, "error", err.Error()), "pickup request failed")
				result.Warnings = append(result.Warnings, "request pickup: "+errorMessage(err))
			}
		}
	}

	result.Shipment, err = o.orders.GetShipment(ctx, ref.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}
	return result, nil
}

func (o *orchestrator) shipmentRequest(order *models.Order) shiprocket.CreateShipmentRequest {
	addr := order.ShippingAddress
	items := make([]shiprocket.Item, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, shiprocket.Item{
			Name:         item.Name,
			SKU:          item.SKU,
			Units:        item.Quantity,
			SellingPrice: types.PaiseToRupees(item.UnitPricePaise),
		})
	}
	payment := shiprocket.PaymentPrepaid
	if order.PaymentMethod == enums.PaymentMethodCOD && !order.IsPaid() {
		payment = shiprocket.PaymentCOD
	}
	return shiprocket.CreateShipmentRequest{
		OrderRef:  o.codec.Format(orders.Ref{Kind: order.Kind, ID: order.ID}),
		OrderDate: order.CreatedAt,
		Address: shiprocket.Address{
			Name:     addr.Name,
			Phone:    addr.Phone,
			Email:    addr.Email,
			Line1:    addr.Line1,
			Line2:    deref(addr.Line2),
			City:     addr.City,
			State:    addr.State,
			Pincode:  addr.Pincode,
			Country:  addr.Country,
			Landmark: deref(addr.Landmark),
		},
		Items:    items,
		Payment:  payment,
		SubTotal: types.PaiseToRupees(order.TotalPaise),
	}
}

func (o *orchestrator) emit(ctx context.Context, tx *gorm.DB, ref orders.Ref, eventType enums.OutboxEventType, data any) error {
	return o.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateFor(ref.Kind),
		AggregateID:   ref.ID,
		Source:        "fulfillment",
		Data:          data,
	})
}

func (o *orchestrator) clock() time.Time {
	return o.now().UTC()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// errorMessage prefers the typed message, which for carrier errors is the
// provider's own text.
func errorMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil && typed.Message() != "" {
		return typed.Message()
	}
	return err.Error()
}

func isShipmentIDConflict(err error) bool {
	return db.IsUniqueViolation(err, "ux_shipments_shipment_id") || db.IsUniqueViolation(err, "shipments.shipment_id")
}
