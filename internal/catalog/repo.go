// Package catalog is the slice of the product catalog the order flow needs:
// variant lookups at checkout, the stock decrement on payment and the stock
// reservation for cash on delivery orders.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/pkg/db/models"
)

// Variant is a sellable variant joined with its product.
type Variant struct {
	ProductID     uuid.UUID
	VariantID     uuid.UUID
	ProductName   string
	VariantName   string
	SKU           string
	PricePaise    int64
	Stock         int
	ProductActive bool
	VariantActive bool
}

// Sellable reports whether the variant can be ordered at all.
func (v Variant) Sellable() bool {
	return v.ProductActive && v.VariantActive
}

// DisplayName is the line item name frozen on the order.
func (v Variant) DisplayName() string {
	if v.VariantName == "" {
		return v.ProductName
	}
	return fmt.Sprintf("%s (%s)", v.ProductName, v.VariantName)
}

// StockLine is one decrement request.
type StockLine struct {
	VariantID uuid.UUID
	Quantity  int
}

// Shortfall records a decrement that found less stock than requested. The
// stock is clamped at zero; payment has already been captured by then.
type Shortfall struct {
	VariantID uuid.UUID
	Requested int
	Available int
}

// ErrInsufficientStock is returned by ReserveStock when a variant cannot
// cover the requested quantity.
var ErrInsufficientStock = errors.New("insufficient stock")

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetVariant(ctx context.Context, productID, variantID uuid.UUID) (*Variant, error)
	DecrementStock(ctx context.Context, lines []StockLine) ([]Shortfall, error)
	ReserveStock(ctx context.Context, lines []StockLine) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// GetVariant returns gorm.ErrRecordNotFound when the variant does not belong
// to the product.
func (r *repository) GetVariant(ctx context.Context, productID, variantID uuid.UUID) (*Variant, error) {
	var variant models.ProductVariant
	if err := r.db.WithContext(ctx).
		Where("id = ? AND product_id = ?", variantID, productID).
		First(&variant).Error; err != nil {
		return nil, err
	}
	var product models.Product
	if err := r.db.WithContext(ctx).Where("id = ?", productID).First(&product).Error; err != nil {
		return nil, err
	}
	return &Variant{
		ProductID:     product.ID,
		VariantID:     variant.ID,
		ProductName:   product.Name,
		VariantName:   variant.Name,
		SKU:           variant.SKU,
		PricePaise:    variant.PricePaise,
		Stock:         variant.Stock,
		ProductActive: product.IsActive,
		VariantActive: variant.IsActive,
	}, nil
}

// ReserveStock takes stock for every line or fails with ErrInsufficientStock.
// Each decrement is guarded by stock >= qty, so run it inside a transaction to
// undo the earlier lines when a later one fails.
func (r *repository) ReserveStock(ctx context.Context, lines []StockLine) error {
	merged, order, err := mergeLines(lines)
	if err != nil {
		return err
	}
	for _, id := range order {
		qty := merged[id]
		res := r.db.WithContext(ctx).Model(&models.ProductVariant{}).
			Where("id = ? AND stock >= ?", id, qty).
			Update("stock", gorm.Expr("stock - ?", qty))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("variant %s: %w", id, ErrInsufficientStock)
		}
	}
	return nil
}

// DecrementStock subtracts each line in a single statement per variant. Lines
// for the same variant are merged first.
func (r *repository) DecrementStock(ctx context.Context, lines []StockLine) ([]Shortfall, error) {
	merged, order, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}

	var shortfalls []Shortfall
	for _, id := range order {
		qty := merged[id]
		var variant models.ProductVariant
		if err := r.db.WithContext(ctx).Select("id", "stock").Where("id = ?", id).First(&variant).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				shortfalls = append(shortfalls, Shortfall{VariantID: id, Requested: qty})
				continue
			}
			return nil, err
		}
		res := r.db.WithContext(ctx).Model(&models.ProductVariant{}).
			Where("id = ?", id).
			Update("stock", gorm.Expr("CASE WHEN stock >= ? THEN stock - ? ELSE 0 END", qty, qty))
		if res.Error != nil {
			return nil, res.Error
		}
		if variant.Stock < qty {
			shortfalls = append(shortfalls, Shortfall{VariantID: id, Requested: qty, Available: variant.Stock})
		}
	}
	return shortfalls, nil
}

func mergeLines(lines []StockLine) (map[uuid.UUID]int, []uuid.UUID, error) {
	merged := make(map[uuid.UUID]int, len(lines))
	var order []uuid.UUID
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, nil, fmt.Errorf("invalid quantity %d for variant %s", line.Quantity, line.VariantID)
		}
		if _, seen := merged[line.VariantID]; !seen {
			order = append(order, line.VariantID)
		}
		merged[line.VariantID] += line.Quantity
	}
	return merged, order, nil
}
