package orders

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
)

// LineItemRef is either a catalog variant or an opaque custom tag.
type LineItemRef interface {
	RefKind() enums.LineItemRefKind
}

type CatalogItemRef struct {
	ProductID uuid.UUID
	VariantID uuid.UUID
}

func (CatalogItemRef) RefKind() enums.LineItemRefKind { return enums.LineItemRefCatalog }

type CustomItemRef struct {
	Tag string
}

func (CustomItemRef) RefKind() enums.LineItemRefKind { return enums.LineItemRefCustom }

// ItemRef reads the reference back from a stored line item.
func ItemRef(item models.OrderItem) (LineItemRef, error) {
	switch item.RefKind {
	case enums.LineItemRefCatalog:
		if item.ProductID == nil || item.VariantID == nil {
			return nil, fmt.Errorf("catalog item %s missing product or variant", item.ID)
		}
		return CatalogItemRef{ProductID: *item.ProductID, VariantID: *item.VariantID}, nil
	case enums.LineItemRefCustom:
		tag := ""
		if item.CustomTag != nil {
			tag = *item.CustomTag
		}
		return CustomItemRef{Tag: tag}, nil
	default:
		return nil, fmt.Errorf("item %s has unknown ref kind %q", item.ID, item.RefKind)
	}
}

// SetItemRef stamps ref onto item, clearing the fields of the other variant.
func SetItemRef(item *models.OrderItem, ref LineItemRef) {
	item.ProductID, item.VariantID, item.CustomTag = nil, nil, nil
	switch r := ref.(type) {
	case CatalogItemRef:
		productID, variantID := r.ProductID, r.VariantID
		item.RefKind = enums.LineItemRefCatalog
		item.ProductID = &productID
		item.VariantID = &variantID
	case CustomItemRef:
		tag := strings.TrimSpace(r.Tag)
		item.RefKind = enums.LineItemRefCustom
		item.CustomTag = &tag
	}
}
