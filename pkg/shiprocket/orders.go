package shiprocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
)

const (
	// MaxSKULength is the carrier's limit; longer SKUs keep their last TruncatedSKULength characters.
	MaxSKULength       = 50
	TruncatedSKULength = 40

	orderDateLayout = "2006-01-02 15:04"
)

// PaymentMode is the carrier's payment_method field.
type PaymentMode string

const (
	PaymentPrepaid PaymentMode = "Prepaid"
	PaymentCOD     PaymentMode = "COD"
)

// Address is the consignee. Shipping is always the billing address.
type Address struct {
	Name     string
	Phone    string
	Email    string
	Line1    string
	Line2    string
	City     string
	State    string
	Pincode  string
	Country  string
	Landmark string
}

// Item is one order line sent to the carrier. SellingPrice is in rupees.
type Item struct {
	Name         string
	SKU          string
	Units        int
	SellingPrice decimal.Decimal
}

// CreateShipmentRequest builds the adhoc order. Zero package fields fall back to
// the client's defaults.
type CreateShipmentRequest struct {
	OrderRef    string
	OrderDate   time.Time
	Address     Address
	Items       []Item
	Payment     PaymentMode
	SubTotal    decimal.Decimal
	Package     Package
	PickupPoint string
}

type Shipment struct {
	ShipmentID     int64
	CarrierOrderID int64
	Status         string
	WaybillCode    string
	CourierID      int64
	CourierName    string
}

type createOrderItem struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
}

type createOrderBody struct {
	OrderID           string            `json:"order_id"`
	OrderDate         string            `json:"order_date"`
	PickupLocation    string            `json:"pickup_location"`
	BillingName       string            `json:"billing_customer_name"`
	BillingLastName   string            `json:"billing_last_name"`
	BillingAddress    string            `json:"billing_address"`
	BillingAddress2   string            `json:"billing_address_2,omitempty"`
	BillingCity       string            `json:"billing_city"`
	BillingPincode    string            `json:"billing_pincode"`
	BillingState      string            `json:"billing_state"`
	BillingCountry    string            `json:"billing_country"`
	BillingEmail      string            `json:"billing_email"`
	BillingPhone      string            `json:"billing_phone"`
	ShippingIsBilling bool              `json:"shipping_is_billing"`
	OrderItems        []createOrderItem `json:"order_items"`
	PaymentMethod     PaymentMode       `json:"payment_method"`
	SubTotal          float64           `json:"sub_total"`
	Length            float64           `json:"length"`
	Breadth           float64           `json:"breadth"`
	Height            float64           `json:"height"`
	Weight            float64           `json:"weight"`
}

type createOrderResponse struct {
	OrderID          flexInt `json:"order_id"`
	ShipmentID       flexInt `json:"shipment_id"`
	Status           string  `json:"status"`
	AWBCode          string  `json:"awb_code"`
	CourierCompanyID flexInt `json:"courier_company_id"`
	CourierName      string  `json:"courier_name"`
}

// TruncateSKU enforces the carrier's SKU limit deterministically. The tail is kept
// because uniqueness suffixes live at the end of our SKUs.
// Lengths are counted in characters, not bytes.
func TruncateSKU(sku string) string {
	runes := []rune(sku)
	if len(runes) <= MaxSKULength {
		return sku
	}
	return string(runes[len(runes)-TruncatedSKULength:])
}

// buildCreateBody renders the carrier payload with truncated SKUs and package defaults.
func (c *Client) buildCreateBody(req CreateShipmentRequest) createOrderBody {
	pkg := req.Package
	if pkg.LengthCM <= 0 {
		pkg.LengthCM = c.pkg.LengthCM
	}
	if pkg.BreadthCM <= 0 {
		pkg.BreadthCM = c.pkg.BreadthCM
	}
	if pkg.HeightCM <= 0 {
		pkg.HeightCM = c.pkg.HeightCM
	}
	if pkg.WeightKG <= 0 {
		pkg.WeightKG = c.pkg.WeightKG
	}
	pickup := strings.TrimSpace(req.PickupPoint)
	if pickup == "" {
		pickup = c.pickupLocation
	}
	orderDate := req.OrderDate
	if orderDate.IsZero() {
		orderDate = c.now()
	}
	payment := req.Payment
	if payment == "" {
		payment = PaymentPrepaid
	}

	first, last := splitName(req.Address.Name)
	line1 := req.Address.Line1
	if req.Address.Landmark != "" {
		line1 = line1 + ", near " + req.Address.Landmark
	}
	items := make([]createOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, createOrderItem{
			Name:         item.Name,
			SKU:          TruncateSKU(item.SKU),
			Units:        item.Units,
			SellingPrice: item.SellingPrice.Round(2).InexactFloat64(),
		})
	}
	return createOrderBody{
		OrderID:           req.OrderRef,
		OrderDate:         orderDate.In(istZone).Format(orderDateLayout),
		PickupLocation:    pickup,
		BillingName:       first,
		BillingLastName:   last,
		BillingAddress:    line1,
		BillingAddress2:   req.Address.Line2,
		BillingCity:       req.Address.City,
		BillingPincode:    req.Address.Pincode,
		BillingState:      req.Address.State,
		BillingCountry:    req.Address.Country,
		BillingEmail:      req.Address.Email,
		BillingPhone:      req.Address.Phone,
		ShippingIsBilling: true,
		OrderItems:        items,
		PaymentMethod:     payment,
		SubTotal:          req.SubTotal.Round(2).InexactFloat64(),
		Length:            pkg.LengthCM,
		Breadth:           pkg.BreadthCM,
		Height:            pkg.HeightCM,
		Weight:            pkg.WeightKG,
	}
}

// CreateShipment creates the carrier order and shipment.
func (c *Client) CreateShipment(ctx context.Context, req CreateShipmentRequest) (*Shipment, error) {
	if strings.TrimSpace(req.OrderRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment order reference is required")
	}
	if len(req.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment requires at least one item")
	}

	var out createOrderResponse
	if err := c.call(ctx, "create_shipment", http.MethodPost, "/v1/external/orders/create/adhoc", c.buildCreateBody(req), &out); err != nil {
		return nil, err
	}
	if out.ShipmentID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeCarrierRejected, "carrier did not return a shipment id").
			WithDetails(map[string]any{"operation": "create_shipment", "status": out.Status})
	}
	return &Shipment{
		ShipmentID:     int64(out.ShipmentID),
		CarrierOrderID: int64(out.OrderID),
		Status:         out.Status,
		WaybillCode:    out.AWBCode,
		CourierID:      int64(out.CourierCompanyID),
		CourierName:    out.CourierName,
	}, nil
}

func splitName(full string) (string, string) {
	fields := strings.Fields(full)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
