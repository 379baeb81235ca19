package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// allowedTransitions lists every legal edge of the order state machine.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether from -> to is an allowed edge.
func CanTransitionTo(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentMethod is an opaque tag; no payment is processed by the engine.
type PaymentMethod string

const (
	PaymentCreditCard     PaymentMethod = "credit_card"
	PaymentPayPal         PaymentMethod = "paypal"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCreditCard, PaymentPayPal, PaymentCashOnDelivery:
		return true
	}
	return false
}

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

// Validate requires every field the checkout form asks for.
func (a Address) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"street":   a.Street,
		"city":     a.City,
		"state":    a.State,
		"zip_code": a.ZipCode,
		"country":  a.Country,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: shipping address is missing %s", ErrInvalidArgument, strings.Join(missing, ", "))
	}
	return nil
}

// OrderItem is the immutable snapshot of a purchased line. It does not
// reference the live product beyond its id.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Size      string          `json:"size,omitempty"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ImageURL  string          `json:"image_url,omitempty"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress Address         `json:"shipping_address"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          OrderStatus     `json:"status"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
}

// ComputeTotal returns Σ line subtotals.
func ComputeTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		cp.DeliveredAt = &t
	}
	return &cp
}

// ApplyStatus moves the order to next at the given time. The caller has
// already validated the edge.
func (o *Order) ApplyStatus(next OrderStatus, at time.Time) {
	o.Status = next
	o.UpdatedAt = at
	if next == OrderStatusDelivered {
		delivered := at
		o.DeliveredAt = &delivered
	}
}

// StatusSummary is the per-status aggregate used by order statistics.
type StatusSummary struct {
	Status OrderStatus
	Count  int
	Amount decimal.Decimal
}
