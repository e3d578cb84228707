package domain

import (
	"math"
	"time"
)

type CustomerClass string

const (
	CustomerStandard CustomerClass = "standard"
	CustomerCredit   CustomerClass = "credit"
)

type Channel string

const (
	ChannelOnline  Channel = "online"
	ChannelInStore Channel = "in_store"
)

type UnitKind string

const (
	UnitPiece  UnitKind = "piece"
	UnitWeight UnitKind = "weight"
)

const PaymentMethodCOD = "cash_on_delivery"

type OrderItem struct {
	ItemID      string
	Name        string
	Quantity    int
	Weight      float64
	Unit        UnitKind
	UnitPrice   float64
	AddOnsTotal float64
}

// RequestedQuantity is the stock-relevant amount of the line: the piece count
// for countable items, the weight for weighed items.
func (i OrderItem) RequestedQuantity() float64 {
	if i.Unit == UnitWeight {
		return i.Weight
	}
	return float64(i.Quantity)
}

func (i OrderItem) LineTotal() float64 {
	return i.UnitPrice*i.RequestedQuantity() + i.AddOnsTotal
}

type PaymentEntry struct {
	Method         string
	Amount         float64
	RecordedAt     time.Time
	IdempotencyKey string
}

type Order struct {
	ID            string
	WarehouseID   string
	Channel       Channel
	CustomerID    string
	CustomerClass CustomerClass
	Items         []OrderItem
	Subtotal      float64
	Discount      float64
	Total         float64
	PaymentMethod string
	Payments      []PaymentEntry
	Status        Status

	CreatedAt    time.Time
	DispatchedAt *time.Time
	DeliveredAt  *time.Time
	CancelledAt  *time.Time
	PaidAt       *time.Time
	InvoicedAt   *time.Time

	InvoiceNumber   string
	InvoiceSnapshot *InvoiceSnapshot

	CourierID       string
	CourierAccepted bool
	HandoffCode     string

	HasReservation bool
}

// InvoiceSnapshot freezes the financial and item state of an order at the
// moment of issuance. It is written once and never overwritten.
type InvoiceSnapshot struct {
	Number   string
	IssuedAt time.Time
	Subtotal float64
	Discount float64
	Total    float64
	Payments []PaymentEntry
	Items    []OrderItem
}

func (o *Order) PaidTotal() float64 {
	var paid float64
	for _, p := range o.Payments {
		paid += p.Amount
	}
	return paid
}

func (o *Order) Balance() float64 {
	balance := o.Total - o.PaidTotal()
	if balance < 0 {
		return 0
	}
	return balance
}

func (o *Order) IsCOD() bool {
	return o.PaymentMethod == PaymentMethodCOD
}

func (o *Order) Invoiced() bool {
	return o.InvoiceNumber != "" && o.InvoicedAt != nil
}

// LoyaltyPoints is the award granted on delivery: one point per whole
// currency unit of the order total.
func (o *Order) LoyaltyPoints() int {
	return int(math.Floor(o.Total))
}
