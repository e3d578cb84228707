package dto

import "time"

type OrderItemRequest struct {
	ItemID      string  `json:"itemId"`
	Name        string  `json:"name"`
	Quantity    int     `json:"quantity"`
	Weight      float64 `json:"weight"`
	Unit        string  `json:"unit"`
	UnitPrice   float64 `json:"unitPrice"`
	AddOnsTotal float64 `json:"addOnsTotal"`
}

type CreateOrderRequest struct {
	WarehouseID   string             `json:"warehouseId"`
	Channel       string             `json:"channel"`
	CustomerID    string             `json:"customerId"`
	CustomerClass string             `json:"customerClass"`
	PaymentMethod string             `json:"paymentMethod"`
	Discount      float64            `json:"discount"`
	Scheduled     bool               `json:"scheduled"`
	Items         []OrderItemRequest `json:"items"`
}

type TransitionRequest struct {
	Status      string `json:"status"`
	HandoffCode string `json:"handoffCode,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// TransitionMeta carries the transition-scoped inputs the state machine may
// require: the delivery hand-off code and a cancellation reason.
type TransitionMeta struct {
	HandoffCode string
	Reason      string
}

type AssignCourierRequest struct {
	CourierID string `json:"courierId"`
}

type PaymentResponse struct {
	Method     string    `json:"method"`
	Amount     float64   `json:"amount"`
	RecordedAt time.Time `json:"recordedAt"`
}

type OrderResponse struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	WarehouseID   string            `json:"warehouseId"`
	Channel       string            `json:"channel"`
	CustomerID    string            `json:"customerId"`
	CustomerClass string            `json:"customerClass"`
	Subtotal      float64           `json:"subtotal"`
	Discount      float64           `json:"discount"`
	Total         float64           `json:"total"`
	PaymentMethod string            `json:"paymentMethod"`
	Payments      []PaymentResponse `json:"payments"`
	InvoiceNumber string            `json:"invoiceNumber,omitempty"`
	CourierID     string            `json:"courierId,omitempty"`
	HandoffCode   string            `json:"handoffCode,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	DeliveredAt   *time.Time        `json:"deliveredAt,omitempty"`
	CancelledAt   *time.Time        `json:"cancelledAt,omitempty"`
	PaidAt        *time.Time        `json:"paidAt,omitempty"`
	InvoicedAt    *time.Time        `json:"invoicedAt,omitempty"`
}

type EventResponse struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	ActorID    string         `json:"actorId"`
	ActorRole  string         `json:"actorRole"`
	FromStatus string         `json:"fromStatus,omitempty"`
	ToStatus   string         `json:"toStatus,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type TaskResponse struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	CreatedAt   time.Time `json:"createdAt"`
}
