package domain

import "time"

type ActorRole string

const (
	ActorSystem   ActorRole = "system"
	ActorAdmin    ActorRole = "admin"
	ActorCustomer ActorRole = "customer"
	ActorCourier  ActorRole = "courier"
)

type Actor struct {
	ID   string
	Role ActorRole
}

type Action string

const (
	ActionOrderCreated        Action = "order-created"
	ActionStatusChanged       Action = "order-status-changed"
	ActionOrderDelivered      Action = "order-delivered"
	ActionOrderCancelled      Action = "order-cancelled"
	ActionInvoiceIssued       Action = "invoice-issued"
	ActionCourierAssigned     Action = "courier-assigned"
	ActionAssignmentAccepted  Action = "assignment-accepted"
	ActionLoyaltyGranted      Action = "loyalty-points-granted"
	ActionPaymentRecorded     Action = "payment-recorded"
	ActionPaymentRecordFailed Action = "payment-record-failed"
	ActionLowStock            Action = "low-stock-warning"
)

// OrderEvent is an immutable audit record of one lifecycle action. FromStatus
// and ToStatus are empty for actions that do not move the order.
type OrderEvent struct {
	ID         string
	OrderID    string
	Action     Action
	Actor      Actor
	FromStatus Status
	ToStatus   Status
	Payload    map[string]any
	OccurredAt time.Time
}
