package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"waybill/internal/domain"
	apperrors "waybill/internal/errors"
	"waybill/internal/rpc"
)

type Dispatcher interface {
	Call(ctx context.Context, call rpc.Call) (json.RawMessage, error)
}

// OrderCache is the local read-through view of orders. Writes are applied
// optimistically after the lifecycle service has confirmed the remote side;
// reads fall back to the backend and merge the incoming snapshot.
type OrderCache struct {
	dispatcher Dispatcher
	timeout    time.Duration
	logger     *zap.Logger

	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewOrderCache(dispatcher Dispatcher, timeout time.Duration, logger *zap.Logger) *OrderCache {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OrderCache{
		dispatcher: dispatcher,
		timeout:    timeout,
		logger:     logger,
		orders:     make(map[string]*domain.Order),
	}
}

// Put stores a copy of the order locally.
func (c *OrderCache) Put(order *domain.Order) {
	copied := *order
	c.mu.Lock()
	c.orders[order.ID] = &copied
	c.mu.Unlock()
}

// FindByID returns the cached order or fetches it from the backend. A fetch
// that times out or fails transiently surfaces as not-found without touching
// the cache.
func (c *OrderCache) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	c.mu.RLock()
	cached, ok := c.orders[id]
	c.mu.RUnlock()
	if ok {
		copied := *cached
		return &copied, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.dispatcher.Call(fetchCtx, rpc.Call{
		Name:       "fetchOrder",
		Payload:    map[string]any{"orderId": id},
		DirectArgs: []any{id},
	})
	if err != nil {
		if rpc.IsUnavailable(err) {
			c.logger.Warn("order fetch unavailable", zap.String("orderId", id), zap.Error(err))
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", id))
		}
		return nil, err
	}

	incoming, err := decodeOrder(result)
	if err != nil {
		return nil, err
	}
	if incoming == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", id))
	}

	merged := c.Merge(incoming)
	copied := *merged
	return &copied, nil
}

// Merge reconciles an incoming remote snapshot with the local copy and
// returns the stored result. A terminal local status is never regressed by a
// stale snapshot, and an existing invoice snapshot is never discarded.
func (c *OrderCache) Merge(incoming *domain.Order) *domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.orders[incoming.ID]
	if !ok {
		copied := *incoming
		c.orders[incoming.ID] = &copied
		return &copied
	}

	merged := *incoming
	if existing.Status.Terminal() && !incoming.Status.Terminal() {
		merged.Status = existing.Status
		merged.DeliveredAt = existing.DeliveredAt
		merged.CancelledAt = existing.CancelledAt
	}
	if merged.InvoiceSnapshot == nil && existing.InvoiceSnapshot != nil {
		merged.InvoiceSnapshot = existing.InvoiceSnapshot
		merged.InvoiceNumber = existing.InvoiceNumber
		merged.InvoicedAt = existing.InvoicedAt
	}
	c.orders[incoming.ID] = &merged
	return &merged
}

// All returns copies of every cached order, for the invoice sweep.
func (c *OrderCache) All() []*domain.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.Order, 0, len(c.orders))
	for _, order := range c.orders {
		copied := *order
		out = append(out, &copied)
	}
	return out
}

// Delete removes an order. Only cancelled drafts still pending are ever
// deleted; the lifecycle service enforces that.
func (c *OrderCache) Delete(id string) {
	c.mu.Lock()
	delete(c.orders, id)
	c.mu.Unlock()
}

type wireItem struct {
	ItemID      string  `json:"itemId"`
	Name        string  `json:"name"`
	Quantity    int     `json:"quantity"`
	Weight      float64 `json:"weight"`
	Unit        string  `json:"unit"`
	UnitPrice   float64 `json:"unitPrice"`
	AddOnsTotal float64 `json:"addOnsTotal"`
}

type wirePayment struct {
	Method         string    `json:"method"`
	Amount         float64   `json:"amount"`
	RecordedAt     time.Time `json:"recordedAt"`
	IdempotencyKey string    `json:"idempotencyKey"`
}

type wireOrder struct {
	ID              string        `json:"id"`
	WarehouseID     string        `json:"warehouseId"`
	Channel         string        `json:"channel"`
	CustomerID      string        `json:"customerId"`
	CustomerClass   string        `json:"customerClass"`
	Items           []wireItem    `json:"items"`
	Subtotal        float64       `json:"subtotal"`
	Discount        float64       `json:"discount"`
	Total           float64       `json:"total"`
	PaymentMethod   string        `json:"paymentMethod"`
	Payments        []wirePayment `json:"payments"`
	Status          string        `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	DispatchedAt    *time.Time    `json:"dispatchedAt"`
	DeliveredAt     *time.Time    `json:"deliveredAt"`
	CancelledAt     *time.Time    `json:"cancelledAt"`
	PaidAt          *time.Time    `json:"paidAt"`
	InvoicedAt      *time.Time    `json:"invoicedAt"`
	InvoiceNumber   string        `json:"invoiceNumber"`
	CourierID       string        `json:"courierId"`
	CourierAccepted bool          `json:"courierAccepted"`
	HandoffCode     string        `json:"handoffCode"`
	HasReservation  bool          `json:"hasReservation"`
}

func decodeOrder(raw json.RawMessage) (*domain.Order, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var w wireOrder
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decoding order snapshot: %w", err)
	}
	if w.ID == "" {
		return nil, nil
	}

	items := make([]domain.OrderItem, len(w.Items))
	for i, item := range w.Items {
		items[i] = domain.OrderItem{
			ItemID:      item.ItemID,
			Name:        item.Name,
			Quantity:    item.Quantity,
			Weight:      item.Weight,
			Unit:        domain.UnitKind(item.Unit),
			UnitPrice:   item.UnitPrice,
			AddOnsTotal: item.AddOnsTotal,
		}
	}
	payments := make([]domain.PaymentEntry, len(w.Payments))
	for i, p := range w.Payments {
		payments[i] = domain.PaymentEntry{
			Method:         p.Method,
			Amount:         p.Amount,
			RecordedAt:     p.RecordedAt,
			IdempotencyKey: p.IdempotencyKey,
		}
	}

	return &domain.Order{
		ID:              w.ID,
		WarehouseID:     w.WarehouseID,
		Channel:         domain.Channel(w.Channel),
		CustomerID:      w.CustomerID,
		CustomerClass:   domain.CustomerClass(w.CustomerClass),
		Items:           items,
		Subtotal:        w.Subtotal,
		Discount:        w.Discount,
		Total:           w.Total,
		PaymentMethod:   w.PaymentMethod,
		Payments:        payments,
		Status:          domain.Status(w.Status),
		CreatedAt:       w.CreatedAt,
		DispatchedAt:    w.DispatchedAt,
		DeliveredAt:     w.DeliveredAt,
		CancelledAt:     w.CancelledAt,
		PaidAt:          w.PaidAt,
		InvoicedAt:      w.InvoicedAt,
		InvoiceNumber:   w.InvoiceNumber,
		CourierID:       w.CourierID,
		CourierAccepted: w.CourierAccepted,
		HandoffCode:     w.HandoffCode,
		HasReservation:  w.HasReservation,
	}, nil
}
