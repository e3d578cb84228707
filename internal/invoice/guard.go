package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"waybill/internal/domain"
	"waybill/internal/rpc"
)

type Dispatcher interface {
	Call(ctx context.Context, call rpc.Call) (json.RawMessage, error)
}

type Deferrer interface {
	Enqueue(kind domain.TaskKind, name string, args any) error
}

type AuditLog interface {
	Record(ctx context.Context, event domain.OrderEvent) domain.OrderEvent
}

// OrderStore persists issuance outcomes. Callers hand Ensure detached copies
// (the sweep iterates over cache snapshots), so the guard writes the mutated
// order back itself.
type OrderStore interface {
	Put(order *domain.Order)
}

// Guard gives each eligible order exactly one invoice number and issuance
// timestamp, however many times issuance is triggered: the background sweep,
// an explicit request, and the delivery side effect all converge here.
type Guard struct {
	dispatcher Dispatcher
	deferrer   Deferrer
	audit      AuditLog
	orders     OrderStore
	logger     *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewGuard(dispatcher Dispatcher, deferrer Deferrer, audit AuditLog, orders OrderStore, logger *zap.Logger) *Guard {
	return &Guard{
		dispatcher: dispatcher,
		deferrer:   deferrer,
		audit:      audit,
		orders:     orders,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (g *Guard) orderLock(orderID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[orderID] = lock
	}
	return lock
}

// Eligible reports whether the order may be invoiced now: delivered, and for
// cash-on-delivery orders also settled.
func Eligible(order *domain.Order) bool {
	if order.Status != domain.StatusDelivered {
		return false
	}
	if order.IsCOD() && order.PaidAt == nil {
		return false
	}
	return true
}

// Ensure issues the invoice if the order is eligible and not yet invoiced.
// Ineligible and already-invoiced orders are a no-op. Concurrent attempts on
// the same order serialize on a per-order lock and converge to one outcome.
func (g *Guard) Ensure(ctx context.Context, order *domain.Order, actor domain.Actor) error {
	lock := g.orderLock(order.ID)
	lock.Lock()
	defer lock.Unlock()

	if !Eligible(order) {
		return nil
	}
	if order.Invoiced() {
		return nil
	}

	var number string
	var issuedAt time.Time

	// The snapshot is written once and never overwritten. A retry after a
	// failed ledger post reuses the number it minted instead of asking the
	// generator again.
	if order.InvoiceSnapshot == nil {
		number = g.assignNumber(ctx, order)
		issuedAt = time.Now().UTC()
		order.InvoiceSnapshot = &domain.InvoiceSnapshot{
			Number:   number,
			IssuedAt: issuedAt,
			Subtotal: order.Subtotal,
			Discount: order.Discount,
			Total:    order.Total,
			Payments: append([]domain.PaymentEntry(nil), order.Payments...),
			Items:    append([]domain.OrderItem(nil), order.Items...),
		}
		g.orders.Put(order)
	} else {
		number = order.InvoiceSnapshot.Number
		issuedAt = order.InvoiceSnapshot.IssuedAt
	}

	// The order counts as invoiced only once the ledger post has landed (or
	// was queued for the drain). A failed post leaves InvoicedAt unset so a
	// later attempt retries the post with the snapshotted number.
	if err := g.postIssued(ctx, order.ID, issuedAt); err != nil {
		return err
	}

	order.InvoiceNumber = number
	order.InvoicedAt = &issuedAt
	g.orders.Put(order)

	g.audit.Record(ctx, domain.OrderEvent{
		OrderID: order.ID,
		Action:  domain.ActionInvoiceIssued,
		Actor:   actor,
		Payload: map[string]any{
			"invoiceNumber": number,
			"issuedAt":      issuedAt,
		},
	})

	g.logger.Info("invoice issued",
		zap.String("orderId", order.ID),
		zap.String("invoiceNumber", number))
	return nil
}

// Sweep attempts issuance over a batch of recently fetched orders.
func (g *Guard) Sweep(ctx context.Context, orders []*domain.Order) {
	for _, order := range orders {
		if err := g.Ensure(ctx, order, domain.Actor{ID: "sweep", Role: domain.ActorSystem}); err != nil {
			g.logger.Warn("invoice sweep attempt failed",
				zap.String("orderId", order.ID), zap.Error(err))
		}
	}
}

// assignNumber asks the remote sequence generator, falling back to a
// deterministic number derived from order id and time when it is unreachable.
func (g *Guard) assignNumber(ctx context.Context, order *domain.Order) string {
	result, err := g.dispatcher.Call(ctx, rpc.Call{
		Name:       "assignInvoiceNumber",
		Payload:    map[string]any{"orderId": order.ID},
		DirectArgs: []any{order.ID},
	})
	if err == nil {
		var decoded struct {
			Number string `json:"number"`
		}
		if jsonErr := json.Unmarshal(result, &decoded); jsonErr == nil && decoded.Number != "" {
			return decoded.Number
		}
	}

	prefix := order.ID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	fallback := fmt.Sprintf("INV-%s-%d", prefix, time.Now().Unix())
	g.logger.Warn("invoice number generator unavailable, using fallback",
		zap.String("orderId", order.ID), zap.String("invoiceNumber", fallback))
	return fallback
}

func (g *Guard) postIssued(ctx context.Context, orderID string, issuedAt time.Time) error {
	payload := map[string]any{"orderId": orderID, "issuedAt": issuedAt}
	_, err := g.dispatcher.Call(ctx, rpc.Call{
		Name:       "postInvoiceIssued",
		Payload:    payload,
		DirectArgs: []any{orderID, issuedAt},
	})
	if err == nil {
		return nil
	}
	if rpc.IsUnavailable(err) {
		return g.deferrer.Enqueue(domain.TaskProcedure, "postInvoiceIssued", payload)
	}
	return err
}
