package stock

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"waybill/internal/domain"
	apperrors "waybill/internal/errors"
	"waybill/internal/rpc"
)

// RecordSource supplies current stock records. The backend is the source of
// truth for quantities; this read path is the only local view of them.
type RecordSource interface {
	FindRecord(ctx context.Context, itemID, warehouseID string) (*domain.StockRecord, error)
}

type Dispatcher interface {
	Call(ctx context.Context, call rpc.Call) (json.RawMessage, error)
}

type Deferrer interface {
	Enqueue(kind domain.TaskKind, name string, args any) error
}

type Connectivity interface {
	Online() bool
}

// LowStockWarning is surfaced by the backend when a deduction leaves an item
// at or under its threshold.
type LowStockWarning struct {
	ItemID    string  `json:"itemId"`
	Available float64 `json:"available"`
}

// Coordinator admits sales only when available stock covers them and keeps
// reservation bookkeeping consistent with delivery and cancellation outcomes.
// All mutations go through remote calls; quantities are never adjusted
// locally.
type Coordinator struct {
	records    RecordSource
	dispatcher Dispatcher
	deferrer   Deferrer
	conn       Connectivity
	logger     *zap.Logger
}

func NewCoordinator(records RecordSource, dispatcher Dispatcher, deferrer Deferrer, conn Connectivity, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		records:    records,
		dispatcher: dispatcher,
		deferrer:   deferrer,
		conn:       conn,
		logger:     logger,
	}
}

type stockItem struct {
	ItemID   string  `json:"itemId"`
	Quantity float64 `json:"quantity"`
}

func toStockItems(items []domain.OrderItem) []stockItem {
	out := make([]stockItem, len(items))
	for i, item := range items {
		out[i] = stockItem{ItemID: item.ItemID, Quantity: item.RequestedQuantity()}
	}
	return out
}

// EnsureSufficientStock verifies every line fits within available minus
// reserved for its item and warehouse. Fails on the first short line, naming
// the item and the shortfall. Requesting exactly the available amount passes.
func (c *Coordinator) EnsureSufficientStock(ctx context.Context, items []domain.OrderItem, warehouseID string) error {
	for _, item := range items {
		record, err := c.records.FindRecord(ctx, item.ItemID, warehouseID)
		if err != nil {
			return err
		}

		requested := item.RequestedQuantity()
		available := record.Available()
		if requested > available {
			return apperrors.NewValidationError(
				fmt.Sprintf("insufficient stock for %s: requested %g, available %g (short %g)",
					item.ItemID, requested, available, requested-available),
				apperrors.ValidationDetail{
					Field:   item.ItemID,
					Message: fmt.Sprintf("short by %g", requested-available),
				},
			)
		}
	}
	return nil
}

// Reserve adjusts reserved quantities for an order that will sit in a held
// state before confirmation. Transient failures are deferred to the queue.
func (c *Coordinator) Reserve(ctx context.Context, items []domain.OrderItem, orderID, warehouseID string) error {
	payload := map[string]any{
		"items":       toStockItems(items),
		"orderId":     orderID,
		"warehouseId": warehouseID,
	}
	call := rpc.Call{
		Name:       "reserveStock",
		Payload:    payload,
		DirectArgs: []any{toStockItems(items), orderID, warehouseID},
		LegacyArgs: []any{toStockItems(items)},
	}
	return c.callOrDefer(ctx, call, payload)
}

// Release returns a held reservation, on cancellation or abandonment.
func (c *Coordinator) Release(ctx context.Context, items []domain.OrderItem, orderID, warehouseID string) error {
	payload := map[string]any{
		"items":       toStockItems(items),
		"orderId":     orderID,
		"warehouseId": warehouseID,
	}
	call := rpc.Call{
		Name:       "releaseReservedStock",
		Payload:    payload,
		DirectArgs: []any{toStockItems(items), orderID, warehouseID},
	}
	return c.callOrDefer(ctx, call, payload)
}

func (c *Coordinator) callOrDefer(ctx context.Context, call rpc.Call, payload map[string]any) error {
	_, err := c.dispatcher.Call(ctx, call)
	if err == nil {
		return nil
	}
	if rpc.IsUnavailable(err) {
		if qErr := c.deferrer.Enqueue(domain.TaskProcedure, call.Name, payload); qErr != nil {
			return qErr
		}
		c.logger.Info("stock operation deferred to offline queue", zap.String("procedure", call.Name))
		return nil
	}
	return err
}

// ConfirmDelivery deducts stock for a delivered order, choosing the plain
// deduction for standard customers and the deduction with credit-ledger
// posting for credit customers. Never deferred: the ledger posting and the
// deduction must land atomically, so the call has to succeed online.
func (c *Coordinator) ConfirmDelivery(ctx context.Context, order *domain.Order) ([]LowStockWarning, error) {
	name := "confirmDelivery"
	if order.CustomerClass == domain.CustomerCredit {
		name = "confirmDeliveryWithCredit"
	}

	if !c.conn.Online() {
		return nil, apperrors.NewRequiresConnectivityError(name)
	}

	snapshot := map[string]any{
		"status":      string(domain.StatusDelivered),
		"total":       order.Total,
		"paidTotal":   order.PaidTotal(),
		"customerId":  order.CustomerID,
		"deliveredAt": order.DeliveredAt,
	}
	call := rpc.Call{
		Name: name,
		Payload: map[string]any{
			"orderId":     order.ID,
			"items":       toStockItems(order.Items),
			"order":       snapshot,
			"warehouseId": order.WarehouseID,
		},
		DirectArgs: []any{order.ID, toStockItems(order.Items), snapshot, order.WarehouseID},
	}

	result, err := c.dispatcher.Call(ctx, call)
	if err != nil {
		if rpc.IsUnavailable(err) {
			return nil, apperrors.NewRequiresConnectivityError(name)
		}
		return nil, err
	}

	var decoded struct {
		LowStock []LowStockWarning `json:"lowStock"`
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &decoded); err != nil {
			c.logger.Warn("unreadable confirm-delivery response", zap.Error(err))
		}
	}
	return decoded.LowStock, nil
}
