package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"waybill/internal/domain"
	"waybill/internal/dto"
	apperrors "waybill/internal/errors"
	"waybill/internal/rpc"
	"waybill/internal/stock"
)

type Permission string

const (
	PermissionViewOrders    Permission = "orders.view"
	PermissionManageOrders  Permission = "orders.manage"
	PermissionDeliverOrders Permission = "orders.deliver"
)

// PermissionChecker is the injected authority on what an actor may do. The
// engine never looks at sessions or tokens, only at this capability check.
type PermissionChecker interface {
	Allowed(actor domain.Actor, permission Permission) bool
}

type StockCoordinator interface {
	EnsureSufficientStock(ctx context.Context, items []domain.OrderItem, warehouseID string) error
	Reserve(ctx context.Context, items []domain.OrderItem, orderID, warehouseID string) error
	Release(ctx context.Context, items []domain.OrderItem, orderID, warehouseID string) error
	ConfirmDelivery(ctx context.Context, order *domain.Order) ([]stock.LowStockWarning, error)
}

type InvoiceGuard interface {
	Ensure(ctx context.Context, order *domain.Order, actor domain.Actor) error
}

type Dispatcher interface {
	Call(ctx context.Context, call rpc.Call) (json.RawMessage, error)
}

type Deferrer interface {
	Enqueue(kind domain.TaskKind, name string, args any) error
}

type AuditLog interface {
	Record(ctx context.Context, event domain.OrderEvent) domain.OrderEvent
}

type OrderStore interface {
	Put(order *domain.Order)
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	Delete(id string)
}

// LifecycleService is the authoritative order state machine: it validates
// permission and transition legality, drives the remote side effects each
// edge triggers, and only then mutates the local copy.
type LifecycleService struct {
	orders      OrderStore
	stock       StockCoordinator
	invoices    InvoiceGuard
	dispatcher  Dispatcher
	deferrer    Deferrer
	audit       AuditLog
	permissions PermissionChecker
	logger      *zap.Logger
}

func NewLifecycleService(
	orders OrderStore,
	stockCoord StockCoordinator,
	invoices InvoiceGuard,
	dispatcher Dispatcher,
	deferrer Deferrer,
	auditLog AuditLog,
	permissions PermissionChecker,
	logger *zap.Logger,
) *LifecycleService {
	return &LifecycleService{
		orders:      orders,
		stock:       stockCoord,
		invoices:    invoices,
		dispatcher:  dispatcher,
		deferrer:    deferrer,
		audit:       auditLog,
		permissions: permissions,
		logger:      logger,
	}
}

// Create admits a new order: validates the request, checks available stock,
// reserves it, registers the order remotely and applies it to the local
// cache. Scheduled orders start in scheduled, everything else in pending.
func (s *LifecycleService) Create(ctx context.Context, actor domain.Actor, req dto.CreateOrderRequest) (*domain.Order, error) {
	ownOrder := actor.Role == domain.ActorCustomer && actor.ID == req.CustomerID
	if !ownOrder && !s.permissions.Allowed(actor, PermissionManageOrders) {
		return nil, apperrors.NewForbiddenError("not allowed to create orders")
	}

	if err := validateCreate(req); err != nil {
		return nil, err
	}

	items := make([]domain.OrderItem, len(req.Items))
	subtotal := 0.0
	for i, item := range req.Items {
		items[i] = domain.OrderItem{
			ItemID:      item.ItemID,
			Name:        item.Name,
			Quantity:    item.Quantity,
			Weight:      item.Weight,
			Unit:        domain.UnitKind(item.Unit),
			UnitPrice:   item.UnitPrice,
			AddOnsTotal: item.AddOnsTotal,
		}
		subtotal += items[i].LineTotal()
	}

	if err := s.stock.EnsureSufficientStock(ctx, items, req.WarehouseID); err != nil {
		return nil, err
	}

	status := domain.StatusPending
	if req.Scheduled {
		status = domain.StatusScheduled
	}

	order := &domain.Order{
		ID:            uuid.New().String(),
		WarehouseID:   req.WarehouseID,
		Channel:       domain.Channel(req.Channel),
		CustomerID:    req.CustomerID,
		CustomerClass: domain.CustomerClass(req.CustomerClass),
		Items:         items,
		Subtotal:      subtotal,
		Discount:      req.Discount,
		Total:         subtotal - req.Discount,
		PaymentMethod: req.PaymentMethod,
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.stock.Reserve(ctx, items, order.ID, order.WarehouseID); err != nil {
		return nil, err
	}
	order.HasReservation = true

	if err := s.callOrDefer(ctx, "createOrder", map[string]any{
		"orderId":       order.ID,
		"warehouseId":   order.WarehouseID,
		"channel":       string(order.Channel),
		"customerId":    order.CustomerID,
		"customerClass": string(order.CustomerClass),
		"items":         order.Items,
		"subtotal":      order.Subtotal,
		"discount":      order.Discount,
		"total":         order.Total,
		"paymentMethod": order.PaymentMethod,
		"status":        string(order.Status),
		"createdAt":     order.CreatedAt,
	}); err != nil {
		// The reservation was taken above; an order the backend refused must
		// not keep holding stock.
		if relErr := s.stock.Release(ctx, items, order.ID, order.WarehouseID); relErr != nil {
			s.logger.Error("releasing reservation for rejected order",
				zap.String("orderId", order.ID), zap.Error(relErr))
		}
		return nil, err
	}

	s.orders.Put(order)
	s.audit.Record(ctx, domain.OrderEvent{
		OrderID:  order.ID,
		Action:   domain.ActionOrderCreated,
		Actor:    actor,
		ToStatus: order.Status,
		Payload: map[string]any{
			"total":   order.Total,
			"channel": string(order.Channel),
		},
	})

	return order, nil
}

// Transition moves an order to its next status, firing side effects only on
// an edge that actually changes status. A same-state call is a no-op success;
// a terminal or untabled move is rejected without touching stored state.
func (s *LifecycleService) Transition(ctx context.Context, actor domain.Actor, orderID string, next domain.Status, meta dto.TransitionMeta) (*domain.Order, error) {
	if !next.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown status %q", next))
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Authorization runs before the same-state shortcut so the shortcut
	// cannot be abused to read orders the actor has no business seeing.
	if err := s.authorizeTransition(actor, order, next); err != nil {
		return nil, err
	}

	if order.Status == next {
		return order, nil
	}
	if order.Status.Terminal() {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("order %s is %s and cannot change status", orderID, order.Status))
	}
	if !domain.CanTransition(order.Status, next) {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("transition %s -> %s is not allowed", order.Status, next))
	}

	if next == domain.StatusDelivered && order.HandoffCode != "" {
		if meta.HandoffCode != order.HandoffCode {
			return nil, apperrors.NewForbiddenError("hand-off code missing or incorrect")
		}
	}

	from := order.Status

	switch next {
	case domain.StatusDelivered:
		if err := s.deliver(ctx, actor, order); err != nil {
			return nil, err
		}
	case domain.StatusCancelled:
		if err := s.cancelRemote(ctx, order, meta.Reason); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		order.CancelledAt = &now
	case domain.StatusOutForDelivery:
		now := time.Now().UTC()
		order.DispatchedAt = &now
		if order.Channel == domain.ChannelOnline && order.HandoffCode == "" {
			order.HandoffCode = newHandoffCode()
		}
		if err := s.callOrDefer(ctx, "updateOrderStatus", map[string]any{
			"orderId": order.ID,
			"status":  string(next),
		}); err != nil {
			return nil, err
		}
	default:
		if err := s.callOrDefer(ctx, "updateOrderStatus", map[string]any{
			"orderId": order.ID,
			"status":  string(next),
		}); err != nil {
			return nil, err
		}
	}

	order.Status = next
	s.orders.Put(order)

	s.audit.Record(ctx, domain.OrderEvent{
		OrderID:    order.ID,
		Action:     domain.ActionStatusChanged,
		Actor:      actor,
		FromStatus: from,
		ToStatus:   next,
	})

	switch next {
	case domain.StatusDelivered:
		s.audit.Record(ctx, domain.OrderEvent{
			OrderID:    order.ID,
			Action:     domain.ActionOrderDelivered,
			Actor:      actor,
			FromStatus: from,
			ToStatus:   next,
			Payload:    map[string]any{"total": order.Total},
		})
		s.afterDelivery(ctx, actor, order)
		s.orders.Put(order)
	case domain.StatusCancelled:
		s.audit.Record(ctx, domain.OrderEvent{
			OrderID:    order.ID,
			Action:     domain.ActionOrderCancelled,
			Actor:      actor,
			FromStatus: from,
			ToStatus:   next,
			Payload:    map[string]any{"reason": meta.Reason},
		})
	}

	return order, nil
}

// Cancel is the explicit cancellation entry point. A cancelled draft that
// never left pending is removed from the local cache when the caller marks it
// abandoned; every other order is kept for traceability.
func (s *LifecycleService) Cancel(ctx context.Context, actor domain.Actor, orderID, reason string) (*domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	wasPending := order.Status == domain.StatusPending

	cancelled, err := s.Transition(ctx, actor, orderID, domain.StatusCancelled, dto.TransitionMeta{Reason: reason})
	if err != nil {
		return nil, err
	}

	if wasPending && reason == "abandoned-draft" {
		s.orders.Delete(orderID)
	}
	return cancelled, nil
}

// AssignCourier attaches a fulfillment agent to the order. The courier gains
// delivery authority only after accepting the assignment.
func (s *LifecycleService) AssignCourier(ctx context.Context, actor domain.Actor, orderID, courierID string) (*domain.Order, error) {
	if !s.permissions.Allowed(actor, PermissionManageOrders) {
		return nil, apperrors.NewForbiddenError("not allowed to assign couriers")
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("order %s is %s and cannot be assigned", orderID, order.Status))
	}

	if err := s.callOrDefer(ctx, "assignFulfillmentAgent", map[string]any{
		"orderId":   order.ID,
		"courierId": courierID,
	}); err != nil {
		return nil, err
	}

	order.CourierID = courierID
	order.CourierAccepted = false
	s.orders.Put(order)

	s.audit.Record(ctx, domain.OrderEvent{
		OrderID: order.ID,
		Action:  domain.ActionCourierAssigned,
		Actor:   actor,
		Payload: map[string]any{"courierId": courierID},
	})
	return order, nil
}

func (s *LifecycleService) AcceptAssignment(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CourierID != actor.ID {
		return nil, apperrors.NewForbiddenError("order is not assigned to this courier")
	}
	if order.CourierAccepted {
		return order, nil
	}

	if err := s.callOrDefer(ctx, "acceptAssignment", map[string]any{
		"orderId":   order.ID,
		"courierId": actor.ID,
	}); err != nil {
		return nil, err
	}

	order.CourierAccepted = true
	s.orders.Put(order)

	s.audit.Record(ctx, domain.OrderEvent{
		OrderID: order.ID,
		Action:  domain.ActionAssignmentAccepted,
		Actor:   actor,
	})
	return order, nil
}

func (s *LifecycleService) Get(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	if !s.permissions.Allowed(actor, PermissionViewOrders) {
		return nil, apperrors.NewForbiddenError("not allowed to view orders")
	}
	return s.orders.FindByID(ctx, orderID)
}

func (s *LifecycleService) authorizeTransition(actor domain.Actor, order *domain.Order, next domain.Status) error {
	if actor.Role == domain.ActorCourier {
		if next != domain.StatusOutForDelivery && next != domain.StatusDelivered {
			return apperrors.NewForbiddenError("couriers may only dispatch or deliver")
		}
		if !s.permissions.Allowed(actor, PermissionDeliverOrders) {
			return apperrors.NewForbiddenError("missing delivery permission")
		}
		if order.CourierID != actor.ID {
			return apperrors.NewForbiddenError("order is not assigned to this courier")
		}
		if !order.CourierAccepted {
			return apperrors.NewForbiddenError("assignment has not been accepted")
		}
		return nil
	}

	if actor.Role == domain.ActorCustomer {
		if next == domain.StatusCancelled && order.CustomerID == actor.ID &&
			(order.Status == domain.StatusScheduled || order.Status == domain.StatusPending) {
			return nil
		}
		return apperrors.NewForbiddenError("customers may only cancel their own unstarted orders")
	}

	if !s.permissions.Allowed(actor, PermissionManageOrders) {
		return apperrors.NewForbiddenError("missing order management permission")
	}
	return nil
}

// deliver runs the side effects that must succeed before the order may be
// marked delivered. The stock deduction is deny-listed: it either lands
// online or the whole transition fails with a connectivity error.
func (s *LifecycleService) deliver(ctx context.Context, actor domain.Actor, order *domain.Order) error {
	now := time.Now().UTC()
	order.DeliveredAt = &now

	warnings, err := s.stock.ConfirmDelivery(ctx, order)
	if err != nil {
		order.DeliveredAt = nil
		return err
	}
	order.HasReservation = false

	for _, warning := range warnings {
		s.logger.Warn("item low on stock after delivery",
			zap.String("orderId", order.ID),
			zap.String("itemId", warning.ItemID),
			zap.Float64("available", warning.Available))
		s.audit.Record(ctx, domain.OrderEvent{
			OrderID: order.ID,
			Action:  domain.ActionLowStock,
			Actor:   domain.Actor{ID: "stock", Role: domain.ActorSystem},
			Payload: map[string]any{
				"itemId":    warning.ItemID,
				"available": warning.Available,
			},
		})
	}
	return nil
}

// afterDelivery runs the best-effort follow-ups: payment recording, loyalty
// award and invoice issuance. None of them roll back a delivery that already
// deducted stock.
func (s *LifecycleService) afterDelivery(ctx context.Context, actor domain.Actor, order *domain.Order) {
	if order.CustomerClass != domain.CustomerCredit && order.Balance() > 0 {
		s.recordBalancePayment(ctx, actor, order)
	}

	s.audit.Record(ctx, domain.OrderEvent{
		OrderID: order.ID,
		Action:  domain.ActionLoyaltyGranted,
		Actor:   domain.Actor{ID: "loyalty", Role: domain.ActorSystem},
		Payload: map[string]any{
			"customerId": order.CustomerID,
			"points":     order.LoyaltyPoints(),
		},
	})

	if err := s.invoices.Ensure(ctx, order, actor); err != nil {
		s.logger.Warn("invoice issuance failed after delivery",
			zap.String("orderId", order.ID), zap.Error(err))
	}
}

// recordBalancePayment settles the remaining unpaid balance. A failure here
// leaves the order delivered but unpaid; the stock deduction has already
// committed, so the outcome is audited for reconciliation instead of rolled
// back.
func (s *LifecycleService) recordBalancePayment(ctx context.Context, actor domain.Actor, order *domain.Order) {
	amount := order.Balance()
	now := time.Now().UTC()
	key := fmt.Sprintf("pay:%s:%d:%d", order.ID, now.Unix(), len(order.Payments))

	_, err := s.dispatcher.Call(ctx, rpc.Call{
		Name: "recordPayment",
		Payload: map[string]any{
			"orderId":        order.ID,
			"amount":         amount,
			"method":         order.PaymentMethod,
			"occurredAt":     now,
			"idempotencyKey": key,
		},
		DirectArgs: []any{order.ID, amount, order.PaymentMethod, now, key},
	})
	if err != nil {
		s.logger.Error("recording payment failed, order delivered but unpaid",
			zap.String("orderId", order.ID),
			zap.Float64("amount", amount),
			zap.Error(err))
		s.audit.Record(ctx, domain.OrderEvent{
			OrderID: order.ID,
			Action:  domain.ActionPaymentRecordFailed,
			Actor:   actor,
			Payload: map[string]any{"amount": amount, "error": err.Error()},
		})
		return
	}

	order.Payments = append(order.Payments, domain.PaymentEntry{
		Method:         order.PaymentMethod,
		Amount:         amount,
		RecordedAt:     now,
		IdempotencyKey: key,
	})
	if order.Balance() == 0 {
		order.PaidAt = &now
	}

	s.audit.Record(ctx, domain.OrderEvent{
		OrderID: order.ID,
		Action:  domain.ActionPaymentRecorded,
		Actor:   actor,
		Payload: map[string]any{"amount": amount, "method": order.PaymentMethod},
	})
}

// cancelRemote releases any held reservation and invokes the remote
// cancellation. Transient failures defer; anything else aborts the
// transition.
func (s *LifecycleService) cancelRemote(ctx context.Context, order *domain.Order, reason string) error {
	if order.HasReservation {
		if err := s.stock.Release(ctx, order.Items, order.ID, order.WarehouseID); err != nil {
			return err
		}
		order.HasReservation = false
	}
	return s.callOrDefer(ctx, "cancelOrder", map[string]any{
		"orderId": order.ID,
		"reason":  reason,
	})
}

func (s *LifecycleService) callOrDefer(ctx context.Context, name string, payload map[string]any) error {
	_, err := s.dispatcher.Call(ctx, rpc.Call{Name: name, Payload: payload})
	if err == nil {
		return nil
	}
	if rpc.IsUnavailable(err) {
		if qErr := s.deferrer.Enqueue(domain.TaskProcedure, name, payload); qErr != nil {
			return qErr
		}
		s.logger.Info("operation deferred to offline queue", zap.String("procedure", name))
		return nil
	}
	return err
}

func validateCreate(req dto.CreateOrderRequest) error {
	var details []apperrors.ValidationDetail

	if req.WarehouseID == "" {
		details = append(details, apperrors.ValidationDetail{
			Field: "warehouseId", Message: "warehouseId is required",
		})
	}
	if req.CustomerID == "" {
		details = append(details, apperrors.ValidationDetail{
			Field: "customerId", Message: "customerId is required",
		})
	}
	if len(req.Items) == 0 {
		details = append(details, apperrors.ValidationDetail{
			Field: "items", Message: "items must not be empty",
		})
	}
	for idx, item := range req.Items {
		if item.ItemID == "" {
			details = append(details, apperrors.ValidationDetail{
				Field:   fmt.Sprintf("items[%d].itemId", idx),
				Message: "itemId is required",
			})
		}
		if domain.UnitKind(item.Unit) == domain.UnitWeight {
			if item.Weight <= 0 {
				details = append(details, apperrors.ValidationDetail{
					Field:   fmt.Sprintf("items[%d].weight", idx),
					Message: "weight must be positive",
				})
			}
		} else if item.Quantity <= 0 {
			details = append(details, apperrors.ValidationDetail{
				Field:   fmt.Sprintf("items[%d].quantity", idx),
				Message: "quantity must be positive",
			})
		}
		if item.UnitPrice < 0 {
			details = append(details, apperrors.ValidationDetail{
				Field:   fmt.Sprintf("items[%d].unitPrice", idx),
				Message: "unitPrice must be non-negative",
			})
		}
	}

	if len(details) > 0 {
		return apperrors.NewValidationError("validation failed", details...)
	}
	return nil
}

func newHandoffCode() string {
	return strings.ToUpper(uuid.New().String()[:6])
}
