package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"waybill/internal/domain"
	"waybill/internal/dto"
	apperrors "waybill/internal/errors"
	"waybill/internal/rpc"
)

type LifecycleService interface {
	Create(ctx context.Context, actor domain.Actor, req dto.CreateOrderRequest) (*domain.Order, error)
	Transition(ctx context.Context, actor domain.Actor, orderID string, next domain.Status, meta dto.TransitionMeta) (*domain.Order, error)
	Cancel(ctx context.Context, actor domain.Actor, orderID, reason string) (*domain.Order, error)
	AssignCourier(ctx context.Context, actor domain.Actor, orderID, courierID string) (*domain.Order, error)
	AcceptAssignment(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error)
	Get(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error)
}

type EventSource interface {
	Events(orderID string) []domain.OrderEvent
}

type OrderController struct {
	service LifecycleService
	events  EventSource
	logger  *zap.Logger
}

func NewOrderController(service LifecycleService, events EventSource, logger *zap.Logger) *OrderController {
	return &OrderController{service: service, events: events, logger: logger}
}

// actorFromRequest reads the acting identity from headers. Authentication
// itself happens upstream; the engine only needs who is acting in what role.
func actorFromRequest(r *http.Request) domain.Actor {
	actor := domain.Actor{
		ID:   r.Header.Get("X-Actor-Id"),
		Role: domain.ActorRole(r.Header.Get("X-Actor-Role")),
	}
	if actor.Role == "" {
		actor.Role = domain.ActorSystem
	}
	return actor
}

func (c *OrderController) Create(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := c.logger.With(zap.String("traceId", traceID))

	var req dto.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid JSON body", zap.Error(err))
		c.writeError(w, traceID, apperrors.NewValidationError("request body must be valid JSON"), logger)
		return
	}

	order, err := c.service.Create(r.Context(), actorFromRequest(r), req)
	if err != nil {
		c.writeError(w, traceID, err, logger)
		return
	}
	c.writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (c *OrderController) Transition(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := c.logger.With(zap.String("traceId", traceID))
	orderID := chi.URLParam(r, "orderId")

	var req dto.TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid JSON body", zap.Error(err))
		c.writeError(w, traceID, apperrors.NewValidationError("request body must be valid JSON"), logger)
		return
	}

	order, err := c.service.Transition(r.Context(), actorFromRequest(r), orderID,
		domain.Status(req.Status), dto.TransitionMeta{HandoffCode: req.HandoffCode, Reason: req.Reason})
	if err != nil {
		c.writeError(w, traceID, err, logger)
		return
	}
	c.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (c *OrderController) Cancel(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := c.logger.With(zap.String("traceId", traceID))
	orderID := chi.URLParam(r, "orderId")

	var req dto.TransitionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	order, err := c.service.Cancel(r.Context(), actorFromRequest(r), orderID, req.Reason)
	if err != nil {
		c.writeError(w, traceID, err, logger)
		return
	}
	c.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (c *OrderController) Assign(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := c.logger.With(zap.String("traceId", traceID))
	orderID := chi.URLParam(r, "orderId")

	var req dto.AssignCourierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CourierID == "" {
		c.writeError(w, traceID, apperrors.NewValidationError("courierId is required"), logger)
		return
	}

	order, err := c.service.AssignCourier(r.Context(), actorFromRequest(r), orderID, req.CourierID)
	if err != nil {
		c.writeError(w, traceID, err, logger)
		return
	}
	c.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (c *OrderController) Accept(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := c.logger.With(zap.String("traceId", traceID))
	orderID := chi.URLParam(r, "orderId")

	order, err := c.service.AcceptAssignment(r.Context(), actorFromRequest(r), orderID)
	if err != nil {
		c.writeError(w, traceID, err, logger)
		return
	}
	c.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (c *OrderController) Get(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := c.logger.With(zap.String("traceId", traceID))
	orderID := chi.URLParam(r, "orderId")

	order, err := c.service.Get(r.Context(), actorFromRequest(r), orderID)
	if err != nil {
		c.writeError(w, traceID, err, logger)
		return
	}
	c.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// History returns the audit trail of one order. Authorization piggybacks on
// Get: whoever may view the order may read its history.
func (c *OrderController) History(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := c.logger.With(zap.String("traceId", traceID))
	orderID := chi.URLParam(r, "orderId")

	if _, err := c.service.Get(r.Context(), actorFromRequest(r), orderID); err != nil {
		c.writeError(w, traceID, err, logger)
		return
	}
	c.writeJSON(w, http.StatusOK, toEventResponses(c.events.Events(orderID)))
}

type errorResponse struct {
	TraceID   string                       `json:"traceId"`
	Code      string                       `json:"code"`
	Message   string                       `json:"message"`
	Details   []apperrors.ValidationDetail `json:"details,omitempty"`
	Timestamp time.Time                    `json:"timestamp"`
}

func (c *OrderController) writeError(w http.ResponseWriter, traceID string, err error, logger *zap.Logger) {
	resp := errorResponse{TraceID: traceID, Message: err.Error(), Timestamp: time.Now().UTC()}

	if ve, ok := apperrors.IsValidationError(err); ok {
		resp.Code = "VALIDATION_ERROR"
		resp.Details = ve.Details
		c.writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	if _, ok := apperrors.IsNotFoundError(err); ok {
		resp.Code = "NOT_FOUND"
		c.writeJSON(w, http.StatusNotFound, resp)
		return
	}
	if _, ok := apperrors.IsConflictError(err); ok {
		resp.Code = "CONFLICT"
		c.writeJSON(w, http.StatusConflict, resp)
		return
	}
	if _, ok := apperrors.IsForbiddenError(err); ok {
		resp.Code = "FORBIDDEN"
		c.writeJSON(w, http.StatusForbidden, resp)
		return
	}
	if rpc.IsPermissionDenied(err) {
		resp.Code = "FORBIDDEN"
		c.writeJSON(w, http.StatusForbidden, resp)
		return
	}
	if _, ok := apperrors.IsRequiresConnectivityError(err); ok {
		resp.Code = "REQUIRES_CONNECTIVITY"
		c.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if _, ok := apperrors.IsUnavailableError(err); ok {
		resp.Code = "UNAVAILABLE"
		c.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	logger.Error("unexpected error", zap.Error(err))
	resp.Code = "INTERNAL_ERROR"
	resp.Message = "an unexpected error occurred"
	c.writeJSON(w, http.StatusInternalServerError, resp)
}

func (c *OrderController) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		c.logger.Error("failed to encode response", zap.Error(err))
	}
}

func toEventResponses(events []domain.OrderEvent) []dto.EventResponse {
	out := make([]dto.EventResponse, len(events))
	for i, event := range events {
		out[i] = dto.EventResponse{
			ID:         event.ID,
			Action:     string(event.Action),
			ActorID:    event.Actor.ID,
			ActorRole:  string(event.Actor.Role),
			FromStatus: string(event.FromStatus),
			ToStatus:   string(event.ToStatus),
			OccurredAt: event.OccurredAt,
			Payload:    event.Payload,
		}
	}
	return out
}

func toOrderResponse(order *domain.Order) dto.OrderResponse {
	payments := make([]dto.PaymentResponse, len(order.Payments))
	for i, p := range order.Payments {
		payments[i] = dto.PaymentResponse{Method: p.Method, Amount: p.Amount, RecordedAt: p.RecordedAt}
	}
	return dto.OrderResponse{
		ID:            order.ID,
		Status:        string(order.Status),
		WarehouseID:   order.WarehouseID,
		Channel:       string(order.Channel),
		CustomerID:    order.CustomerID,
		CustomerClass: string(order.CustomerClass),
		Subtotal:      order.Subtotal,
		Discount:      order.Discount,
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
		Payments:      payments,
		InvoiceNumber: order.InvoiceNumber,
		CourierID:     order.CourierID,
		HandoffCode:   order.HandoffCode,
		CreatedAt:     order.CreatedAt,
		DeliveredAt:   order.DeliveredAt,
		CancelledAt:   order.CancelledAt,
		PaidAt:        order.PaidAt,
		InvoicedAt:    order.InvoicedAt,
	}
}
