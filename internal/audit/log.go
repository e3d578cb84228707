package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"waybill/internal/domain"
)

// Sink receives every recorded event. Downstream collaborators (notification,
// loyalty, challenge progress) subscribe through sinks; failures there never
// affect the lifecycle action being audited.
type Sink interface {
	Emit(ctx context.Context, event domain.OrderEvent)
}

// Log is the append-only record of lifecycle actions. Events are never
// mutated or deleted once recorded.
type Log struct {
	logger *zap.Logger
	sinks  []Sink

	mu     sync.RWMutex
	events []domain.OrderEvent
}

func NewLog(logger *zap.Logger, sinks ...Sink) *Log {
	return &Log{logger: logger, sinks: sinks}
}

// Record stamps and appends the event, then fans it out to sinks.
func (l *Log) Record(ctx context.Context, event domain.OrderEvent) domain.OrderEvent {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	l.logger.Info("order event",
		zap.String("eventId", event.ID),
		zap.String("orderId", event.OrderID),
		zap.String("action", string(event.Action)),
		zap.String("actor", event.Actor.ID),
		zap.String("from", string(event.FromStatus)),
		zap.String("to", string(event.ToStatus)))

	for _, sink := range l.sinks {
		sink.Emit(ctx, event)
	}
	return event
}

// Events returns the recorded history for one order, oldest first.
func (l *Log) Events(orderID string) []domain.OrderEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.OrderEvent
	for _, event := range l.events {
		if event.OrderID == orderID {
			out = append(out, event)
		}
	}
	return out
}
