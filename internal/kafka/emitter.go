package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"waybill/internal/domain"
)

// Envelope is the wire shape downstream collaborators consume. Keyed by order
// id so every event for one order stays in partition order.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	OrderID    string          `json:"order_id"`
	Actor      string          `json:"actor"`
	ActorRole  string          `json:"actor_role"`
	FromStatus string          `json:"from_status,omitempty"`
	ToStatus   string          `json:"to_status,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Emitter publishes lifecycle events to Kafka through a buffered async
// writer. Publish never blocks the lifecycle path; a full buffer drops the
// message with a log line.
type Emitter struct {
	w      *kafka.Writer
	inbox  chan kafka.Message
	logger *zap.Logger
}

func NewEmitter(brokers []string, topic string, buf int, logger *zap.Logger) *Emitter {
	return &Emitter{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		inbox:  make(chan kafka.Message, buf),
		logger: logger,
	}
}

func (e *Emitter) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				// The inbox is never closed: Emit may still be sending
				// concurrently, and a send on a closed channel panics. Late
				// messages fill the buffer and then drop.
				for {
					select {
					case m := <-e.inbox:
						if err := e.w.WriteMessages(context.Background(), m); err != nil {
							e.logger.Warn("flushing event failed", zap.Error(err))
						}
					default:
						_ = e.w.Close()
						return
					}
				}
			case m := <-e.inbox:
				if err := e.w.WriteMessages(context.Background(), m); err != nil {
					e.logger.Warn("publishing event failed", zap.Error(err))
				}
			}
		}
	}()
}

// Emit implements audit.Sink.
func (e *Emitter) Emit(_ context.Context, event domain.OrderEvent) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		e.logger.Warn("encoding event payload failed",
			zap.String("eventId", event.ID), zap.Error(err))
		payload = nil
	}

	value, err := json.Marshal(Envelope{
		EventID:    event.ID,
		EventType:  string(event.Action),
		OccurredAt: event.OccurredAt,
		OrderID:    event.OrderID,
		Actor:      event.Actor.ID,
		ActorRole:  string(event.Actor.Role),
		FromStatus: string(event.FromStatus),
		ToStatus:   string(event.ToStatus),
		Payload:    payload,
	})
	if err != nil {
		e.logger.Warn("encoding event envelope failed",
			zap.String("eventId", event.ID), zap.Error(err))
		return
	}

	select {
	case e.inbox <- kafka.Message{Key: []byte(event.OrderID), Value: value, Time: event.OccurredAt}:
	default:
		e.logger.Warn("event buffer full, dropping",
			zap.String("eventId", event.ID), zap.String("orderId", event.OrderID))
	}
}
