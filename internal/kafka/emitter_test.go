package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"waybill/internal/domain"
)

func event(id string) domain.OrderEvent {
	return domain.OrderEvent{
		ID:         id,
		OrderID:    "o1",
		Action:     domain.ActionOrderCreated,
		Actor:      domain.Actor{ID: "admin-1", Role: domain.ActorAdmin},
		OccurredAt: time.Now().UTC(),
	}
}

func TestEmit_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	e := NewEmitter([]string{"localhost:9092"}, "order-events", 1, zap.NewNop())

	// Nothing consumes the inbox, so the second emit must drop, not block.
	done := make(chan struct{})
	go func() {
		e.Emit(context.Background(), event("e1"))
		e.Emit(context.Background(), event("e2"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full buffer")
	}
}

func TestEmit_DuringShutdownDoesNotPanic(t *testing.T) {
	e := NewEmitter([]string{"localhost:9092"}, "order-events", 4, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				e.Emit(context.Background(), event("e1"))
			}
		}()
	}
	cancel()
	wg.Wait()

	// Late emits after the flush goroutine has exited must also be safe.
	time.Sleep(20 * time.Millisecond)
	e.Emit(context.Background(), event("e2"))
}
