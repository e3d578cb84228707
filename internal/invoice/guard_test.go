package invoice

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"waybill/internal/domain"
	"waybill/internal/order/repository"
	"waybill/internal/rpc"
)

type mockDispatcher struct {
	mu       sync.Mutex
	CallFunc func(ctx context.Context, call rpc.Call) (json.RawMessage, error)
	calls    []rpc.Call
}

func (m *mockDispatcher) Call(ctx context.Context, call rpc.Call) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	if m.CallFunc != nil {
		return m.CallFunc(ctx, call)
	}
	return nil, nil
}

func (m *mockDispatcher) named(name string) []rpc.Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rpc.Call
	for _, call := range m.calls {
		if call.Name == name {
			out = append(out, call)
		}
	}
	return out
}

type mockDeferrer struct {
	enqueued []string
}

func (m *mockDeferrer) Enqueue(kind domain.TaskKind, name string, args any) error {
	m.enqueued = append(m.enqueued, name)
	return nil
}

type memAudit struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (a *memAudit) Record(ctx context.Context, event domain.OrderEvent) domain.OrderEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return event
}

type memStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]domain.Order)}
}

func (s *memStore) Put(order *domain.Order) {
	s.mu.Lock()
	s.orders[order.ID] = *order
	s.mu.Unlock()
}

func deliveredOrder(id string) *domain.Order {
	now := time.Now().UTC()
	return &domain.Order{
		ID:            id,
		Status:        domain.StatusDelivered,
		PaymentMethod: "card",
		Subtotal:      100,
		Total:         100,
		DeliveredAt:   &now,
	}
}

func actor() domain.Actor {
	return domain.Actor{ID: "admin-1", Role: domain.ActorAdmin}
}

func numberingDispatcher(number string) *mockDispatcher {
	return &mockDispatcher{
		CallFunc: func(ctx context.Context, call rpc.Call) (json.RawMessage, error) {
			if call.Name == "assignInvoiceNumber" {
				return json.RawMessage(`{"number":"` + number + `"}`), nil
			}
			return nil, nil
		},
	}
}

func TestEligible(t *testing.T) {
	paid := time.Now()

	pending := deliveredOrder("o1")
	pending.Status = domain.StatusPending
	if Eligible(pending) {
		t.Error("undelivered order must not be eligible")
	}

	codUnpaid := deliveredOrder("o2")
	codUnpaid.PaymentMethod = domain.PaymentMethodCOD
	if Eligible(codUnpaid) {
		t.Error("unsettled cash-on-delivery order must not be eligible")
	}

	codPaid := deliveredOrder("o3")
	codPaid.PaymentMethod = domain.PaymentMethodCOD
	codPaid.PaidAt = &paid
	if !Eligible(codPaid) {
		t.Error("settled cash-on-delivery order must be eligible")
	}

	if !Eligible(deliveredOrder("o4")) {
		t.Error("delivered non-COD order must be eligible")
	}
}

func TestEnsure_IssuesExactlyOnce(t *testing.T) {
	dispatcher := numberingDispatcher("INV-2026-0001")
	audit := &memAudit{}
	g := NewGuard(dispatcher, &mockDeferrer{}, audit, newMemStore(), zap.NewNop())

	order := deliveredOrder("o1")
	if err := g.Ensure(context.Background(), order, actor()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.InvoiceNumber != "INV-2026-0001" {
		t.Fatalf("expected assigned number, got %q", order.InvoiceNumber)
	}
	firstIssuedAt := *order.InvoicedAt

	for i := 0; i < 3; i++ {
		if err := g.Ensure(context.Background(), order, actor()); err != nil {
			t.Fatalf("repeat ensure %d: %v", i, err)
		}
	}

	if order.InvoiceNumber != "INV-2026-0001" || !order.InvoicedAt.Equal(firstIssuedAt) {
		t.Errorf("repeat issuance mutated the invoice: %s at %v", order.InvoiceNumber, order.InvoicedAt)
	}
	if got := len(dispatcher.named("assignInvoiceNumber")); got != 1 {
		t.Errorf("expected one number assignment, got %d", got)
	}
	if got := len(audit.events); got != 1 {
		t.Errorf("expected one invoice-issued event, got %d", got)
	}
}

func TestEnsure_IneligibleOrderIsNoOp(t *testing.T) {
	dispatcher := &mockDispatcher{}
	g := NewGuard(dispatcher, &mockDeferrer{}, &memAudit{}, newMemStore(), zap.NewNop())

	order := deliveredOrder("o1")
	order.Status = domain.StatusOutForDelivery
	if err := g.Ensure(context.Background(), order, actor()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.InvoiceNumber != "" || order.InvoicedAt != nil || len(dispatcher.calls) != 0 {
		t.Error("ineligible order must stay untouched")
	}
}

func TestEnsure_ConcurrentAttemptsConverge(t *testing.T) {
	dispatcher := numberingDispatcher("INV-2026-0042")
	audit := &memAudit{}
	g := NewGuard(dispatcher, &mockDeferrer{}, audit, newMemStore(), zap.NewNop())

	order := deliveredOrder("o1")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Ensure(context.Background(), order, actor()); err != nil {
				t.Errorf("concurrent ensure: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(dispatcher.named("assignInvoiceNumber")); got != 1 {
		t.Errorf("expected one number assignment across racers, got %d", got)
	}
	if got := len(audit.events); got != 1 {
		t.Errorf("expected one invoice-issued event across racers, got %d", got)
	}
	if order.InvoiceSnapshot == nil || order.InvoiceSnapshot.Number != order.InvoiceNumber {
		t.Errorf("snapshot and order number diverged: %+v vs %q", order.InvoiceSnapshot, order.InvoiceNumber)
	}
}

func TestEnsure_FallbackNumberWhenGeneratorUnreachable(t *testing.T) {
	dispatcher := &mockDispatcher{
		CallFunc: func(ctx context.Context, call rpc.Call) (json.RawMessage, error) {
			if call.Name == "assignInvoiceNumber" {
				return nil, &rpc.Error{Code: rpc.CodeOffline, Message: "no route"}
			}
			return nil, nil
		},
	}
	g := NewGuard(dispatcher, &mockDeferrer{}, &memAudit{}, newMemStore(), zap.NewNop())

	order := deliveredOrder("3f2a9c11-0000-0000-0000-000000000000")
	if err := g.Ensure(context.Background(), order, actor()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(order.InvoiceNumber, "INV-3f2a9c11-") {
		t.Errorf("expected deterministic fallback number, got %q", order.InvoiceNumber)
	}
}

func TestEnsure_LedgerPostDeferredWhileUnreachable(t *testing.T) {
	dispatcher := &mockDispatcher{
		CallFunc: func(ctx context.Context, call rpc.Call) (json.RawMessage, error) {
			if call.Name == "postInvoiceIssued" {
				return nil, &rpc.Error{Code: rpc.CodeOffline, Message: "no route"}
			}
			return json.RawMessage(`{"number":"INV-2026-0007"}`), nil
		},
	}
	deferrer := &mockDeferrer{}
	g := NewGuard(dispatcher, deferrer, &memAudit{}, newMemStore(), zap.NewNop())

	order := deliveredOrder("o1")
	if err := g.Ensure(context.Background(), order, actor()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deferrer.enqueued) != 1 || deferrer.enqueued[0] != "postInvoiceIssued" {
		t.Errorf("expected ledger post queued, got %v", deferrer.enqueued)
	}
	if order.InvoiceNumber != "INV-2026-0007" {
		t.Errorf("deferred ledger post must not block issuance, got %q", order.InvoiceNumber)
	}
}

func TestEnsure_FailedLedgerPostRetriesWithSameNumber(t *testing.T) {
	failing := true
	dispatcher := &mockDispatcher{}
	dispatcher.CallFunc = func(ctx context.Context, call rpc.Call) (json.RawMessage, error) {
		switch call.Name {
		case "assignInvoiceNumber":
			return json.RawMessage(`{"number":"INV-2026-0009"}`), nil
		case "postInvoiceIssued":
			if failing {
				return nil, &rpc.Error{HTTPStatus: 500, Message: "ledger rejected"}
			}
		}
		return nil, nil
	}
	audit := &memAudit{}
	g := NewGuard(dispatcher, &mockDeferrer{}, audit, newMemStore(), zap.NewNop())

	order := deliveredOrder("o1")
	if err := g.Ensure(context.Background(), order, actor()); err == nil {
		t.Fatal("expected error from failed ledger post")
	}
	if order.Invoiced() {
		t.Fatal("order must not count as invoiced before the ledger post lands")
	}
	if len(audit.events) != 0 {
		t.Fatal("no event may be recorded for an unposted invoice")
	}

	failing = false
	if err := g.Ensure(context.Background(), order, actor()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if order.InvoiceNumber != "INV-2026-0009" {
		t.Errorf("retry must reuse the snapshotted number, got %q", order.InvoiceNumber)
	}
	if got := len(dispatcher.named("assignInvoiceNumber")); got != 1 {
		t.Errorf("expected one number assignment across retries, got %d", got)
	}
	if got := len(dispatcher.named("postInvoiceIssued")); got != 2 {
		t.Errorf("expected the ledger post retried once, got %d", got)
	}
	if got := len(audit.events); got != 1 {
		t.Errorf("expected one invoice-issued event, got %d", got)
	}
}

func TestSweep_SkipsIneligibleAndIssuesEligible(t *testing.T) {
	dispatcher := numberingDispatcher("INV-2026-0100")
	g := NewGuard(dispatcher, &mockDeferrer{}, &memAudit{}, newMemStore(), zap.NewNop())

	eligible := deliveredOrder("o1")
	ineligible := deliveredOrder("o2")
	ineligible.Status = domain.StatusPreparing

	g.Sweep(context.Background(), []*domain.Order{eligible, ineligible})

	if !eligible.Invoiced() {
		t.Error("eligible order should be invoiced by the sweep")
	}
	if ineligible.Invoiced() {
		t.Error("ineligible order must be left alone by the sweep")
	}
}

func TestSweep_PersistsIssuanceAcrossTicks(t *testing.T) {
	dispatcher := numberingDispatcher("INV-2026-0200")
	audit := &memAudit{}
	cache := repository.NewOrderCache(dispatcher, time.Second, zap.NewNop())
	g := NewGuard(dispatcher, &mockDeferrer{}, audit, cache, zap.NewNop())

	cache.Put(deliveredOrder("o1"))

	g.Sweep(context.Background(), cache.All())
	g.Sweep(context.Background(), cache.All())

	if got := len(dispatcher.named("assignInvoiceNumber")); got != 1 {
		t.Errorf("expected one number assignment across ticks, got %d", got)
	}
	if got := len(dispatcher.named("postInvoiceIssued")); got != 1 {
		t.Errorf("expected one ledger post across ticks, got %d", got)
	}
	if got := len(audit.events); got != 1 {
		t.Errorf("expected one invoice-issued event across ticks, got %d", got)
	}

	stored, err := cache.FindByID(context.Background(), "o1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stored.Invoiced() {
		t.Error("issuance outcome was not written back to the store")
	}
}
