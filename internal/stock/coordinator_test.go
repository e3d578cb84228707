package stock

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"

	"waybill/internal/domain"
	apperrors "waybill/internal/errors"
	"waybill/internal/rpc"
)

type mockRecordSource struct {
	FindRecordFunc func(ctx context.Context, itemID, warehouseID string) (*domain.StockRecord, error)
}

func (m *mockRecordSource) FindRecord(ctx context.Context, itemID, warehouseID string) (*domain.StockRecord, error) {
	return m.FindRecordFunc(ctx, itemID, warehouseID)
}

type mockDispatcher struct {
	CallFunc func(ctx context.Context, call rpc.Call) (json.RawMessage, error)
	calls    []rpc.Call
}

func (m *mockDispatcher) Call(ctx context.Context, call rpc.Call) (json.RawMessage, error) {
	m.calls = append(m.calls, call)
	if m.CallFunc != nil {
		return m.CallFunc(ctx, call)
	}
	return nil, nil
}

type mockDeferrer struct {
	enqueued []string
}

func (m *mockDeferrer) Enqueue(kind domain.TaskKind, name string, args any) error {
	m.enqueued = append(m.enqueued, name)
	return nil
}

type stubConn struct {
	online bool
}

func (c *stubConn) Online() bool { return c.online }

func recordsFor(records map[string]*domain.StockRecord) *mockRecordSource {
	return &mockRecordSource{
		FindRecordFunc: func(ctx context.Context, itemID, warehouseID string) (*domain.StockRecord, error) {
			record, ok := records[itemID]
			if !ok {
				return nil, apperrors.NewNotFoundError("stock record for " + itemID + " not found")
			}
			return record, nil
		},
	}
}

func newTestCoordinator(records RecordSource, dispatcher Dispatcher, deferrer Deferrer, online bool) *Coordinator {
	return NewCoordinator(records, dispatcher, deferrer, &stubConn{online: online}, zap.NewNop())
}

func TestEnsureSufficientStock_RejectsFirstShortLine(t *testing.T) {
	records := recordsFor(map[string]*domain.StockRecord{
		"item-a": {ItemID: "item-a", AvailableQuantity: 5, ReservedQuantity: 0},
		"item-b": {ItemID: "item-b", AvailableQuantity: 0, ReservedQuantity: 0},
	})
	c := newTestCoordinator(records, &mockDispatcher{}, &mockDeferrer{}, true)

	items := []domain.OrderItem{
		{ItemID: "item-a", Quantity: 3, Unit: domain.UnitPiece},
		{ItemID: "item-b", Quantity: 1, Unit: domain.UnitPiece},
	}

	err := c.EnsureSufficientStock(context.Background(), items, "wh-1")
	ve, ok := apperrors.IsValidationError(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(ve.Message, "item-b") {
		t.Errorf("expected failure to cite item-b, got %q", ve.Message)
	}
	if len(ve.Details) != 1 || ve.Details[0].Field != "item-b" {
		t.Errorf("expected detail for item-b, got %+v", ve.Details)
	}
}

func TestEnsureSufficientStock_ReservedCountsAgainstAvailable(t *testing.T) {
	records := recordsFor(map[string]*domain.StockRecord{
		"item-a": {ItemID: "item-a", AvailableQuantity: 5, ReservedQuantity: 3},
	})
	c := newTestCoordinator(records, &mockDispatcher{}, &mockDeferrer{}, true)

	err := c.EnsureSufficientStock(context.Background(),
		[]domain.OrderItem{{ItemID: "item-a", Quantity: 3, Unit: domain.UnitPiece}}, "wh-1")
	if _, ok := apperrors.IsValidationError(err); !ok {
		t.Fatalf("expected ValidationError when request exceeds available minus reserved, got %v", err)
	}
}

func TestEnsureSufficientStock_BoundaryEqualityPasses(t *testing.T) {
	records := recordsFor(map[string]*domain.StockRecord{
		"item-a": {ItemID: "item-a", AvailableQuantity: 5, ReservedQuantity: 2},
	})
	c := newTestCoordinator(records, &mockDispatcher{}, &mockDeferrer{}, true)

	err := c.EnsureSufficientStock(context.Background(),
		[]domain.OrderItem{{ItemID: "item-a", Quantity: 3, Unit: domain.UnitPiece}}, "wh-1")
	if err != nil {
		t.Fatalf("expected exact-available request to pass, got %v", err)
	}
}

func TestEnsureSufficientStock_WeighedItemsUseWeight(t *testing.T) {
	records := recordsFor(map[string]*domain.StockRecord{
		"flour": {ItemID: "flour", AvailableQuantity: 2.5, Unit: domain.UnitWeight},
	})
	c := newTestCoordinator(records, &mockDispatcher{}, &mockDeferrer{}, true)

	ok := c.EnsureSufficientStock(context.Background(),
		[]domain.OrderItem{{ItemID: "flour", Weight: 2.5, Quantity: 99, Unit: domain.UnitWeight}}, "wh-1")
	if ok != nil {
		t.Fatalf("expected weight-based check to pass, got %v", ok)
	}

	short := c.EnsureSufficientStock(context.Background(),
		[]domain.OrderItem{{ItemID: "flour", Weight: 2.6, Unit: domain.UnitWeight}}, "wh-1")
	if _, isVal := apperrors.IsValidationError(short); !isVal {
		t.Fatalf("expected ValidationError for overweight request, got %v", short)
	}
}

func TestReserve_DefersOnTransientFailure(t *testing.T) {
	dispatcher := &mockDispatcher{
		CallFunc: func(ctx context.Context, call rpc.Call) (json.RawMessage, error) {
			return nil, &rpc.Error{Code: rpc.CodeOffline, Message: "no route"}
		},
	}
	deferrer := &mockDeferrer{}
	c := newTestCoordinator(&mockRecordSource{}, dispatcher, deferrer, false)

	err := c.Reserve(context.Background(),
		[]domain.OrderItem{{ItemID: "item-a", Quantity: 1, Unit: domain.UnitPiece}}, "o1", "wh-1")
	if err != nil {
		t.Fatalf("expected transient reserve failure to defer, got %v", err)
	}
	if len(deferrer.enqueued) != 1 || deferrer.enqueued[0] != "reserveStock" {
		t.Errorf("expected reserveStock enqueued, got %v", deferrer.enqueued)
	}
}

func TestRelease_PropagatesDomainError(t *testing.T) {
	dispatcher := &mockDispatcher{
		CallFunc: func(ctx context.Context, call rpc.Call) (json.RawMessage, error) {
			return nil, &rpc.Error{HTTPStatus: 422, Message: "no reservation held"}
		},
	}
	deferrer := &mockDeferrer{}
	c := newTestCoordinator(&mockRecordSource{}, dispatcher, deferrer, true)

	err := c.Release(context.Background(),
		[]domain.OrderItem{{ItemID: "item-a", Quantity: 1, Unit: domain.UnitPiece}}, "o1", "wh-1")
	if err == nil {
		t.Fatalf("expected domain error to propagate")
	}
	if len(deferrer.enqueued) != 0 {
		t.Errorf("expected nothing enqueued for a non-transient failure, got %v", deferrer.enqueued)
	}
}

func TestConfirmDelivery_RequiresConnectivityWhenOffline(t *testing.T) {
	dispatcher := &mockDispatcher{}
	c := newTestCoordinator(&mockRecordSource{}, dispatcher, &mockDeferrer{}, false)

	order := &domain.Order{ID: "o1", WarehouseID: "wh-1", CustomerClass: domain.CustomerStandard}
	_, err := c.ConfirmDelivery(context.Background(), order)
	if _, ok := apperrors.IsRequiresConnectivityError(err); !ok {
		t.Fatalf("expected RequiresConnectivityError, got %v", err)
	}
	if len(dispatcher.calls) != 0 {
		t.Errorf("expected no remote attempt while offline, got %d", len(dispatcher.calls))
	}
}

func TestConfirmDelivery_PicksCreditVariantForCreditCustomers(t *testing.T) {
	dispatcher := &mockDispatcher{}
	c := newTestCoordinator(&mockRecordSource{}, dispatcher, &mockDeferrer{}, true)

	standard := &domain.Order{ID: "o1", CustomerClass: domain.CustomerStandard}
	if _, err := c.ConfirmDelivery(context.Background(), standard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	credit := &domain.Order{ID: "o2", CustomerClass: domain.CustomerCredit}
	if _, err := c.ConfirmDelivery(context.Background(), credit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dispatcher.calls[0].Name != "confirmDelivery" {
		t.Errorf("expected plain deduction for standard customer, got %s", dispatcher.calls[0].Name)
	}
	if dispatcher.calls[1].Name != "confirmDeliveryWithCredit" {
		t.Errorf("expected credit-aware deduction for credit customer, got %s", dispatcher.calls[1].Name)
	}
}

func TestConfirmDelivery_TransientFailureIsNeverDeferred(t *testing.T) {
	dispatcher := &mockDispatcher{
		CallFunc: func(ctx context.Context, call rpc.Call) (json.RawMessage, error) {
			return nil, &rpc.Error{Code: rpc.CodeAborted, Message: "request aborted"}
		},
	}
	deferrer := &mockDeferrer{}
	c := newTestCoordinator(&mockRecordSource{}, dispatcher, deferrer, true)

	_, err := c.ConfirmDelivery(context.Background(), &domain.Order{ID: "o1"})
	if _, ok := apperrors.IsRequiresConnectivityError(err); !ok {
		t.Fatalf("expected RequiresConnectivityError, got %v", err)
	}
	if len(deferrer.enqueued) != 0 {
		t.Errorf("expected delivery confirmation never silently queued, got %v", deferrer.enqueued)
	}
}

func TestConfirmDelivery_SurfacesLowStockWarnings(t *testing.T) {
	dispatcher := &mockDispatcher{
		CallFunc: func(ctx context.Context, call rpc.Call) (json.RawMessage, error) {
			return json.RawMessage(`{"lowStock":[{"itemId":"item-a","available":1}]}`), nil
		},
	}
	c := newTestCoordinator(&mockRecordSource{}, dispatcher, &mockDeferrer{}, true)

	warnings, err := c.ConfirmDelivery(context.Background(), &domain.Order{ID: "o1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 1 || warnings[0].ItemID != "item-a" || warnings[0].Available != 1 {
		t.Errorf("unexpected warnings: %+v", warnings)
	}
}
