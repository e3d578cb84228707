package queue

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"waybill/internal/domain"
	apperrors "waybill/internal/errors"
	"waybill/internal/rpc"
)

type memStore struct {
	tasks []domain.OfflineTask
	saves int
}

func (s *memStore) Load() ([]domain.OfflineTask, error) {
	out := make([]domain.OfflineTask, len(s.tasks))
	copy(out, s.tasks)
	return out, nil
}

func (s *memStore) Save(tasks []domain.OfflineTask) error {
	s.tasks = make([]domain.OfflineTask, len(tasks))
	copy(s.tasks, tasks)
	s.saves++
	return nil
}

type stubExecutor struct {
	ExecuteFunc func(ctx context.Context, task domain.OfflineTask) error
	executed    []string
}

func (e *stubExecutor) Execute(ctx context.Context, task domain.OfflineTask) error {
	e.executed = append(e.executed, task.Name)
	if e.ExecuteFunc != nil {
		return e.ExecuteFunc(ctx, task)
	}
	return nil
}

type stubConn struct {
	online bool
}

func (c *stubConn) Online() bool { return c.online }

func newTestQueue(store Store, exec Executor, online bool) *Queue {
	return New(store, exec, &stubConn{online: online}, zap.NewNop(), 5)
}

func TestEnqueue_DenyListedWhileOffline(t *testing.T) {
	store := &memStore{}
	q := newTestQueue(store, &stubExecutor{}, false)

	err := q.Enqueue(domain.TaskProcedure, "confirmDelivery", map[string]any{"orderId": "o1"})

	if _, ok := apperrors.IsRequiresConnectivityError(err); !ok {
		t.Fatalf("expected RequiresConnectivityError, got %v", err)
	}
	if len(store.tasks) != 0 {
		t.Errorf("expected nothing queued, got %d tasks", len(store.tasks))
	}
}

func TestEnqueue_DenyListedWhileOnlineIsAccepted(t *testing.T) {
	store := &memStore{}
	q := newTestQueue(store, &stubExecutor{}, true)

	if err := q.Enqueue(domain.TaskProcedure, "confirmDelivery", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.tasks) != 1 {
		t.Fatalf("expected one queued task, got %d", len(store.tasks))
	}
}

func TestEnqueue_AllowedWhileOffline(t *testing.T) {
	store := &memStore{}
	q := newTestQueue(store, &stubExecutor{}, false)

	if err := q.Enqueue(domain.TaskProcedure, "cancelOrder", map[string]any{"orderId": "o1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.tasks) != 1 {
		t.Fatalf("expected one queued task, got %d", len(store.tasks))
	}
	task := store.tasks[0]
	if task.Attempts != 0 || task.MaxAttempts != 5 {
		t.Errorf("unexpected attempt bookkeeping: %+v", task)
	}
	if task.ID == "" || task.CreatedAt.IsZero() {
		t.Errorf("expected id and creation timestamp to be set: %+v", task)
	}
}

func TestProcess_OfflineIsNoOp(t *testing.T) {
	store := &memStore{tasks: []domain.OfflineTask{{ID: "t1", Name: "cancelOrder", MaxAttempts: 5}}}
	exec := &stubExecutor{}
	q := newTestQueue(store, exec, false)

	if err := q.Process(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exec.executed) != 0 {
		t.Errorf("expected no execution while offline, got %v", exec.executed)
	}
	if len(store.tasks) != 1 {
		t.Errorf("expected task kept, got %d", len(store.tasks))
	}
}

func TestProcess_SuccessDropsTask(t *testing.T) {
	store := &memStore{tasks: []domain.OfflineTask{
		{ID: "t1", Kind: domain.TaskProcedure, Name: "cancelOrder", MaxAttempts: 5},
		{ID: "t2", Kind: domain.TaskProcedure, Name: "releaseReservedStock", MaxAttempts: 5},
	}}
	exec := &stubExecutor{}
	q := newTestQueue(store, exec, true)

	if err := q.Process(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.tasks) != 0 {
		t.Errorf("expected store drained, got %d tasks", len(store.tasks))
	}
	if len(exec.executed) != 2 || exec.executed[0] != "cancelOrder" || exec.executed[1] != "releaseReservedStock" {
		t.Errorf("expected insertion-order execution, got %v", exec.executed)
	}
}

func TestProcess_TransientFailureKeepsTaskUnchanged(t *testing.T) {
	store := &memStore{tasks: []domain.OfflineTask{
		{ID: "t1", Kind: domain.TaskProcedure, Name: "cancelOrder", Attempts: 2, MaxAttempts: 5},
	}}
	exec := &stubExecutor{
		ExecuteFunc: func(ctx context.Context, task domain.OfflineTask) error {
			return &rpc.Error{Code: rpc.CodeOffline, Message: "connection dropped"}
		},
	}
	q := newTestQueue(store, exec, true)

	if err := q.Process(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.tasks) != 1 {
		t.Fatalf("expected task kept, got %d", len(store.tasks))
	}
	if store.tasks[0].Attempts != 2 {
		t.Errorf("expected attempts unchanged at 2, got %d", store.tasks[0].Attempts)
	}
}

func TestProcess_NonTransientFailureCountsAttempts(t *testing.T) {
	store := &memStore{tasks: []domain.OfflineTask{
		{ID: "t1", Kind: domain.TaskProcedure, Name: "cancelOrder", MaxAttempts: 5},
	}}
	exec := &stubExecutor{
		ExecuteFunc: func(ctx context.Context, task domain.OfflineTask) error {
			return errors.New("backend rejected arguments")
		},
	}
	q := newTestQueue(store, exec, true)

	for i := 1; i <= 4; i++ {
		if err := q.Process(context.Background()); err != nil {
			t.Fatalf("unexpected error on pass %d: %v", i, err)
		}
		if len(store.tasks) != 1 {
			t.Fatalf("expected task kept on pass %d", i)
		}
		if store.tasks[0].Attempts != i {
			t.Fatalf("expected %d attempts, got %d", i, store.tasks[0].Attempts)
		}
	}

	// Fifth failure hits the ceiling and drops the task.
	if err := q.Process(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.tasks) != 0 {
		t.Errorf("expected task dropped after max attempts, got %d tasks", len(store.tasks))
	}

	// And there is no sixth execution.
	runs := len(exec.executed)
	if err := q.Process(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exec.executed) != runs {
		t.Errorf("expected no further executions, got %d extra", len(exec.executed)-runs)
	}
}

func TestProcess_RetriesAfterConnectivityReturns(t *testing.T) {
	store := &memStore{}
	exec := &stubExecutor{}
	conn := &stubConn{online: false}
	q := New(store, exec, conn, zap.NewNop(), 5)

	if err := q.Enqueue(domain.TaskProcedure, "cancelOrder", map[string]any{"orderId": "o1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Offline drain does nothing.
	if err := q.Process(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exec.executed) != 0 {
		t.Fatalf("expected no execution while offline")
	}

	conn.online = true
	if err := q.Process(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exec.executed) != 1 {
		t.Fatalf("expected one execution after reconnect, got %d", len(exec.executed))
	}
	if len(store.tasks) != 0 {
		t.Errorf("expected task removed after success, got %d", len(store.tasks))
	}
}
