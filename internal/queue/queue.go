package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"waybill/internal/domain"
	apperrors "waybill/internal/errors"
	"waybill/internal/rpc"
)

const DefaultMaxAttempts = 5

// DefaultDenyList names the operations too unsafe to replay blind: anything
// that records money or moves stock/ledger state in a way the caller must
// witness succeed.
func DefaultDenyList() map[string]bool {
	return map[string]bool{
		"recordPayment":             true,
		"confirmDelivery":           true,
		"confirmDeliveryWithCredit": true,
		"receivePurchaseOrder":      true,
		"cancelPurchaseOrder":       true,
		"createReturn":              true,
	}
}

type Executor interface {
	Execute(ctx context.Context, task domain.OfflineTask) error
}

type Connectivity interface {
	Online() bool
}

// Queue defers side-effecting remote calls while offline and replays them
// when connectivity returns. One instance per process; the draining and
// started guards are explicit fields, not package globals.
type Queue struct {
	store       Store
	exec        Executor
	conn        Connectivity
	logger      *zap.Logger
	maxAttempts int
	denied      map[string]bool

	mu       sync.Mutex
	draining bool
	started  bool
}

func New(store Store, exec Executor, conn Connectivity, logger *zap.Logger, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		store:       store,
		exec:        exec,
		conn:        conn,
		logger:      logger,
		maxAttempts: maxAttempts,
		denied:      DefaultDenyList(),
	}
}

// Enqueue appends a deferred operation to the persistent store. A deny-listed
// operation attempted while offline is rejected outright rather than queued.
func (q *Queue) Enqueue(kind domain.TaskKind, name string, args any) error {
	if !q.conn.Online() && q.denied[name] {
		return apperrors.NewRequiresConnectivityError(name)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return apperrors.NewInternalError("encoding task args", err)
	}

	tasks, err := q.store.Load()
	if err != nil {
		return apperrors.NewInternalError("loading task store", err)
	}

	task := domain.OfflineTask{
		ID:          uuid.New().String(),
		Kind:        kind,
		Name:        name,
		Args:        raw,
		Attempts:    0,
		MaxAttempts: q.maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	tasks = append(tasks, task)

	if err := q.store.Save(tasks); err != nil {
		return apperrors.NewInternalError("saving task store", err)
	}

	q.logger.Info("task enqueued",
		zap.String("taskId", task.ID),
		zap.String("name", name),
		zap.String("kind", string(kind)))
	return nil
}

// Process drains the store once: executes tasks in insertion order, drops
// successes, keeps transient failures untouched, and counts other failures
// against the attempt ceiling. No-op while offline or while another drain is
// in flight.
func (q *Queue) Process(ctx context.Context) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	if !q.conn.Online() {
		return nil
	}

	tasks, err := q.store.Load()
	if err != nil {
		return apperrors.NewInternalError("loading task store", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	var remaining []domain.OfflineTask
	for _, task := range tasks {
		err := q.exec.Execute(ctx, task)
		if err == nil {
			q.logger.Info("queued task applied",
				zap.String("taskId", task.ID), zap.String("name", task.Name))
			continue
		}

		if rpc.IsUnavailable(err) {
			// Connectivity dropped mid-drain; retry untouched next time.
			remaining = append(remaining, task)
			continue
		}

		task.Attempts++
		if task.Exhausted() {
			q.logger.Error("queued task dropped after max attempts",
				zap.String("taskId", task.ID),
				zap.String("name", task.Name),
				zap.Int("attempts", task.Attempts),
				zap.Error(err))
			continue
		}

		q.logger.Warn("queued task failed, will retry",
			zap.String("taskId", task.ID),
			zap.String("name", task.Name),
			zap.Int("attempts", task.Attempts),
			zap.Error(err))
		remaining = append(remaining, task)
	}

	if err := q.store.Save(remaining); err != nil {
		return apperrors.NewInternalError("saving task store", err)
	}
	return nil
}

// Tasks returns a snapshot of the pending list, for inspection endpoints.
func (q *Queue) Tasks() ([]domain.OfflineTask, error) {
	return q.store.Load()
}

// Start launches the drain loop: a periodic tick plus an immediate drain on
// every offline-to-online transition. Safe to call once; later calls no-op.
func (q *Queue) Start(ctx context.Context, interval time.Duration, online <-chan struct{}) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-online:
				q.logger.Info("connectivity restored, draining queue")
			}
			if err := q.Process(ctx); err != nil {
				q.logger.Error("queue drain failed", zap.Error(err))
			}
		}
	}()
}
