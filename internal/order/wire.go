package order

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"waybill/internal/audit"
	"waybill/internal/config"
	"waybill/internal/invoice"
	"waybill/internal/order/controller"
	"waybill/internal/order/repository"
	"waybill/internal/order/service"
	"waybill/internal/queue"
	"waybill/internal/rpc"
	"waybill/internal/stock"
)

// Module bundles the wired engine: controllers for the HTTP surface plus the
// long-running pieces main has to start and sweep.
type Module struct {
	Orders    *controller.OrderController
	Queue     *controller.QueueController
	TaskQueue *queue.Queue
	Monitor   *rpc.Monitor
	Invoices  *invoice.Guard
	Cache     *repository.OrderCache
}

// NewModule wires the engine against one backend. db may be nil when the
// queue store is file-backed.
func NewModule(cfg *config.Config, db *sql.DB, sinks []audit.Sink, logger *zap.Logger) (*Module, error) {
	monitor := rpc.NewMonitor()
	backend := rpc.NewHTTPBackend(cfg.Backend.BaseURL, cfg.Backend.Timeout, monitor, logger)
	probe := rpc.NewSchemaProbe(backend)
	dispatcher := rpc.NewDispatcher(backend, probe, logger)

	var store queue.Store
	switch cfg.Queue.Store {
	case "mysql":
		if db == nil {
			return nil, fmt.Errorf("queue store %q requires a database connection", cfg.Queue.Store)
		}
		sqlStore := queue.NewSQLStore(db)
		if err := sqlStore.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("preparing task table: %w", err)
		}
		store = sqlStore
	case "file":
		store = queue.NewFileStore(cfg.Queue.FilePath)
	default:
		return nil, fmt.Errorf("unknown queue store %q", cfg.Queue.Store)
	}

	runner := rpc.NewTaskRunner(dispatcher, backend)
	taskQueue := queue.New(store, runner, monitor, logger, cfg.Queue.MaxAttempts)

	auditLog := audit.NewLog(logger, sinks...)
	records := stock.NewRemoteRecordSource(dispatcher, cfg.Backend.FetchTimeout)
	coordinator := stock.NewCoordinator(records, dispatcher, taskQueue, monitor, logger)
	cache := repository.NewOrderCache(dispatcher, cfg.Backend.FetchTimeout, logger)
	guard := invoice.NewGuard(dispatcher, taskQueue, auditLog, cache, logger)

	lifecycle := service.NewLifecycleService(
		cache,
		coordinator,
		guard,
		dispatcher,
		taskQueue,
		auditLog,
		service.NewRolePermissionChecker(),
		logger,
	)

	return &Module{
		Orders:    controller.NewOrderController(lifecycle, auditLog, logger),
		Queue:     controller.NewQueueController(taskQueue, logger),
		TaskQueue: taskQueue,
		Monitor:   monitor,
		Invoices:  guard,
		Cache:     cache,
	}, nil
}
