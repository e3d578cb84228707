package controller

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"waybill/internal/domain"
	"waybill/internal/dto"
)

type TaskQueue interface {
	Tasks() ([]domain.OfflineTask, error)
	Process(ctx context.Context) error
}

// QueueController exposes the offline queue for inspection and manual drain
// kicks.
type QueueController struct {
	queue  TaskQueue
	logger *zap.Logger
}

func NewQueueController(queue TaskQueue, logger *zap.Logger) *QueueController {
	return &QueueController{queue: queue, logger: logger}
}

func (c *QueueController) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := c.queue.Tasks()
	if err != nil {
		c.logger.Error("listing queued tasks failed", zap.Error(err))
		http.Error(w, "failed to load task store", http.StatusInternalServerError)
		return
	}

	out := make([]dto.TaskResponse, len(tasks))
	for i, task := range tasks {
		out[i] = dto.TaskResponse{
			ID:          task.ID,
			Kind:        string(task.Kind),
			Name:        task.Name,
			Attempts:    task.Attempts,
			MaxAttempts: task.MaxAttempts,
			CreatedAt:   task.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *QueueController) Drain(w http.ResponseWriter, r *http.Request) {
	if err := c.queue.Process(r.Context()); err != nil {
		c.logger.Error("manual queue drain failed", zap.Error(err))
		http.Error(w, "drain failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
