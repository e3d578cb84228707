package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"waybill/internal/domain"
)

// TaskRunner replays queued offline tasks against the backend: procedure
// tasks go through the negotiating dispatcher, table tasks straight to the
// transport.
type TaskRunner struct {
	dispatcher *Dispatcher
	backend    Backend
}

func NewTaskRunner(dispatcher *Dispatcher, backend Backend) *TaskRunner {
	return &TaskRunner{dispatcher: dispatcher, backend: backend}
}

func (r *TaskRunner) Execute(ctx context.Context, task domain.OfflineTask) error {
	switch task.Kind {
	case domain.TaskTable:
		return r.backend.TableOp(ctx, task.Name, task.Args)
	case domain.TaskProcedure:
		var payload map[string]any
		if len(task.Args) > 0 {
			if err := json.Unmarshal(task.Args, &payload); err != nil {
				return fmt.Errorf("decoding task args for %s: %w", task.Name, err)
			}
		}
		_, err := r.dispatcher.Call(ctx, Call{Name: task.Name, Payload: payload})
		return err
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}
