package domain

import (
	"encoding/json"
	"time"
)

type TaskKind string

const (
	TaskProcedure TaskKind = "procedure"
	TaskTable     TaskKind = "table"
)

// OfflineTask is one deferred side-effecting operation awaiting replay. Name
// is a procedure name for TaskProcedure tasks and a table name for TaskTable
// tasks.
type OfflineTask struct {
	ID          string          `json:"id"`
	Kind        TaskKind        `json:"kind"`
	Name        string          `json:"name"`
	Args        json.RawMessage `json:"args"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (t OfflineTask) Exhausted() bool {
	return t.Attempts >= t.MaxAttempts
}
