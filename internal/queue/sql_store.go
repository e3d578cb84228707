package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"waybill/internal/domain"
)

// SQLStore keeps the task list in a relational table, for deployments that
// already run the engine next to a database. Position preserves insertion
// order across restarts.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS OfflineTasks (
		position INT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(36) NOT NULL,
		kind VARCHAR(20) NOT NULL,
		name VARCHAR(100) NOT NULL,
		args JSON,
		attempts INT NOT NULL DEFAULT 0,
		maxAttempts INT NOT NULL DEFAULT 5,
		createdAt DATETIME NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("creating offline task table: %w", err)
	}
	return nil
}

func (s *SQLStore) Load() ([]domain.OfflineTask, error) {
	query := `
		SELECT id, kind, name, args, attempts, maxAttempts, createdAt
		FROM OfflineTasks
		ORDER BY position ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying offline tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.OfflineTask
	for rows.Next() {
		var task domain.OfflineTask
		var args sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&task.ID, &task.Kind, &task.Name, &args, &task.Attempts, &task.MaxAttempts, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning offline task: %w", err)
		}
		if args.Valid {
			task.Args = []byte(args.String)
		}
		task.CreatedAt = createdAt
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating offline tasks: %w", err)
	}

	return tasks, nil
}

// Save replaces the whole list inside one transaction. Lists stay short
// (tasks drain on reconnection), so the rewrite is cheaper than diffing.
func (s *SQLStore) Save(tasks []domain.OfflineTask) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning task store transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM OfflineTasks`); err != nil {
		return fmt.Errorf("clearing offline tasks: %w", err)
	}

	insert := `
		INSERT INTO OfflineTasks (id, kind, name, args, attempts, maxAttempts, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, task := range tasks {
		var args any
		if len(task.Args) > 0 {
			args = string(task.Args)
		}
		if _, err := tx.Exec(insert, task.ID, task.Kind, task.Name, args, task.Attempts, task.MaxAttempts, task.CreatedAt); err != nil {
			return fmt.Errorf("inserting offline task %s: %w", task.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task store transaction: %w", err)
	}
	return nil
}
