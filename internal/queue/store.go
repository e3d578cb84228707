package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"waybill/internal/domain"
)

// Store is the durable home of pending offline tasks. Implementations only
// need whole-list load/save; the queue owns ordering and mutation.
type Store interface {
	Load() ([]domain.OfflineTask, error)
	Save(tasks []domain.OfflineTask) error
}

// FileStore persists the task list as a JSON file, rewritten atomically via
// a temp file rename. Single in-process writer assumed.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() ([]domain.OfflineTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading task store: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var tasks []domain.OfflineTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parsing task store: %w", err)
	}
	return tasks, nil
}

func (s *FileStore) Save(tasks []domain.OfflineTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("encoding task store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating task store directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing task store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing task store: %w", err)
	}
	return nil
}
