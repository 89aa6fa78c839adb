package store

import (
	"context"
	"fmt"
	"sync"

	"crontabd/internal/core"
)

// MemoryStore is an in-memory core.TaskStore with insertion-order paging.
// It backs tests and throwaway deployments that do not want a state directory.
type MemoryStore struct {
	mu    sync.Mutex
	order []string
	items map[string]core.TaskEntity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]core.TaskEntity)}
}

func (m *MemoryStore) Create(ctx context.Context, task core.Task) (core.TaskEntity, error) {
	return m.CreateWithID(ctx, core.NewID(), task)
}

func (m *MemoryStore) CreateWithID(_ context.Context, id string, task core.Task) (core.TaskEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[id]; exists {
		return core.TaskEntity{}, fmt.Errorf("task %s already exists", id)
	}
	entity := core.TaskEntity{ID: id, Version: 0, Task: task}
	m.items[id] = entity
	m.order = append(m.order, id)
	return entity, nil
}

func (m *MemoryStore) Retrieve(_ context.Context, id string) (core.TaskEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entity, ok := m.items[id]
	if !ok {
		return core.TaskEntity{}, fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	return entity, nil
}

func (m *MemoryStore) Update(_ context.Context, entity core.TaskEntity, task core.Task) (core.TaskEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[entity.ID]
	if !ok {
		return core.TaskEntity{}, fmt.Errorf("task %s: %w", entity.ID, core.ErrNotFound)
	}
	updated := core.TaskEntity{ID: entity.ID, Version: current.Version + 1, Task: task}
	m.items[entity.ID] = updated
	return updated, nil
}

func (m *MemoryStore) Delete(_ context.Context, entity core.TaskEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[entity.ID]; !ok {
		return fmt.Errorf("task %s: %w", entity.ID, core.ErrNotFound)
	}
	delete(m.items, entity.ID)
	for i, id := range m.order {
		if id == entity.ID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) Page(_ context.Context, startIndex, endIndex int64) ([]core.TaskEntity, int64, error) {
	if startIndex < 0 || endIndex < startIndex {
		return nil, 0, fmt.Errorf("invalid page range [%d,%d]", startIndex, endIndex)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	total := int64(len(m.order))
	if startIndex >= total {
		return nil, total, nil
	}
	end := endIndex + 1
	if end > total {
		end = total
	}
	entities := make([]core.TaskEntity, 0, end-startIndex)
	for _, id := range m.order[startIndex:end] {
		entities = append(entities, m.items[id])
	}
	return entities, total, nil
}
