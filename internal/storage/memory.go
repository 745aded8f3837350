package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/t1modo/NotiTron/internal/task"
)

// Memory is a mutex-guarded in-memory store. It backs the "memory" driver
// and doubles as the test store; semantics match the sqlite driver.
type Memory struct {
	mu    sync.Mutex
	tasks map[string]task.Task
}

func NewMemory() *Memory {
	return &Memory{tasks: map[string]task.Task{}}
}

func (m *Memory) Insert(_ context.Context, t task.Task) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.NewString()
	m.tasks[t.ID] = t
	return t.ID, nil
}

func (m *Memory) Get(_ context.Context, id string) (task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	return t, nil
}

func (m *Memory) List(_ context.Context) ([]task.Task, error) {
	return m.filter(func(task.Task) bool { return true }), nil
}

func (m *Memory) ListDueBetween(_ context.Context, a, b time.Time) ([]task.Task, error) {
	return m.filter(func(t task.Task) bool {
		return !t.DueAt.Before(a) && !t.DueAt.After(b)
	}), nil
}

func (m *Memory) ListDueBefore(_ context.Context, threshold time.Time) ([]task.Task, error) {
	return m.filter(func(t task.Task) bool {
		return t.DueAt.Before(threshold)
	}), nil
}

func (m *Memory) ListSecondaryPending(_ context.Context) ([]task.Task, error) {
	return m.filter(func(t task.Task) bool {
		return t.SecondaryOffset > 0 && !t.SecondarySent
	}), nil
}

func (m *Memory) SetSecondaryOffset(_ context.Context, id string, hours int) error {
	return m.update(id, func(t *task.Task) { t.SecondaryOffset = hours })
}

func (m *Memory) MarkPrimarySent(_ context.Context, id string) error {
	return m.update(id, func(t *task.Task) { t.PrimarySent = true })
}

func (m *Memory) MarkSecondarySent(_ context.Context, id string) error {
	return m.update(id, func(t *task.Task) { t.SecondarySent = true })
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *Memory) Close() error { return nil }

// Len reports the number of pending tasks (tests).
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *Memory) update(id string, fn func(*task.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return task.ErrNotFound
	}
	fn(&t)
	m.tasks[id] = t
	return nil
}

func (m *Memory) filter(keep func(task.Task) bool) []task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out
}
