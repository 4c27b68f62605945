package transport

import (
	"context"
	"sync"
)

// MemoryDemoCounter keeps demo usage for the lifetime of the process.
type MemoryDemoCounter struct {
	mu    sync.Mutex
	count int
}

func NewMemoryDemoCounter() *MemoryDemoCounter {
	return &MemoryDemoCounter{}
}

func (m *MemoryDemoCounter) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count, nil
}

func (m *MemoryDemoCounter) Reserve(_ context.Context, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count >= limit {
		return false, nil
	}
	m.count++
	return true, nil
}

func (m *MemoryDemoCounter) Release(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count > 0 {
		m.count--
	}
	return nil
}
