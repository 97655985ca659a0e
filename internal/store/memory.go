package store

import (
	"context"
	"sync"
)

// Memory is a ChatStore held in process, for development and tests.
type Memory struct {
	mu   sync.RWMutex
	text string
}

func NewMemory(initial string) *Memory {
	return &Memory{text: initial}
}

func (m *Memory) DocumentText(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.text, nil
}

func (m *Memory) SetDocumentText(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	return nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}
