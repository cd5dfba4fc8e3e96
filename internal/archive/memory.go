package archive

import (
	"context"
	"sync"
)

// Memory is an in-memory archive for tests and local runs.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]string
}

// NewMemory returns an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]string)}
}

// Driver returns DriverMemory.
func (m *Memory) Driver() Driver { return DriverMemory }

// Put stores a reference document.
func (m *Memory) Put(equipmentCode, phaseCode, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key(equipmentCode, phaseCode)] = content
}

// Reference returns the stored document, if any.
func (m *Memory) Reference(_ context.Context, equipmentCode, phaseCode string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.docs[key(equipmentCode, phaseCode)]
	return content, ok, nil
}
