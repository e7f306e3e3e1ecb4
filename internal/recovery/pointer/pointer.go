// Package pointer stores the path of the most recent recovery archive.
//
// The pointer is a single string value that survives process restarts on
// the same machine. Every backend keys it by name so several crawlers can
// share one store.
package pointer

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
)

// AppName scopes default state paths.
const AppName = "webwalker"

// DefaultKey is used when a store is built without a key.
const DefaultKey = "recovery.pointer"

// Store persists one recovery pointer.
type Store interface {
	// Load returns the stored path, or "" when none is stored.
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, path string) error
	Clear(ctx context.Context) error
}

// StateDir returns the XDG state directory for webwalker.
func StateDir() string {
	return filepath.Join(xdg.StateHome, AppName)
}

// Memory keeps the pointer in process memory.
type Memory struct {
	mu    sync.Mutex
	value string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load implements Store.
func (m *Memory) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, nil
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = path
	return nil
}

// Clear implements Store.
func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = ""
	return nil
}
