package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory implements Provider with in-memory storage. Sessions never expire;
// intended for tests and development mode.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]string
}

// NewMemory creates a new in-memory session provider.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]string)}
}

// GetOrCreate returns the session id for the client key, generating one if
// none exists.
func (m *Memory) GetOrCreate(ctx context.Context, clientKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.sessions[clientKey]; ok {
		return id, nil
	}
	id := uuid.New().String()
	m.sessions[clientKey] = id
	return id, nil
}
