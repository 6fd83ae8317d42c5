package remote

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/okamitimo233/NeriPlayer-sub001/internal/errors"
)

// MemStore is an in-memory Store with the same conditional-write
// semantics as the real providers. Used by tests and the local
// dry-run mode.
type MemStore struct {
	mu      sync.Mutex
	objects map[string]Object
	seq     int
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string]Object)}
}

// Fetch returns a copy of the stored object.
func (m *MemStore) Fetch(_ context.Context, path string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[path]
	if !ok {
		return nil, apperrors.ErrRemoteNotFound
	}

	content := make([]byte, len(obj.Content))
	copy(content, obj.Content)

	return &Object{Content: content, Token: obj.Token}, nil
}

// Put stores content under a fresh token, honoring create/update
// preconditions.
func (m *MemStore) Put(_ context.Context, path string, content []byte, prevToken string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.objects[path]

	if prevToken == "" && exists {
		return "", apperrors.ErrTokenMismatch
	}

	if prevToken != "" && (!exists || current.Token != prevToken) {
		return "", apperrors.ErrTokenMismatch
	}

	m.seq++
	token := fmt.Sprintf("v%d", m.seq)

	stored := make([]byte, len(content))
	copy(stored, content)

	m.objects[path] = Object{Content: stored, Token: token}

	return token, nil
}

// Token returns the current token for a path, or empty if absent.
// Test helper.
func (m *MemStore) Token(path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.objects[path].Token
}

// Delete removes a path. Test helper.
func (m *MemStore) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, path)
}
