package repository

import (
	"context"
	"sync"
)

// MemoryDocumentRepository держит документы в памяти процесса.
// Используется при STORAGE_DRIVER=memory и в тестах.
type MemoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{docs: make(map[string][]byte)}
}

func (r *MemoryDocumentRepository) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	value, ok := r.docs[key]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (r *MemoryDocumentRepository) Put(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	r.mu.Lock()
	r.docs[key] = stored
	r.mu.Unlock()
	return nil
}

func (r *MemoryDocumentRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	delete(r.docs, key)
	r.mu.Unlock()
	return nil
}

func (r *MemoryDocumentRepository) Ping(context.Context) error {
	return nil
}
