package sessionstore

import (
	"context"
	"sync"
)

// MemoryStore keeps session material in process memory only.
type MemoryStore struct {
	mutex  sync.Mutex
	values map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string][]byte{}}
}

// Store saves value under key.
func (store *MemoryStore) Store(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return wrapStoreError(errorCodeStore, err)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.values[key] = append([]byte(nil), value...)
	return nil
}

// Load returns the value under key.
func (store *MemoryStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, wrapStoreError(errorCodeLoad, err)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	value, ok := store.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Clear removes key.
func (store *MemoryStore) Clear(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return wrapStoreError(errorCodeClear, err)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.values, key)
	return nil
}

// Close is a no-op.
func (store *MemoryStore) Close() error {
	return nil
}
