package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type memoryStore struct {
	mutex  sync.Mutex
	values map[string][]byte
	clears map[string]int
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string][]byte{}, clears: map[string]int{}}
}

func (store *memoryStore) Store(_ context.Context, key string, value []byte) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.err != nil {
		return store.err
	}
	store.values[key] = append([]byte(nil), value...)
	return nil
}

func (store *memoryStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.err != nil {
		return nil, false, store.err
	}
	value, ok := store.values[key]
	return value, ok, nil
}

func (store *memoryStore) Clear(_ context.Context, key string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.clears[key]++
	if store.err != nil {
		return store.err
	}
	delete(store.values, key)
	return nil
}

func (store *memoryStore) clearCount(key string) int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.clears[key]
}

func mustSignToken(test *testing.T, expiresAt time.Time) string {
	test.Helper()
	claims := jwt.RegisteredClaims{Subject: "u-1", ExpiresAt: jwt.NewNumericDate(expiresAt)}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}
	return token
}

func TestSessionEstablishPersistsAndRestores(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newMemoryStore()
	session := NewSession(store)
	token := mustSignToken(test, time.Now().Add(time.Hour))
	identity := Identity{UserID: "u-1", Nickname: "Ann"}
	if err := session.establish(ctx, token, identity); err != nil {
		test.Fatalf("establish: %v", err)
	}

	restored := NewSession(store)
	if err := restored.Restore(ctx); err != nil {
		test.Fatalf("restore: %v", err)
	}
	restoredToken, ok := restored.Token()
	if !ok || restoredToken != token {
		test.Fatalf("expected restored token, got %q (%v)", restoredToken, ok)
	}
	restoredIdentity, _ := restored.Identity()
	if restoredIdentity != identity {
		test.Fatalf("expected identity %+v, got %+v", identity, restoredIdentity)
	}
}

func TestSessionRestoreDropsExpiredToken(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newMemoryStore()
	_ = store.Store(ctx, storageKeyToken, []byte(mustSignToken(test, time.Now().Add(-time.Minute))))
	_ = store.Store(ctx, storageKeyIdentity, []byte(`{"user_id":"u-1"}`))

	session := NewSession(store)
	if err := session.Restore(ctx); err != nil {
		test.Fatalf("restore: %v", err)
	}
	if session.Authenticated() {
		test.Fatalf("expired token must not authenticate the session")
	}
	if _, found, _ := store.Load(ctx, storageKeyToken); found {
		test.Fatalf("expired token must be cleared from the store")
	}
}

func TestSessionRestoreKeepsOpaqueToken(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newMemoryStore()
	_ = store.Store(ctx, storageKeyToken, []byte("opaque-token"))
	session := NewSession(store)
	if err := session.Restore(ctx); err != nil {
		test.Fatalf("restore: %v", err)
	}
	if !session.Authenticated() {
		test.Fatalf("expected opaque token to be restored")
	}
}

func TestSessionInvalidateReportsTransition(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newMemoryStore()
	session := NewSession(store)
	if err := session.establish(ctx, "token", Identity{UserID: "u-1"}); err != nil {
		test.Fatalf("establish: %v", err)
	}
	cleared, err := session.invalidate(ctx)
	if err != nil || !cleared {
		test.Fatalf("expected first invalidate to clear, got %v (%v)", cleared, err)
	}
	cleared, err = session.invalidate(ctx)
	if err != nil || cleared {
		test.Fatalf("expected second invalidate to be a no-op, got %v (%v)", cleared, err)
	}
	if count := store.clearCount(storageKeyToken); count != 1 {
		test.Fatalf("expected a single store clear, got %d", count)
	}
}

func TestSessionInvalidateClearsMemoryWhenStoreFails(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := newMemoryStore()
	session := NewSession(store)
	if err := session.establish(ctx, "token", Identity{UserID: "u-1"}); err != nil {
		test.Fatalf("establish: %v", err)
	}
	storeFailure := errors.New("disk full")
	store.err = storeFailure
	_, err := session.invalidate(ctx)
	if !errors.Is(err, storeFailure) {
		test.Fatalf("expected store failure, got %v", err)
	}
	if session.Authenticated() {
		test.Fatalf("in-memory session must be cleared even when the store fails")
	}
}
