package sessionstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MarkoPoloResearchLab/dropclaim/internal/database"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
)

func exerciseStore(test *testing.T, store gateway.KeyValueStore) {
	test.Helper()
	ctx := context.Background()

	if _, found, err := store.Load(ctx, "token"); err != nil || found {
		test.Fatalf("expected empty store, got found=%v err=%v", found, err)
	}
	cases := []struct {
		key   string
		value []byte
	}{
		{key: "token", value: []byte("eyJhbGciOiJIUzI1NiJ9.e30.sig")},
		{key: "identity", value: []byte(`{"user_id":"42","nickname":"Mia"}`)},
	}
	for _, tc := range cases {
		if err := store.Store(ctx, tc.key, tc.value); err != nil {
			test.Fatalf("store %s: %v", tc.key, err)
		}
	}
	for _, tc := range cases {
		value, found, err := store.Load(ctx, tc.key)
		if err != nil || !found {
			test.Fatalf("load %s: found=%v err=%v", tc.key, found, err)
		}
		if string(value) != string(tc.value) {
			test.Fatalf("expected %q for %s, got %q", tc.value, tc.key, value)
		}
	}
	if err := store.Store(ctx, "token", []byte("rotated")); err != nil {
		test.Fatalf("overwrite: %v", err)
	}
	if value, _, _ := store.Load(ctx, "token"); string(value) != "rotated" {
		test.Fatalf("expected overwritten token, got %q", value)
	}
	if err := store.Clear(ctx, "token"); err != nil {
		test.Fatalf("clear: %v", err)
	}
	if err := store.Clear(ctx, "token"); err != nil {
		test.Fatalf("clear twice: %v", err)
	}
	if _, found, _ := store.Load(ctx, "token"); found {
		test.Fatalf("expected token cleared")
	}
	if err := store.Store(ctx, "../escape", []byte("x")); !errors.Is(err, ErrInvalidKey) {
		test.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestMemoryStore(test *testing.T) {
	test.Parallel()
	exerciseStore(test, NewMemoryStore())
}

func newTestFileStore(test *testing.T, dir string, passphrase string) *FileStore {
	test.Helper()
	store, err := NewFileStore(dir, passphrase)
	if err != nil {
		test.Fatalf("new file store: %v", err)
	}
	store.costN = 1 << 10
	return store
}

func TestFileStore(test *testing.T) {
	test.Parallel()
	exerciseStore(test, newTestFileStore(test, test.TempDir(), "correct horse"))
}

func TestFileStoreEncryptsAtRest(test *testing.T) {
	test.Parallel()
	dir := test.TempDir()
	store := newTestFileStore(test, dir, "correct horse")
	secret := []byte("plain-bearer-token")
	if err := store.Store(context.Background(), "token", secret); err != nil {
		test.Fatalf("store: %v", err)
	}
	path := filepath.Join(dir, "token"+fileSuffix)
	raw, err := os.ReadFile(path)
	if err != nil {
		test.Fatalf("read: %v", err)
	}
	if bytes.Contains(raw, secret) {
		test.Fatalf("expected ciphertext on disk")
	}
	info, err := os.Stat(path)
	if err != nil {
		test.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != fileMode {
		test.Fatalf("expected mode %o, got %o", fileMode, info.Mode().Perm())
	}

	wrong := newTestFileStore(test, dir, "wrong passphrase")
	if _, _, err := wrong.Load(context.Background(), "token"); !errors.Is(err, ErrDecrypt) {
		test.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestFileStoreBindsKey(test *testing.T) {
	test.Parallel()
	dir := test.TempDir()
	store := newTestFileStore(test, dir, "pass")
	if err := store.Store(context.Background(), "token", []byte("value")); err != nil {
		test.Fatalf("store: %v", err)
	}
	if err := os.Rename(filepath.Join(dir, "token"+fileSuffix), filepath.Join(dir, "identity"+fileSuffix)); err != nil {
		test.Fatalf("rename: %v", err)
	}
	if _, _, err := store.Load(context.Background(), "identity"); !errors.Is(err, ErrDecrypt) {
		test.Fatalf("expected swapped file to fail decryption, got %v", err)
	}
}

func TestNewFileStoreRequiresPassphrase(test *testing.T) {
	test.Parallel()
	if _, err := NewFileStore(test.TempDir(), ""); !errors.Is(err, ErrMissingPassphrase) {
		test.Fatalf("expected ErrMissingPassphrase, got %v", err)
	}
}

func TestOpenFileStoreSeparatesNamespaces(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	url := "file://" + filepath.Join(test.TempDir(), "sessions")
	open := func(namespace string) Store {
		store, err := Open(ctx, Settings{URL: url, Passphrase: "p", Namespace: namespace})
		if err != nil {
			test.Fatalf("open %q: %v", namespace, err)
		}
		test.Cleanup(func() { _ = store.Close() })
		return store
	}
	kiosk := open("kiosk-1")
	if err := kiosk.Store(ctx, "token", []byte("kiosk-token")); err != nil {
		test.Fatalf("store: %v", err)
	}
	if _, found, err := open("kiosk-2").Load(ctx, "token"); err != nil || found {
		test.Fatalf("expected another namespace to miss the token, got found=%v err=%v", found, err)
	}
	if _, found, err := open("").Load(ctx, "token"); err != nil || found {
		test.Fatalf("expected the root namespace to miss the token, got found=%v err=%v", found, err)
	}
	value, found, err := open("kiosk-1").Load(ctx, "token")
	if err != nil || !found || string(value) != "kiosk-token" {
		test.Fatalf("expected the same namespace to reload the token, got %q found=%v err=%v", value, found, err)
	}
	if _, err := Open(ctx, Settings{URL: url, Passphrase: "p", Namespace: "../escape"}); !errors.Is(err, ErrInvalidStoreURL) {
		test.Fatalf("expected an invalid namespace to be rejected, got %v", err)
	}
}

func TestGormStore(test *testing.T) {
	test.Parallel()
	db, cleanup, _, err := database.Open(context.Background(), filepath.Join(test.TempDir(), "sessions.db"))
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	if err := Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	store := NewGormStore(db, WithNamespace("alice"), WithCleanup(cleanup))
	test.Cleanup(func() { _ = store.Close() })
	exerciseStore(test, store)

	other := NewGormStore(db, WithNamespace("bob"))
	if err := store.Store(context.Background(), "identity", []byte(`{"user_id":"1"}`)); err != nil {
		test.Fatalf("store: %v", err)
	}
	if _, found, _ := other.Load(context.Background(), "identity"); found {
		test.Fatalf("expected namespaces to be isolated")
	}
}

func TestOpenSelectsStore(test *testing.T) {
	test.Parallel()
	dir := test.TempDir()
	cases := []struct {
		name     string
		settings Settings
		check    func(Store) bool
		wantErr  error
	}{
		{name: "default memory", settings: Settings{}, check: func(store Store) bool { _, ok := store.(*MemoryStore); return ok }},
		{name: "file", settings: Settings{URL: "file://" + filepath.Join(dir, "files"), Passphrase: "p"}, check: func(store Store) bool { _, ok := store.(*FileStore); return ok }},
		{name: "sqlite", settings: Settings{URL: "sqlite://" + filepath.Join(dir, "s.db")}, check: func(store Store) bool { _, ok := store.(*GormStore); return ok }},
		{name: "file without passphrase", settings: Settings{URL: "file://" + filepath.Join(dir, "other")}, wantErr: ErrMissingPassphrase},
		{name: "unknown scheme", settings: Settings{URL: "ftp://host/x"}, wantErr: ErrInvalidStoreURL},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			store, err := Open(context.Background(), tc.settings)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					test.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("open: %v", err)
			}
			test.Cleanup(func() { _ = store.Close() })
			if !tc.check(store) {
				test.Fatalf("unexpected store type %T", store)
			}
		})
	}
}
