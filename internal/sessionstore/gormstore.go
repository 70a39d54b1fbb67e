package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultNamespace = "default"

const (
	encodingJSON   = "json"
	encodingString = "string"
)

// SessionEntry mirrors the session_entries table.
type SessionEntry struct {
	Namespace string         `gorm:"primaryKey;size:64"`
	Key       string         `gorm:"column:entry_key;primaryKey;size:64"`
	Encoding  string         `gorm:"size:16;not null"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (SessionEntry) TableName() string { return "session_entries" }

// GormStore keeps session material in a SQL table shared by namespaces.
type GormStore struct {
	db        *gorm.DB
	namespace string
	cleanup   func() error
}

// GormStoreOption customizes a GormStore.
type GormStoreOption func(*GormStore)

// WithNamespace scopes all keys to namespace.
func WithNamespace(namespace string) GormStoreOption {
	return func(store *GormStore) {
		if trimmed := strings.TrimSpace(namespace); trimmed != "" {
			store.namespace = trimmed
		}
	}
}

// WithCleanup registers a function run by Close.
func WithCleanup(cleanup func() error) GormStoreOption {
	return func(store *GormStore) {
		store.cleanup = cleanup
	}
}

// NewGormStore wraps db. The session_entries table must already exist; see
// Migrate.
func NewGormStore(db *gorm.DB, options ...GormStoreOption) *GormStore {
	store := &GormStore{db: db, namespace: defaultNamespace}
	for _, option := range options {
		option(store)
	}
	return store
}

// Migrate creates the session_entries table when missing.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&SessionEntry{})
}

// Store upserts value under key.
func (store *GormStore) Store(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return wrapStoreError(errorCodeStore, err)
	}
	entry := SessionEntry{
		Namespace: store.namespace,
		Key:       key,
		UpdatedAt: time.Now().UTC(),
	}
	if json.Valid(value) {
		entry.Encoding = encodingJSON
		entry.Value = datatypes.JSON(append([]byte(nil), value...))
	} else {
		encoded, err := json.Marshal(string(value))
		if err != nil {
			return wrapStoreError(errorCodeEncode, err)
		}
		entry.Encoding = encodingString
		entry.Value = datatypes.JSON(encoded)
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"encoding", "value", "updated_at"}),
	}).Create(&entry).Error
	return wrapStoreError(errorCodeStore, err)
}

// Load returns the value under key.
func (store *GormStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, wrapStoreError(errorCodeLoad, err)
	}
	var entry SessionEntry
	err := store.db.WithContext(ctx).
		Where("namespace = ? AND entry_key = ?", store.namespace, key).
		Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, wrapStoreError(errorCodeLoad, err)
	}
	if entry.Encoding == encodingString {
		var text string
		if err := json.Unmarshal(entry.Value, &text); err != nil {
			return nil, false, wrapStoreError(errorCodeDecode, err)
		}
		return []byte(text), true, nil
	}
	return []byte(entry.Value), true, nil
}

// Clear deletes key.
func (store *GormStore) Clear(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return wrapStoreError(errorCodeClear, err)
	}
	err := store.db.WithContext(ctx).
		Where("namespace = ? AND entry_key = ?", store.namespace, key).
		Delete(&SessionEntry{}).Error
	return wrapStoreError(errorCodeClear, err)
}

// Close runs the registered cleanup.
func (store *GormStore) Close() error {
	if store.cleanup == nil {
		return nil
	}
	return store.cleanup()
}
