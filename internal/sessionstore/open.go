package sessionstore

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/dropclaim/internal/database"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
)

// Store is a gateway.KeyValueStore that owns resources released by Close.
type Store interface {
	gateway.KeyValueStore
	Close() error
}

// Settings selects and configures a session store.
type Settings struct {
	URL        string
	Passphrase string
	Namespace  string
}

// Open returns the store named by settings.URL:
//
//	memory://               process memory
//	file:///path/to/dir     passphrase-encrypted files, one subdirectory per namespace
//	sqlite://, postgres://  SQL table session_entries
//	redis://, rediss://     redis keys
func Open(ctx context.Context, settings Settings) (Store, error) {
	raw := strings.TrimSpace(settings.URL)
	if raw == "" || raw == "memory://" {
		return NewMemoryStore(), nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStoreURL, err)
	}
	switch parsed.Scheme {
	case "file":
		dir := parsed.Path
		if parsed.Host != "" {
			dir = parsed.Host + parsed.Path
		}
		if settings.Namespace != "" {
			if err := validateKey(settings.Namespace); err != nil {
				return nil, fmt.Errorf("%w: namespace: %w", ErrInvalidStoreURL, err)
			}
			dir = filepath.Join(dir, settings.Namespace)
		}
		return NewFileStore(dir, settings.Passphrase)
	case "sqlite", "postgres", "postgresql":
		db, cleanup, _, err := database.Open(ctx, raw)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db); err != nil {
			_ = cleanup()
			return nil, err
		}
		return NewGormStore(db, WithNamespace(settings.Namespace), WithCleanup(cleanup)), nil
	case "redis", "rediss":
		client, err := DialRedis(ctx, raw)
		if err != nil {
			return nil, err
		}
		prefix := defaultRedisPrefix
		if settings.Namespace != "" {
			prefix = defaultRedisPrefix + settings.Namespace + ":"
		}
		return NewRedisStore(client, WithRedisPrefix(prefix)), nil
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidStoreURL, parsed.Scheme)
	}
}
