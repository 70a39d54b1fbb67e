package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	storageKeyToken    = "token"
	storageKeyIdentity = "identity"
)

// KeyValueStore persists session material between process runs.
type KeyValueStore interface {
	Store(ctx context.Context, key string, value []byte) error
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Clear(ctx context.Context, key string) error
}

// Identity describes the signed-in user.
type Identity struct {
	UserID    string `json:"user_id"`
	Nickname  string `json:"nickname,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsNewUser bool   `json:"is_new_user,omitempty"`
}

// Session holds the bearer token and identity of the signed-in user.
// Only the gateway establishes or invalidates a session.
type Session struct {
	mutex    sync.RWMutex
	token    string
	identity Identity
	store    KeyValueStore
	nowFn    func() time.Time
}

// NewSession creates an empty session backed by an optional store.
func NewSession(store KeyValueStore) *Session {
	return &Session{store: store, nowFn: time.Now}
}

// Token returns the bearer token when the session is authenticated.
func (session *Session) Token() (string, bool) {
	session.mutex.RLock()
	defer session.mutex.RUnlock()
	return session.token, session.token != ""
}

// Identity returns the signed-in identity when the session is authenticated.
func (session *Session) Identity() (Identity, bool) {
	session.mutex.RLock()
	defer session.mutex.RUnlock()
	return session.identity, session.token != ""
}

// Authenticated reports whether a token is present.
func (session *Session) Authenticated() bool {
	_, ok := session.Token()
	return ok
}

// Restore loads a previously persisted session. Tokens whose JWT expiry has
// passed are discarded together with the stored identity.
func (session *Session) Restore(ctx context.Context) error {
	if session.store == nil {
		return nil
	}
	tokenBytes, found, err := session.store.Load(ctx, storageKeyToken)
	if err != nil {
		return WrapError("session", "token", "load", err)
	}
	if !found || len(tokenBytes) == 0 {
		return nil
	}
	token := string(tokenBytes)
	if tokenExpired(token, session.nowFn()) {
		return errors.Join(
			WrapError("session", "token", "clear", session.store.Clear(ctx, storageKeyToken)),
			WrapError("session", "identity", "clear", session.store.Clear(ctx, storageKeyIdentity)),
		)
	}
	var identity Identity
	identityBytes, found, err := session.store.Load(ctx, storageKeyIdentity)
	if err != nil {
		return WrapError("session", "identity", "load", err)
	}
	if found && len(identityBytes) > 0 {
		if err := json.Unmarshal(identityBytes, &identity); err != nil {
			return WrapError("session", "identity", "decode", err)
		}
	}
	session.mutex.Lock()
	session.token = token
	session.identity = identity
	session.mutex.Unlock()
	return nil
}

// Teardown releases the backing store.
func (session *Session) Teardown() error {
	if closer, ok := session.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (session *Session) establish(ctx context.Context, token string, identity Identity) error {
	session.mutex.Lock()
	session.token = token
	session.identity = identity
	session.mutex.Unlock()
	if session.store == nil {
		return nil
	}
	if err := session.store.Store(ctx, storageKeyToken, []byte(token)); err != nil {
		return WrapError("session", "token", "store", err)
	}
	identityBytes, err := json.Marshal(identity)
	if err != nil {
		return WrapError("session", "identity", "encode", err)
	}
	if err := session.store.Store(ctx, storageKeyIdentity, identityBytes); err != nil {
		return WrapError("session", "identity", "store", err)
	}
	return nil
}

// invalidate clears the session and reports whether a token was present.
// The in-memory state is cleared even when the store fails.
func (session *Session) invalidate(ctx context.Context) (bool, error) {
	session.mutex.Lock()
	wasAuthenticated := session.token != ""
	session.token = ""
	session.identity = Identity{}
	session.mutex.Unlock()
	if !wasAuthenticated || session.store == nil {
		return wasAuthenticated, nil
	}
	return true, errors.Join(
		WrapError("session", "token", "clear", session.store.Clear(ctx, storageKeyToken)),
		WrapError("session", "identity", "clear", session.store.Clear(ctx, storageKeyIdentity)),
	)
}

// tokenExpired reports whether token is a JWT whose exp claim has passed.
// Opaque tokens never expire locally.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
