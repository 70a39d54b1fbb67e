// Package sessionstore persists gateway sessions in an encrypted file, a SQL
// database or redis.
package sessionstore

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
)

// Error values returned by session stores.
var (
	ErrInvalidKey        = errors.New("invalid session key")
	ErrInvalidStoreURL   = errors.New("invalid session store url")
	ErrMissingPassphrase = errors.New("session passphrase is required")
	ErrDecrypt           = errors.New("session decrypt failed")
)

const (
	errorOperationStore = "store"
	errorSubjectSession = "session"
	errorCodeStore      = "store"
	errorCodeLoad       = "load"
	errorCodeClear      = "clear"
	errorCodeEncode     = "encode"
	errorCodeDecode     = "decode"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func wrapStoreError(code string, err error) error {
	return gateway.WrapError(errorOperationStore, errorSubjectSession, code, err)
}
