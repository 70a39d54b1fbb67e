package sessionstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	fileSuffix   = ".enc"
	fileMode     = 0o600
	dirMode      = 0o700
	saltSize     = 16
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	envelopeAlgo = "scrypt-chacha20poly1305"
)

type sealedEnvelope struct {
	Algorithm string `json:"alg"`
	Salt      []byte `json:"salt"`
	Nonce     []byte `json:"nonce"`
	Cipher    []byte `json:"ct"`
}

// FileStore keeps each session key in its own passphrase-encrypted file.
type FileStore struct {
	dir        string
	passphrase string
	mutex      sync.Mutex
	costN      int
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string, passphrase string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: directory is empty", ErrInvalidStoreURL)
	}
	if passphrase == "" {
		return nil, ErrMissingPassphrase
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, wrapStoreError(errorCodeStore, err)
	}
	return &FileStore{dir: dir, passphrase: passphrase, costN: scryptN}, nil
}

// Store encrypts value and writes it under key.
func (store *FileStore) Store(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return wrapStoreError(errorCodeStore, err)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	blob, err := store.seal(value, []byte(key))
	if err != nil {
		return wrapStoreError(errorCodeEncode, err)
	}
	if err := writeFileAtomic(store.path(key), blob); err != nil {
		return wrapStoreError(errorCodeStore, err)
	}
	return nil
}

// Load decrypts the value under key.
func (store *FileStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, wrapStoreError(errorCodeLoad, err)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	blob, err := os.ReadFile(store.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, wrapStoreError(errorCodeLoad, err)
	}
	value, err := store.open(blob, []byte(key))
	if err != nil {
		return nil, false, wrapStoreError(errorCodeDecode, err)
	}
	return value, true, nil
}

// Clear removes the file under key.
func (store *FileStore) Clear(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return wrapStoreError(errorCodeClear, err)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := os.Remove(store.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return wrapStoreError(errorCodeClear, err)
	}
	return nil
}

// Close is a no-op.
func (store *FileStore) Close() error {
	return nil
}

func (store *FileStore) path(key string) string {
	return filepath.Join(store.dir, key+fileSuffix)
}

func (store *FileStore) seal(plaintext []byte, additionalData []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := store.cipher(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return json.Marshal(sealedEnvelope{
		Algorithm: envelopeAlgo,
		Salt:      salt,
		Nonce:     nonce,
		Cipher:    aead.Seal(nil, nonce, plaintext, additionalData),
	})
}

func (store *FileStore) open(blob []byte, additionalData []byte) ([]byte, error) {
	var envelope sealedEnvelope
	if err := json.Unmarshal(blob, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	if envelope.Algorithm != envelopeAlgo {
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrDecrypt, envelope.Algorithm)
	}
	aead, err := store.cipher(envelope.Salt)
	if err != nil {
		return nil, err
	}
	if len(envelope.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce", ErrDecrypt)
	}
	plaintext, err := aead.Open(nil, envelope.Nonce, envelope.Cipher, additionalData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	return plaintext, nil
}

func (store *FileStore) cipher(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(store.passphrase), salt, store.costN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}

func writeFileAtomic(path string, data []byte) error {
	temp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tempName := temp.Name()
	defer func() { _ = os.Remove(tempName) }()
	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		return err
	}
	if err := temp.Chmod(fileMode); err != nil {
		_ = temp.Close()
		return err
	}
	if err := temp.Close(); err != nil {
		return err
	}
	return os.Rename(tempName, path)
}
