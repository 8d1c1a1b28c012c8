// Package fieldcrypt encrypts personal fields at rest and produces blind
// indexes for exact-match lookup of encrypted values.
//
// Ciphertext is randomised (fresh nonce per call) and therefore cannot be
// compared for equality. Anything that must be searched stores a second,
// deterministic column computed by BlindIndex.
package fieldcrypt

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrEncryption is returned for a missing or malformed key and for any
// ciphertext that fails authentication.
var ErrEncryption = errors.New("encryption error")

const (
	// KeySize is the required length of the decoded master secret.
	KeySize = 32

	prefix = "enc:1:"

	encryptionInfo = "ticket-ledger/field-encryption"
	indexInfo      = "ticket-ledger/blind-index"
)

// SecretSource returns the base64-encoded master secret.
type SecretSource func() string

// StaticSecret returns a SecretSource that always yields secret.
func StaticSecret(secret string) SecretSource {
	return func() string { return secret }
}

type keySet struct {
	secret  string
	encrypt []byte
	index   []byte
}

// Store holds the derived key material. It is safe for concurrent use.
type Store struct {
	source SecretSource

	mu   sync.RWMutex
	keys *keySet
}

// New constructs a Store. Keys are derived lazily on first use.
func New(source SecretSource) *Store {
	return &Store{source: source}
}

// Reset drops cached key material so the next call re-derives it.
func (s *Store) Reset() {
	s.mu.Lock()
	s.keys = nil
	s.mu.Unlock()
}

// keySet returns the cached keys, re-deriving when the secret has changed.
func (s *Store) keySet() (*keySet, error) {
	secret := ""
	if s.source != nil {
		secret = strings.TrimSpace(s.source())
	}

	s.mu.RLock()
	keys := s.keys
	s.mu.RUnlock()
	if keys != nil && keys.secret == secret {
		return keys, nil
	}

	derived, err := deriveKeys(secret)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.keys = derived
	s.mu.Unlock()
	return derived, nil
}

func deriveKeys(secret string) (*keySet, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: master secret is not set", ErrEncryption)
	}
	master, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: master secret is not valid base64", ErrEncryption)
	}
	if len(master) != KeySize {
		return nil, fmt.Errorf("%w: master secret must be %d bytes, got %d", ErrEncryption, KeySize, len(master))
	}

	encKey, err := expand(master, encryptionInfo)
	if err != nil {
		return nil, err
	}
	idxKey, err := expand(master, indexInfo)
	if err != nil {
		return nil, err
	}
	return &keySet{secret: secret, encrypt: encKey, index: idxKey}, nil
}

func expand(master []byte, info string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("%w: derive key: %v", ErrEncryption, err)
	}
	return key, nil
}

// Encrypt seals plaintext with XChaCha20-Poly1305 under a fresh random nonce.
func (s *Store) Encrypt(plaintext string) (string, error) {
	keys, err := s.keySet()
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(keys.encrypt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: read nonce: %v", ErrEncryption, err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Tampered input or a wrong key
// yields ErrEncryption, never partial plaintext.
func (s *Store) Decrypt(ciphertext string) (string, error) {
	keys, err := s.keySet()
	if err != nil {
		return "", err
	}
	encoded, ok := strings.CutPrefix(ciphertext, prefix)
	if !ok {
		return "", fmt.Errorf("%w: unrecognised ciphertext format", ErrEncryption)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not valid base64", ErrEncryption)
	}

	aead, err := chacha20poly1305.NewX(keys.encrypt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryption)
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrEncryption)
	}
	return string(plain), nil
}

// EncryptOptional encrypts value unless it is empty, in which case it
// returns an empty string.
func (s *Store) EncryptOptional(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	return s.Encrypt(value)
}

// DecryptOptional is the inverse of EncryptOptional.
func (s *Store) DecryptOptional(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	return s.Decrypt(ciphertext)
}

// BlindIndex returns a deterministic keyed hash of the canonical form of
// value. Equal values always produce equal indexes.
func (s *Store) BlindIndex(value string) (string, error) {
	keys, err := s.keySet()
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, keys.index)
	mac.Write([]byte(Canonical(value)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Canonical normalises a lookup value before indexing.
func Canonical(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// GenerateSecret returns a fresh base64-encoded master secret.
func GenerateSecret() (string, error) {
	b := make([]byte, KeySize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
