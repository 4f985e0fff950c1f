package storage

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// ErrSealedValue is returned when a stored value cannot be opened with the
// store's key.
var ErrSealedValue = errors.New("stored value could not be decrypted")

// SealedStore encrypts values with NaCl secretbox before handing them to the
// underlying Store. Keys are stored in the clear.
//
// Sealed format: base64([nonce (24 bytes)][secretbox output]).
type SealedStore struct {
	inner Store
	key   [32]byte
}

// NewSealedStore wraps inner with encryption under key, which must be 32
// bytes.
func NewSealedStore(inner Store, key []byte) (*SealedStore, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length: %d (expected 32)", len(key))
	}
	s := &SealedStore{inner: inner}
	copy(s.key[:], key)
	return s, nil
}

// OpenSealedFileStore returns a SealedStore over a FileStore at statePath
// using the key file at keyPath, creating the key on first use.
func OpenSealedFileStore(statePath, keyPath string) (*SealedStore, error) {
	key, err := GetOrCreateSecretKey(keyPath)
	if err != nil {
		return nil, err
	}
	return NewSealedStore(NewFileStore(statePath), key)
}

func (s *SealedStore) Get(key string) (string, bool, error) {
	sealed, ok, err := s.inner.Get(key)
	if err != nil || !ok {
		return "", ok, err
	}
	plain, err := s.open(sealed)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", key, err)
	}
	return plain, true, nil
}

func (s *SealedStore) Set(key, value string) error {
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	return s.inner.Set(key, sealed)
}

func (s *SealedStore) Delete(key string) error {
	return s.inner.Delete(key)
}

func (s *SealedStore) seal(value string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, nonceSize, nonceSize+len(value)+secretbox.Overhead)
	copy(out, nonce[:])
	out = secretbox.Seal(out, []byte(value), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *SealedStore) open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrSealedValue
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrSealedValue
	}
	return string(plain), nil
}
