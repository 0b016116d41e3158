// Package seal encrypts small values before they are written to a storage
// backend.
package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrOpen       = errors.New("seal: cannot open value")
	ErrInvalidKey = errors.New("seal: invalid key")
)

// KeySize is the length in bytes of an XChaCha20-Poly1305 key.
const KeySize = chacha20poly1305.KeySize

// Argon2id parameters for passphrase-derived keys.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Sealer encrypts and authenticates values.
type Sealer interface {
	Seal(plain []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

// XChaCha seals values with XChaCha20-Poly1305. The sealed form is base64 of
// nonce||ciphertext.
type XChaCha struct {
	aead cipher.AEAD
}

var _ Sealer = (*XChaCha)(nil)

// GenerateKey returns a fresh random key as 64 hex characters.
func GenerateKey() (string, error) {
	buf := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewXChaCha builds a sealer from a raw 32-byte key.
func NewXChaCha(key []byte) (*XChaCha, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &XChaCha{aead: aead}, nil
}

// NewXChaChaHex builds a sealer from a hex-encoded key.
func NewXChaChaHex(hexKey string) (*XChaCha, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewXChaCha(key)
}

// NewXChaChaPassphrase derives the key from a passphrase with argon2id.
func NewXChaChaPassphrase(passphrase, salt []byte) (*XChaCha, error) {
	if len(passphrase) == 0 || len(salt) == 0 {
		return nil, fmt.Errorf("%w: passphrase and salt are required", ErrInvalidKey)
	}
	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeySize)
	return NewXChaCha(key)
}

// NewRandom builds a sealer with a key that lives only as long as the process.
func NewRandom() (*XChaCha, error) {
	buf := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, err
	}
	return NewXChaCha(buf)
}

func (x *XChaCha) Seal(plain []byte) (string, error) {
	nonce := make([]byte, x.aead.NonceSize(), x.aead.NonceSize()+len(plain)+x.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := x.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (x *XChaCha) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrOpen
	}
	ns := x.aead.NonceSize()
	if len(raw) < ns+x.aead.Overhead() {
		return nil, ErrOpen
	}
	plain, err := x.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}
