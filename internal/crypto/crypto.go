// Package crypto seals export documents with a passphrase: Argon2id
// stretches the passphrase, HKDF-SHA256 derives the content key, and
// AES-256-GCM encrypts and authenticates the document.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// keyLen is the AES-256 key length in bytes.
	keyLen = 32
	// nonceLen is the GCM nonce length in bytes.
	nonceLen = 12
	// SaltLen is the Argon2id salt length in bytes.
	SaltLen = 16
	// hkdfInfo separates export keys from any other use of the passphrase.
	hkdfInfo = "sprout-export-v1"
)

// Params are the Argon2id cost parameters. They are stored next to the
// ciphertext so they can be raised without breaking old files.
type Params struct {
	Time    uint32 `json:"t"`
	Memory  uint32 `json:"m"`
	Threads uint8  `json:"p"`
}

// Upper bounds on Params read from a file. Anything larger would let a
// crafted file pin the CPU or exhaust memory before the passphrase check.
const (
	MaxTime    = 16
	MaxMemory  = 1 << 20 // KiB
	MaxThreads = 64
)

// ErrParams is returned for Argon2id parameters outside the accepted range.
var ErrParams = errors.New("argon2id parameters out of range")

// Validate checks p against the accepted range.
func (p Params) Validate() error {
	switch {
	case p.Time == 0 || p.Time > MaxTime:
		return fmt.Errorf("%w: t=%d", ErrParams, p.Time)
	case p.Threads == 0 || p.Threads > MaxThreads:
		return fmt.Errorf("%w: p=%d", ErrParams, p.Threads)
	case p.Memory < 8*uint32(p.Threads) || p.Memory > MaxMemory:
		return fmt.Errorf("%w: m=%d", ErrParams, p.Memory)
	}
	return nil
}

// DefaultParams are the Argon2id parameters for new files.
func DefaultParams() Params {
	return Params{Time: 1, Memory: 64 * 1024, Threads: 4}
}

// ErrWrongPassphrase is returned when authentication fails, which means
// the passphrase is wrong or the data was altered.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted data")

// NewSalt returns a random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("random salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives the 256-bit content key for passphrase and salt.
func DeriveKey(passphrase string, salt []byte, p Params) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	if len(salt) != SaltLen {
		return nil, fmt.Errorf("salt must be %d bytes", SaltLen)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	master := argon2.IDKey([]byte(passphrase), salt, p.Time, p.Memory, p.Threads, keyLen)

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// Encrypt encrypts plaintext using AES-256-GCM with a 256-bit key.
// Returns nonce || ciphertext (nonce is prepended).
func Encrypt(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("random nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext produced by Encrypt.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < nonceLen {
		return nil, errors.New("ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, ciphertext[:nonceLen], ciphertext[nonceLen:], nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keyLen {
		return nil, errors.New("key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return gcm, nil
}
