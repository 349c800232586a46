// Package vault encrypts sensitive financial fields at rest. Account and
// routing numbers exist in plaintext only inside the process, between a
// Decrypt call and the Zero that follows it.
package vault

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecryption covers every decrypt failure: short blobs, bad nonces,
// integrity-tag mismatches. Corrupted plaintext is never returned.
var ErrDecryption = errors.New("vault: decryption failed")

type Vault struct {
	key []byte
}

// New builds a vault around a 32-byte key provisioned out-of-band. The
// key must never be persisted next to the ciphertext it protects.
func New(key []byte) (*Vault, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Vault{key: k}, nil
}

// Encrypt seals plaintext under a fresh random nonce. The nonce is
// prepended to the returned blob.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(v.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. Fails closed.
func (v *Vault) Decrypt(blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(v.key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, ErrDecryption
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// Last4 is the only form of an account number that may leave the vault
// boundary toward logs, audits, or remote callers.
func Last4(plaintext []byte) string {
	if len(plaintext) < 4 {
		return string(plaintext)
	}
	return string(plaintext[len(plaintext)-4:])
}

// Zero wipes an intermediate plaintext buffer.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
