// Package crypto seals the bond file: HKDF-SHA256 derives an AES-256 key from
// the operator secret, and AES-256-GCM encrypts the file body with the nonce
// prepended.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of the derived AES-256 key.
const KeySize = 32

// info binds derived keys to this use so the same secret yields unrelated
// keys elsewhere.
var info = []byte("basestation bond store")

// DeriveKey derives a 32-byte AES key from secret with HKDF-SHA256.
func DeriveKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("bond/crypto: empty secret")
	}
	r := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("bond/crypto: HKDF: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext with AES-256-GCM and returns nonce || ciphertext || tag.
// aad is authenticated but not encrypted.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("bond/crypto: random nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal.
func Open(key, sealed, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("bond/crypto: sealed data too short: %d bytes", len(sealed))
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, fmt.Errorf("bond/crypto: decrypt: %w", err)
	}
	return plaintext, nil
}

// NewLTK returns a random long term key of size bytes.
func NewLTK(size int) ([]byte, error) {
	if size < 7 || size > 16 {
		return nil, fmt.Errorf("bond/crypto: key size %d outside 7..16", size)
	}
	ltk := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, ltk); err != nil {
		return nil, fmt.Errorf("bond/crypto: random LTK: %w", err)
	}
	return ltk, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("bond/crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("bond/crypto: new GCM: %w", err)
	}
	return aead, nil
}
