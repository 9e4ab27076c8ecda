// Package secrets provides the narrow decryption capability the coordination
// layer depends on for webhook auth configs, credentials, and secret
// variables. The core only ever sees the Decryptor interface.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// Decryptor turns a stored ciphertext back into plaintext. Implementations
// must never log either side of the operation.
type Decryptor interface {
	Decrypt(ciphertext string) (string, error)
}

// ErrInvalidCiphertext indicates the payload is malformed or was encrypted
// with a different key.
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

const keySize = 32

// AESGCM implements Decryptor with AES-256-GCM. Ciphertexts are base64 of
// nonce || sealed payload.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM creates a decryptor from a 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESGCM{aead: aead}, nil
}

func (a *AESGCM) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := a.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := a.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	return string(plaintext), nil
}

// Encrypt seals plaintext with a random nonce. Provided so operators can
// seed stores and tests can round-trip values.
func (a *AESGCM) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := a.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}
