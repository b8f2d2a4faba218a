package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const sealedPrefix = "sealed:v1:"

// SecretSealer encrypts secrets (login keys) before they are persisted
type SecretSealer struct {
	key []byte // 32-byte AES-256 key
}

// NewSecretSealer derives an AES-256 key from the passphrase with HKDF-SHA256
func NewSecretSealer(passphrase string) (*SecretSealer, error) {
	if len(passphrase) < 16 {
		return nil, fmt.Errorf("sealing passphrase must be at least 16 characters, got %d", len(passphrase))
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("autobot run-state sealing"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}

	return &SecretSealer{key: key}, nil
}

// Seal encrypts plaintext using AES-256-GCM and returns a printable token
func (s *SecretSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	// Generate random nonce (12 bytes for GCM)
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal. Values without the sealed prefix
// are returned unchanged so stores written before sealing was enabled keep working.
func (s *SecretSealer) Open(token string) (string, error) {
	if !strings.HasPrefix(token, sealedPrefix) {
		return token, nil
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(token, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed secret: %w", err)
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("sealed secret is too short")
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return string(plaintext), nil
}

func (s *SecretSealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
