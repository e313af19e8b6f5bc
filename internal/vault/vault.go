// Package vault seals long-lived secrets before they are written to storage.
//
// A sealed value is three base64 segments joined by ':' holding the GCM
// nonce, the authentication tag and the ciphertext, in that order.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	keySize       = 32
	nonceSize     = 12
	tagSize       = 16
	maxCiphertext = 64 * 1024
	separator     = ":"
)

var (
	// ErrKey is returned when the configured key is missing or malformed.
	ErrKey = errors.New("vault: encryption key must be 64 hex characters")
	// ErrFormat is returned when a sealed value does not split into the expected segments.
	ErrFormat = errors.New("vault: malformed sealed value")
	// ErrIntegrity is returned when the authentication tag does not verify.
	ErrIntegrity = errors.New("vault: sealed value failed authentication")
)

// Vault performs AES-256-GCM sealing with a process-wide key
type Vault struct {
	aead cipher.AEAD
}

// New creates a vault from a hex encoded 32 byte key
func New(keyHex string) (*Vault, error) {
	keyHex = strings.TrimSpace(keyHex)
	if keyHex == "" {
		return nil, ErrKey
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != keySize {
		return nil, ErrKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce
func (v *Vault) Seal(plaintext string) (string, error) {
	if len(plaintext) > maxCiphertext {
		return "", fmt.Errorf("vault: plaintext exceeds %d bytes", maxCiphertext)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce generation failed: %w", err)
	}

	// GCM appends the tag to the ciphertext
	out := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext, tag := out[:len(out)-tagSize], out[len(out)-tagSize:]

	return strings.Join([]string{
		encode(nonce),
		encode(tag),
		encode(ciphertext),
	}, separator), nil
}

// Open decrypts a value produced by Seal
func (v *Vault) Open(sealed string) (string, error) {
	parts := strings.Split(sealed, separator)
	if len(parts) != 3 {
		return "", ErrFormat
	}

	nonce, err := decode(parts[0], nonceSize, nonceSize)
	if err != nil {
		return "", err
	}
	tag, err := decode(parts[1], tagSize, tagSize)
	if err != nil {
		return "", err
	}
	ciphertext, err := decode(parts[2], 0, maxCiphertext)
	if err != nil {
		return "", err
	}

	plaintext, err := v.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

// segments must decode canonically so that any changed character is rejected
var segmentEncoding = base64.RawStdEncoding.Strict()

func encode(b []byte) string {
	return segmentEncoding.EncodeToString(b)
}

func decode(segment string, minLen, maxLen int) ([]byte, error) {
	b, err := segmentEncoding.DecodeString(segment)
	if err != nil {
		return nil, ErrFormat
	}
	if len(b) < minLen || len(b) > maxLen {
		return nil, ErrFormat
	}
	return b, nil
}
