// Package crypto decrypts API keys sealed by the key-management app.
//
// Sealed keys are base64(IV ‖ tag ‖ ciphertext) using AES-256-GCM with a
// 12-byte IV, a 16-byte tag and no associated data. The layout is shared
// with the producer and must not change.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

var (
	ErrEncryption        = errors.New("encryption error")
	ErrMissingSecret     = fmt.Errorf("%w: encryption key is not configured", ErrEncryption)
	ErrInvalidCiphertext = fmt.Errorf("%w: invalid encrypted payload", ErrEncryption)
	ErrDecryptFailed     = fmt.Errorf("%w: failed to decrypt payload", ErrEncryption)
)

// Cipher holds an AEAD built once from the shared secret.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	return &Cipher{aead: gcm}, nil
}

// deriveKey uses a 32-byte secret as the key verbatim and hashes anything
// else down to 32 bytes.
func deriveKey(secret string) []byte {
	raw := []byte(secret)
	if len(raw) == keySize {
		return raw
	}
	hash := sha256.Sum256(raw)
	return hash[:]
}

func (c *Cipher) Decrypt(payload string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(data) < nonceSize+tagSize {
		return "", ErrInvalidCiphertext
	}

	iv := data[:nonceSize]
	tag := data[nonceSize : nonceSize+tagSize]
	ciphertext := data[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if !utf8.Valid(plaintext) {
		return "", ErrDecryptFailed
	}

	return string(plaintext), nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	// Seal returns ciphertext ‖ tag; the stored layout puts the tag first.
	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, nonceSize+len(sealed))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ciphertext...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a sealed payload with the given shared secret.
func Decrypt(payload, secret string) (string, error) {
	c, err := NewCipher(secret)
	if err != nil {
		return "", err
	}
	return c.Decrypt(payload)
}

// Encrypt seals plaintext in the layout Decrypt expects.
func Encrypt(plaintext, secret string) (string, error) {
	c, err := NewCipher(secret)
	if err != nil {
		return "", err
	}
	return c.Encrypt(plaintext)
}

// Fingerprint identifies an API key in logs without revealing it.
func Fingerprint(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])[:12]
}
