// Package crypto provides AES-256-GCM encryption for account credentials
// stored at rest.
//
// Encrypted values are prefixed with "enc:" followed by base64-encoded
// ciphertext (nonce + sealed data), so plaintext values written before
// encryption was enabled remain readable.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const encPrefix = "enc:"

// Encrypt encrypts plaintext using AES-256-GCM and returns
// "enc:<base64(nonce + ciphertext)>". The key must be exactly 32 bytes.
// Empty input passes through unchanged.
func Encrypt(plaintext string, key []byte) (string, error) {
	if plaintext == "" {
		return plaintext, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A value without the "enc:" prefix is returned
// unchanged, so legacy plaintext rows keep working.
func Decrypt(ciphertext string, key []byte) (string, error) {
	if !IsEncrypted(ciphertext) {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, encPrefix))
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether value carries the "enc:" prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}

// DeriveKey derives a 32-byte AES-256 key from an arbitrary-length
// passphrase via SHA-256. Any non-empty passphrase works.
func DeriveKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("encryption key must not be empty")
	}
	hash := sha256.Sum256([]byte(passphrase))
	return hash[:], nil
}

// EncryptFields encrypts every value of a credential map into a new map,
// leaving the input unchanged. Field names (map keys) are never encrypted so the store can
// still introspect which fields a credential carries.
func EncryptFields(fields map[string]string, key []byte) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		enc, err := Encrypt(v, key)
		if err != nil {
			return nil, fmt.Errorf("encrypt field %q: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

// DecryptFields is the inverse of EncryptFields.
func DecryptFields(fields map[string]string, key []byte) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		dec, err := Decrypt(v, key)
		if err != nil {
			return nil, fmt.Errorf("decrypt field %q: %w", k, err)
		}
		out[k] = dec
	}
	return out, nil
}
