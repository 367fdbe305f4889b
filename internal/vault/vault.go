// Package vault encrypts sensitive structured values (MFA parameters,
// connection secrets) before they reach persistent storage.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/openledger/banksync/internal/common"
)

// ErrInvalidKey indicates the master secret is too short to derive a key from.
var ErrInvalidKey = errors.New("master secret must be at least 16 bytes")

const (
	// keySalt is a fixed application-specific salt. The derived key must be
	// stable across restarts so previously stored blobs stay readable.
	keySalt    = "banksync-credential-vault-v1"
	iterations = 100_000
	keyLength  = 32
)

// Vault performs authenticated symmetric encryption of structured values.
type Vault struct {
	aead cipher.AEAD
}

// New derives an AES-256-GCM key from the master secret via PBKDF2.
func New(masterSecret string) (*Vault, error) {
	if len(masterSecret) < 16 {
		return nil, ErrInvalidKey
	}

	key := pbkdf2.Key([]byte(masterSecret), []byte(keySalt), iterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt serializes the structured value and seals it into an opaque string.
func (v *Vault) Encrypt(value map[string]string) (string, error) {
	if value == nil {
		return "", nil
	}

	plaintext, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an opaque string produced by Encrypt. Tampered or
// foreign-origin input returns ErrDecryptionFailed; callers decide whether
// that means legacy pre-encryption data or a hard failure.
func (v *Vault) Decrypt(opaque string) (map[string]string, error) {
	if opaque == "" {
		return nil, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", common.ErrDecryptionFailed)
	}

	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryptionFailed)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", common.ErrDecryptionFailed)
	}

	var value map[string]string
	if err := json.Unmarshal(plaintext, &value); err != nil {
		return nil, fmt.Errorf("%w: invalid payload", common.ErrDecryptionFailed)
	}
	return value, nil
}
