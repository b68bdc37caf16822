// Package credential keeps the cloud API key encrypted at rest and out of
// logs. Nothing in this package ever returns or prints a full key except
// Open, whose result goes straight to the provider client.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32
	pbkdf2Iter = 210000
)

// Vault seals and opens credential strings with AES-256-GCM. The key is
// derived per seal from the passphrase and a random salt, so two seals of the
// same plaintext never produce the same ciphertext.
type Vault struct {
	passphrase []byte
	logger     *zap.Logger
}

// NewVault creates a vault from a passphrase. Short passphrases are rejected
// outright rather than silently weakening the derived key.
func NewVault(passphrase string, logger *zap.Logger) (*Vault, error) {
	if len(passphrase) < 16 {
		return nil, fmt.Errorf("vault passphrase must be at least 16 characters")
	}
	return &Vault{
		passphrase: []byte(passphrase),
		logger:     logger.Named("vault"),
	}, nil
}

// Seal encrypts plaintext and returns base64(salt | nonce | ciphertext).
// An empty plaintext seals to an empty string.
func (v *Vault) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := v.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	blob := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Open decrypts a sealed credential. A failed open usually means the vault
// passphrase changed since the credential was stored.
func (v *Vault) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	blob, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed credential: %w", err)
	}
	if len(blob) < saltSize {
		return "", fmt.Errorf("sealed credential too short")
	}

	salt := blob[:saltSize]
	gcm, err := v.aead(salt)
	if err != nil {
		return "", err
	}

	rest := blob[saltSize:]
	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return "", fmt.Errorf("sealed credential too short")
	}

	plaintext, err := gcm.Open(nil, rest[:nonceSize], rest[nonceSize:], nil)
	if err != nil {
		v.logger.Warn("credential decryption failed; passphrase may have changed")
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	return string(plaintext), nil
}

func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(v.passphrase, salt, pbkdf2Iter, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// LoadOrCreatePassphrase reads the vault passphrase from path, generating and
// persisting a random one on first run. The file is created 0600.
func LoadOrCreatePassphrase(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read vault key file: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate vault passphrase: %w", err)
	}
	passphrase := hex.EncodeToString(raw)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create vault key dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(passphrase), 0o600); err != nil {
		return "", fmt.Errorf("failed to write vault key file: %w", err)
	}
	return passphrase, nil
}
