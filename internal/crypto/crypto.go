// internal/crypto/crypto.go
//
// This package provides the encryption used by the credential vault.
// Secrets are sealed with AES-256-GCM under a key derived from the vault
// password with scrypt.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	// KEY_SIZE defines the size of the encryption key in bytes.
	KEY_SIZE = 32 // 32 bytes for AES-256

	// SALT_SIZE is the length of the random salt stored next to the vault.
	SALT_SIZE = 16

	// scrypt cost parameters
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// defaultSalt is used only when the caller has no salt of its own.
var defaultSalt = []byte("sshm-vault-v1")

// Cipher represents an AES-256-GCM cipher with a specific key.
type Cipher struct {
	key  []byte
	aead cipher.AEAD
}

// NewSalt returns SALT_SIZE random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SALT_SIZE)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %v", err)
	}
	return salt, nil
}

// NewCipher derives the key from password and salt.
func NewCipher(password string, salt []byte) (*Cipher, error) {
	if password == "" {
		return nil, errors.New("password cannot be empty")
	}
	if len(salt) == 0 {
		salt = defaultSalt
	}

	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, KEY_SIZE)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %v", err)
	}
	return newCipherFromKey(key)
}

func newCipherFromKey(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %v", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %v", err)
	}
	return &Cipher{key: key, aead: aesGCM}, nil
}

// Encrypt encrypts the given plaintext using AES-256-GCM.
// It returns hex(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %v", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt decrypts the given hex-encoded ciphertext using AES-256-GCM.
func (c *Cipher) Decrypt(encryptedHex string) (string, error) {
	combined, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", fmt.Errorf("failed to decode hex: %v", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(combined) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := c.aead.Open(nil, combined[:nonceSize], combined[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %v", err)
	}

	return string(plaintext), nil
}
