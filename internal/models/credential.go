// internal/models/credential.go

package models

import (
	"errors"
	"fmt"
	"strings"

	"sshm/internal/crypto"
)

type CredentialKind string

const (
	CredentialPassword   CredentialKind = "password"
	CredentialPrivateKey CredentialKind = "privateKey"
	CredentialPassphrase CredentialKind = "passphrase"
)

// Prefiksy nazw kont dla kluczy prywatnych i ich haseł
const (
	KeyPrefix        = "key-"
	PassphrasePrefix = "passphrase-"
)

// Credential to pojedynczy sekret w sejfie. Secret jest zaszyfrowany.
type Credential struct {
	Kind     CredentialKind `json:"kind"`
	Host     string         `json:"host"`
	Username string         `json:"username"`
	Secret   string         `json:"secret"`
}

// Account zwraca nazwę konta: "username@host" albo "key-username@host"
func Account(kind CredentialKind, host, username string) string {
	account := fmt.Sprintf("%s@%s", username, strings.ToLower(host))
	switch kind {
	case CredentialPrivateKey:
		return KeyPrefix + account
	case CredentialPassphrase:
		return PassphrasePrefix + account
	}
	return account
}

// NewCredential tworzy nowy wpis i szyfruje sekret
func NewCredential(kind CredentialKind, host, username, plain string, cipher *crypto.Cipher) (*Credential, error) {
	c := &Credential{Kind: kind, Host: strings.ToLower(host), Username: username}
	if err := c.validateFields(); err != nil {
		return nil, err
	}
	if plain == "" {
		return nil, errors.New("secret cannot be empty")
	}

	encrypted, err := cipher.Encrypt(plain)
	if err != nil {
		return nil, err
	}
	c.Secret = encrypted
	return c, nil
}

func (c *Credential) validateFields() error {
	switch c.Kind {
	case CredentialPassword, CredentialPrivateKey, CredentialPassphrase:
	default:
		return fmt.Errorf("unknown credential kind %q", c.Kind)
	}
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Username == "" {
		return errors.New("username cannot be empty")
	}
	return nil
}

// Validate sprawdza poprawność danych Credential
func (c *Credential) Validate() error {
	if err := c.validateFields(); err != nil {
		return err
	}
	if c.Secret == "" {
		return errors.New("secret cannot be empty")
	}
	return nil
}

func (c *Credential) Account() string {
	return Account(c.Kind, c.Host, c.Username)
}

// GetDecrypted zwraca odszyfrowany sekret
func (c *Credential) GetDecrypted(cipher *crypto.Cipher) (string, error) {
	return cipher.Decrypt(c.Secret)
}
