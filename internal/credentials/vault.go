// internal/credentials/vault.go

package credentials

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"sshm/internal/crypto"
	apperr "sshm/internal/error"
	"sshm/internal/models"
)

const (
	vaultFilePerms = 0600
	vaultVersion   = 1
	checkPlaintext = "sshm-vault"
)

type vaultFile struct {
	Version     int                 `json:"version"`
	Salt        string              `json:"salt"`
	Check       string              `json:"check"`
	Credentials []models.Credential `json:"credentials"`
}

// Vault to zaszyfrowany plik z sekretami. Każdy sekret jest szyfrowany
// osobno, pole Check pozwala wykryć błędne hasło sejfu.
type Vault struct {
	mu      sync.RWMutex
	path    string
	salt    []byte
	cipher  *crypto.Cipher
	entries map[string]models.Credential
}

// OpenVault otwiera istniejący sejf albo tworzy nowy przy pierwszym zapisie.
func OpenVault(path, password string) (*Vault, error) {
	v := &Vault{
		path:    path,
		entries: make(map[string]models.Credential),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, apperr.New(apperr.FileError, "failed to read vault", err)
		}
		salt, err := crypto.NewSalt()
		if err != nil {
			return nil, apperr.New(apperr.CryptoError, "failed to initialize vault", err)
		}
		v.salt = salt
		if v.cipher, err = crypto.NewCipher(password, salt); err != nil {
			return nil, apperr.New(apperr.CryptoError, "failed to initialize vault", err)
		}
		return v, nil
	}

	var file vaultFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, apperr.New(apperr.FileError, "failed to parse vault", err)
	}
	if v.salt, err = hex.DecodeString(file.Salt); err != nil {
		return nil, apperr.New(apperr.FileError, "invalid vault salt", err)
	}
	if v.cipher, err = crypto.NewCipher(password, v.salt); err != nil {
		return nil, apperr.New(apperr.CryptoError, "failed to open vault", err)
	}
	if check, err := v.cipher.Decrypt(file.Check); err != nil || check != checkPlaintext {
		return nil, apperr.New(apperr.CryptoError, "wrong vault password", err)
	}

	for _, c := range file.Credentials {
		v.entries[c.Account()] = c
	}
	return v, nil
}

func (v *Vault) Save(kind models.CredentialKind, host, username, secret string) error {
	c, err := models.NewCredential(kind, host, username, secret, v.cipher)
	if err != nil {
		return apperr.New(apperr.ValidationError, "invalid credential", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	prev, existed := v.entries[c.Account()]
	v.entries[c.Account()] = *c
	if err := v.flush(); err != nil {
		if existed {
			v.entries[c.Account()] = prev
		} else {
			delete(v.entries, c.Account())
		}
		return err
	}
	return nil
}

func (v *Vault) Fetch(kind models.CredentialKind, host, username string) (string, error) {
	v.mu.RLock()
	c, ok := v.entries[models.Account(kind, host, username)]
	v.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}

	secret, err := c.GetDecrypted(v.cipher)
	if err != nil {
		return "", apperr.New(apperr.CryptoError, "failed to decrypt credential", err)
	}
	return secret, nil
}

func (v *Vault) Delete(kind models.CredentialKind, host, username string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	account := models.Account(kind, host, username)
	c, ok := v.entries[account]
	if !ok {
		return nil
	}
	delete(v.entries, account)
	if err := v.flush(); err != nil {
		v.entries[account] = c
		return err
	}
	return nil
}

// Accounts zwraca posortowane nazwy kont zapisanych w sejfie
func (v *Vault) Accounts() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.entries))
	for account := range v.entries {
		out = append(out, account)
	}
	sort.Strings(out)
	return out
}

// flush zapisuje sejf atomowo (plik tymczasowy + rename). Wymaga v.mu.
func (v *Vault) flush() error {
	check, err := v.cipher.Encrypt(checkPlaintext)
	if err != nil {
		return apperr.New(apperr.CryptoError, "failed to seal vault", err)
	}

	file := vaultFile{
		Version:     vaultVersion,
		Salt:        hex.EncodeToString(v.salt),
		Check:       check,
		Credentials: make([]models.Credential, 0, len(v.entries)),
	}
	for _, c := range v.entries {
		file.Credentials = append(file.Credentials, c)
	}
	sort.Slice(file.Credentials, func(i, j int) bool {
		return file.Credentials[i].Account() < file.Credentials[j].Account()
	})

	data, err := json.MarshalIndent(file, "", "    ")
	if err != nil {
		return apperr.New(apperr.FileError, "failed to marshal vault", err)
	}

	dir := filepath.Dir(v.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return apperr.New(apperr.FileError, "failed to create vault directory", err)
	}
	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return apperr.New(apperr.FileError, "failed to write vault", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperr.New(apperr.FileError, "failed to write vault", err)
	}
	if err := tmp.Chmod(vaultFilePerms); err != nil {
		tmp.Close()
		return apperr.New(apperr.FileError, "failed to write vault", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.New(apperr.FileError, "failed to write vault", err)
	}
	if err := os.Rename(tmp.Name(), v.path); err != nil {
		return apperr.New(apperr.FileError, fmt.Sprintf("failed to replace %s", v.path), err)
	}
	return nil
}
