// internal/credentials/store.go

package credentials

import (
	"errors"
	"sort"
	"sync"

	"sshm/internal/models"
)

// ErrNotFound is returned by Fetch when no secret is stored for the account.
var ErrNotFound = errors.New("credential not found")

// Store przechowuje hasła i klucze prywatne pod nazwą konta
// "username@host" (klucze: "key-username@host"). Ostatni zapis wygrywa.
type Store interface {
	Save(kind models.CredentialKind, host, username, secret string) error
	Fetch(kind models.CredentialKind, host, username string) (string, error)
	Delete(kind models.CredentialKind, host, username string) error
}

// MemoryStore trzyma sekrety w pamięci procesu. Używany w testach
// i gdy sejf nie jest skonfigurowany.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

func (m *MemoryStore) Save(kind models.CredentialKind, host, username, secret string) error {
	if secret == "" {
		return errors.New("secret cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[models.Account(kind, host, username)] = secret
	return nil
}

func (m *MemoryStore) Fetch(kind models.CredentialKind, host, username string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	secret, ok := m.secrets[models.Account(kind, host, username)]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

func (m *MemoryStore) Delete(kind models.CredentialKind, host, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, models.Account(kind, host, username))
	return nil
}

// Accounts zwraca posortowane nazwy kont
func (m *MemoryStore) Accounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.secrets))
	for account := range m.secrets {
		out = append(out, account)
	}
	sort.Strings(out)
	return out
}
