// internal/config/config.go

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"sshm/internal/credentials"
	apperr "sshm/internal/error"
	"sshm/internal/models"
)

const (
	DefaultConfigFileName = "ssh_hosts.json"
	DefaultConfigDir      = ".config/sshm"
	DefaultFilePerms      = 0600
	UngroupedLabel        = "Ungrouped"
)

// Config to zawartość pliku z profilami
type Config struct {
	Hosts []models.Host `json:"hosts" yaml:"hosts"`
}

// ImportResult liczy profile zaimportowane i odrzucone
type ImportResult struct {
	Imported int
	Failed   int
}

type Manager struct {
	mu         sync.RWMutex
	configPath string
	config     *Config
	secrets    credentials.Store
	newID      func() string
}

type Option func(*Manager)

// WithCredentials przenosi hasła i klucze z profili do sejfu przy zapisie
func WithCredentials(store credentials.Store) Option {
	return func(m *Manager) { m.secrets = store }
}

// NewManager tworzy nowego menedżera konfiguracji
func NewManager(configPath string, opts ...Option) *Manager {
	if configPath == "" {
		if defaultPath, err := GetDefaultConfigPath(); err == nil {
			configPath = defaultPath
		} else {
			configPath = DefaultConfigFileName
		}
	}

	m := &Manager{
		configPath: configPath,
		config:     &Config{Hosts: make([]models.Host, 0)},
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Path() string {
	return m.configPath
}

// Load wczytuje konfigurację z pliku. Brak pliku to pusta konfiguracja.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.config = &Config{Hosts: make([]models.Host, 0)}
			return nil
		}
		return apperr.New(apperr.FileError, "failed to read config file", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return apperr.New(apperr.ConfigError, "failed to parse config file", err)
	}
	for i := range cfg.Hosts {
		if cfg.Hosts[i].ID == "" {
			cfg.Hosts[i].ID = m.newID()
		}
	}
	m.config = cfg
	return nil
}

// Save zapisuje konfigurację do pliku
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return apperr.New(apperr.FileError, "failed to create config directory", err)
	}

	data, err := json.MarshalIndent(m.config, "", "    ")
	if err != nil {
		return apperr.New(apperr.ConfigError, "failed to marshal config", err)
	}

	if err := os.WriteFile(m.configPath, data, DefaultFilePerms); err != nil {
		return apperr.New(apperr.FileError, "failed to write config file", err)
	}
	return nil
}

// GetHosts zwraca kopie wszystkich profili
func (m *Manager) GetHosts() []models.Host {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Host, len(m.config.Hosts))
	for i := range m.config.Hosts {
		out[i] = *m.config.Hosts[i].Snapshot()
	}
	return out
}

// AddHost nadaje nowe ID, zapisuje sekrety w sejfie i zapisuje plik
func (m *Manager) AddHost(host models.Host) (*models.Host, error) {
	if err := host.Validate(); err != nil {
		return nil, apperr.New(apperr.ValidationError, "invalid host", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h := host.Snapshot()
	h.ID = m.newID()
	stored, err := m.stashSecrets(h)
	if err != nil {
		return nil, err
	}
	m.config.Hosts = append(m.config.Hosts, *stored)
	if err := m.saveLocked(); err != nil {
		m.config.Hosts = m.config.Hosts[:len(m.config.Hosts)-1]
		return nil, err
	}
	return stored.Snapshot(), nil
}

// UpdateHost aktualizuje istniejącego hosta (po ID)
func (m *Manager) UpdateHost(host models.Host) error {
	if err := host.Validate(); err != nil {
		return apperr.New(apperr.ValidationError, "invalid host", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(host.ID)
	if idx < 0 {
		return apperr.Newf(apperr.ConfigError, "host %q not found", host.ID)
	}
	stored, err := m.stashSecrets(host.Snapshot())
	if err != nil {
		return err
	}
	prev := m.config.Hosts[idx]
	m.config.Hosts[idx] = *stored
	if err := m.saveLocked(); err != nil {
		m.config.Hosts[idx] = prev
		return err
	}
	return m.releaseSecrets(&prev)
}

// DeleteHost usuwa hosta
func (m *Manager) DeleteHost(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(id)
	if idx < 0 {
		return apperr.Newf(apperr.ConfigError, "host %q not found", id)
	}
	prev := m.config.Hosts
	hosts := make([]models.Host, 0, len(prev)-1)
	hosts = append(hosts, prev[:idx]...)
	hosts = append(hosts, prev[idx+1:]...)
	m.config.Hosts = hosts
	if err := m.saveLocked(); err != nil {
		m.config.Hosts = prev
		return err
	}
	return m.releaseSecrets(&prev[idx])
}

// GetHost zwraca profil o danym ID
func (m *Manager) GetHost(id string) (*models.Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return nil, apperr.Newf(apperr.ConfigError, "host %q not found", id)
	}
	return m.config.Hosts[idx].Snapshot(), nil
}

// FindHostByName szuka hosta po nazwie, potem po ID, na końcu po adresie
func (m *Manager) FindHostByName(name string) (*models.Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, match := range []func(h *models.Host) bool{
		func(h *models.Host) bool { return h.Name == name },
		func(h *models.Host) bool { return h.ID == name },
		func(h *models.Host) bool { return strings.EqualFold(h.Hostname, name) },
	} {
		for i := range m.config.Hosts {
			if match(&m.config.Hosts[i]) {
				return m.config.Hosts[i].Snapshot(), nil
			}
		}
	}
	return nil, apperr.Newf(apperr.ConfigError, "host %q not found", name)
}

// Grouped grupuje profile po polu Group; nazwy grup są posortowane
func (m *Manager) Grouped() ([]string, map[string][]models.Host) {
	groups := make(map[string][]models.Host)
	for _, h := range m.GetHosts() {
		g := h.Group
		if g == "" {
			g = UngroupedLabel
		}
		groups[g] = append(groups[g], h)
	}
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)
	return names, groups
}

func (m *Manager) indexLocked(id string) int {
	for i := range m.config.Hosts {
		if m.config.Hosts[i].ID == id {
			return i
		}
	}
	return -1
}

// stashSecrets przenosi sekrety każdego skoku do sejfu i zwraca profil bez nich.
// Bez sejfu profil zostaje bez zmian (plik ma uprawnienia 0600).
func (m *Manager) stashSecrets(h *models.Host) (*models.Host, error) {
	if m.secrets == nil || !chainHasSecrets(h) {
		return h, nil
	}
	for hop := h; hop != nil; hop = hop.JumpHost {
		for _, s := range []struct {
			kind  models.CredentialKind
			value string
		}{
			{models.CredentialPrivateKey, hop.PrivateKey},
			{models.CredentialPassword, hop.Password},
			{models.CredentialPassphrase, hop.Passphrase},
		} {
			if s.value == "" {
				continue
			}
			if err := m.secrets.Save(s.kind, hop.Hostname, hop.Username, s.value); err != nil {
				return nil, apperr.New(apperr.ConfigError, fmt.Sprintf("failed to store %s for %s", s.kind, hop), err)
			}
		}
	}
	return h.StripSecrets(), nil
}

// releaseSecrets usuwa z sejfu konta skoków starego profilu, których nie
// potrzebuje już żaden zapisany profil (np. po zmianie strategii na agenta).
func (m *Manager) releaseSecrets(old *models.Host) error {
	if m.secrets == nil {
		return nil
	}
	inUse := make(map[models.HostKey]bool)
	for i := range m.config.Hosts {
		for hop := &m.config.Hosts[i]; hop != nil; hop = hop.JumpHost {
			if hop.NeedsStoredSecrets() {
				inUse[accountKey(hop)] = true
			}
		}
	}

	var errs []error
	for hop := old; hop != nil; hop = hop.JumpHost {
		if inUse[accountKey(hop)] {
			continue
		}
		for _, kind := range []models.CredentialKind{models.CredentialPrivateKey, models.CredentialPassword, models.CredentialPassphrase} {
			if err := m.secrets.Delete(kind, hop.Hostname, hop.Username); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return apperr.New(apperr.ConfigError, "failed to delete stored secrets", errors.Join(errs...))
	}
	return nil
}

// accountKey odpowiada nazwie konta w sejfie, port nie ma znaczenia
func accountKey(h *models.Host) models.HostKey {
	return models.HostKey{Hostname: strings.ToLower(h.Hostname), Username: h.Username}
}

func chainHasSecrets(h *models.Host) bool {
	for hop := h; hop != nil; hop = hop.JumpHost {
		if hop.HasSecrets() {
			return true
		}
	}
	return false
}

func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get home directory: %v", err)
	}
	return filepath.Join(homeDir, DefaultConfigDir, DefaultConfigFileName), nil
}
