// internal/config/settings.go

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"

	apperr "sshm/internal/error"
	"sshm/internal/utils"
)

// Polityki weryfikacji klucza hosta
const (
	HostKeyStrict    = "strict"
	HostKeyAcceptNew = "accept-new"
	HostKeyInsecure  = "insecure"
)

// Settings to ustawienia procesu czytane ze zmiennych środowiskowych SSHM_*.
type Settings struct {
	ConfigDir      string `envconfig:"CONFIG_DIR"`
	HostsFile      string `envconfig:"HOSTS_FILE"`
	VaultFile      string `envconfig:"VAULT_FILE"`
	VaultPassword  string `envconfig:"VAULT_PASSWORD"`
	KnownHostsFile string `envconfig:"KNOWN_HOSTS_FILE"`
	LogFile        string `envconfig:"LOG_FILE"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	AuditDB        string `envconfig:"AUDIT_DB"`
	AuditRetention int    `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
	HostKeyPolicy  string `envconfig:"HOST_KEY_POLICY" default:"strict"`
	ReadBufferSize int    `envconfig:"READ_BUFFER_SIZE" default:"4096"`
	MaxJumpDepth   int    `envconfig:"MAX_JUMP_DEPTH" default:"8"`
	WebListen      string `envconfig:"WEB_LISTEN" default:"127.0.0.1:8022"`
	TempDir        string `envconfig:"TEMP_DIR"`
}

// LoadSettings czyta ustawienia i uzupełnia ścieżki względem katalogu konfiguracyjnego
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("sshm", &s); err != nil {
		return nil, apperr.New(apperr.ConfigError, "failed to read environment", err)
	}
	if err := s.resolve(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) resolve() error {
	if s.ConfigDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return apperr.New(apperr.ConfigError, "could not get home directory", err)
		}
		s.ConfigDir = filepath.Join(homeDir, DefaultConfigDir)
	}
	s.ConfigDir = utils.ExpandHome(s.ConfigDir)

	inDir := func(v *string, name string) {
		if *v == "" {
			*v = filepath.Join(s.ConfigDir, name)
		}
		*v = utils.ExpandHome(*v)
	}
	inDir(&s.HostsFile, DefaultConfigFileName)
	inDir(&s.VaultFile, "vault.json")
	inDir(&s.KnownHostsFile, "known_hosts")
	inDir(&s.LogFile, "sshm.log")
	inDir(&s.AuditDB, "audit.db")
	if s.TempDir == "" {
		s.TempDir = filepath.Join(s.ConfigDir, "tmp")
	}
	return nil
}

// Validate sprawdza poprawność ustawień
func (s *Settings) Validate() error {
	switch strings.ToLower(s.HostKeyPolicy) {
	case HostKeyStrict, HostKeyAcceptNew, HostKeyInsecure:
		s.HostKeyPolicy = strings.ToLower(s.HostKeyPolicy)
	default:
		return apperr.Newf(apperr.ConfigError, "unknown host key policy %q", s.HostKeyPolicy)
	}
	if s.ReadBufferSize <= 0 {
		return apperr.Newf(apperr.ConfigError, "read buffer size must be positive, got %d", s.ReadBufferSize)
	}
	if s.MaxJumpDepth < 1 {
		return apperr.Newf(apperr.ConfigError, "max jump depth must be at least 1, got %d", s.MaxJumpDepth)
	}
	return nil
}

// EnsureDirs tworzy katalogi konfiguracyjne z uprawnieniami tylko dla właściciela
func (s *Settings) EnsureDirs() error {
	for _, dir := range []string{s.ConfigDir, s.TempDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return apperr.New(apperr.FileError, fmt.Sprintf("could not create %s", dir), err)
		}
	}
	return nil
}
