// internal/ssh/hostkey.go

package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"sshm/internal/config"
	apperr "sshm/internal/error"
)

// HostKeyChecker zwraca callback weryfikujący klucz hosta dla adresu addr
type HostKeyChecker interface {
	Callback(addr string) (ssh.HostKeyCallback, error)
}

// UnknownHostKeyError jest zwracany (opakowany w HostKeyError), gdy host nie
// występuje w known_hosts, a polityka to "strict".
type UnknownHostKeyError struct {
	Addr string
	Key  ssh.PublicKey
}

func (e *UnknownHostKeyError) Error() string {
	return fmt.Sprintf("host key for %s is not known (%s %s)", e.Addr, e.Key.Type(), ssh.FingerprintSHA256(e.Key))
}

func (e *UnknownHostKeyError) Unwrap() error {
	return apperr.ErrHostKeyUnknown
}

// Fingerprint zwraca odcisk SHA256 nieznanego klucza
func (e *UnknownHostKeyError) Fingerprint() string {
	return ssh.FingerprintSHA256(e.Key)
}

// HostKeyVerifier sprawdza klucze hostów w pliku known_hosts aplikacji.
type HostKeyVerifier struct {
	mu     sync.Mutex
	path   string
	policy string
	log    *logrus.Entry
}

func NewHostKeyVerifier(path, policy string, log *logrus.Entry) (*HostKeyVerifier, error) {
	switch policy {
	case "":
		policy = config.HostKeyStrict
	case config.HostKeyStrict, config.HostKeyAcceptNew, config.HostKeyInsecure:
	default:
		return nil, apperr.Newf(apperr.ConfigError, "unknown host key policy %q", policy)
	}
	if path == "" && policy != config.HostKeyInsecure {
		return nil, apperr.Newf(apperr.ConfigError, "known_hosts path is required")
	}
	return &HostKeyVerifier{path: path, policy: policy, log: log}, nil
}

func (v *HostKeyVerifier) Policy() string {
	return v.policy
}

// Callback zwraca funkcję weryfikującą klucz. addr to prawdziwy adres hosta
// docelowego, także gdy połączenie idzie przez lokalny most jump hosta.
func (v *HostKeyVerifier) Callback(addr string) (ssh.HostKeyCallback, error) {
	if v.policy == config.HostKeyInsecure {
		v.log.WithField("addr", addr).Warn("host key verification disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		v.mu.Lock()
		defer v.mu.Unlock()

		err := v.check(addr, remote, key)
		var keyErr *knownhosts.KeyError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &keyErr) && len(keyErr.Want) > 0:
			return fmt.Errorf("%w: %s presented %s %s", apperr.ErrHostKeyMismatch, addr, key.Type(), ssh.FingerprintSHA256(key))
		case errors.As(err, &keyErr):
			if v.policy == config.HostKeyAcceptNew {
				if err := v.appendLocked(addr, key); err != nil {
					return err
				}
				v.log.WithFields(logrus.Fields{"addr": addr, "fingerprint": ssh.FingerprintSHA256(key)}).Info("added new host key")
				return nil
			}
			return &UnknownHostKeyError{Addr: addr, Key: key}
		default:
			return err
		}
	}, nil
}

// check wczytuje known_hosts przy każdym połączeniu, żeby widzieć nowo dodane klucze
func (v *HostKeyVerifier) check(addr string, remote net.Addr, key ssh.PublicKey) error {
	if _, err := os.Stat(v.path); errors.Is(err, os.ErrNotExist) {
		return &knownhosts.KeyError{}
	}
	cb, err := knownhosts.New(v.path)
	if err != nil {
		return fmt.Errorf("failed to read known_hosts: %v", err)
	}
	return cb(addr, remote, key)
}

// Add zapisuje klucz hosta w known_hosts (np. po potwierdzeniu przez użytkownika)
func (v *HostKeyVerifier) Add(addr string, key ssh.PublicKey) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.appendLocked(addr, key)
}

func (v *HostKeyVerifier) appendLocked(addr string, key ssh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(v.path), 0700); err != nil {
		return fmt.Errorf("failed to create directory for known_hosts: %v", err)
	}
	f, err := os.OpenFile(v.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts: %v", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, key)
	if _, err := f.WriteString(strings.TrimSpace(line) + "\n"); err != nil {
		return fmt.Errorf("failed to write known_hosts: %v", err)
	}
	return nil
}
