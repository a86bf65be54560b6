// internal/ssh/auth.go

package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	apperr "sshm/internal/error"
	"sshm/internal/models"
)

const clientVersion = "SSH-2.0-sshm"

// AgentDialer otwiera połączenie z agentem SSH
type AgentDialer func() (net.Conn, error)

// DefaultAgentDialer łączy się z gniazdem z SSH_AUTH_SOCK
func DefaultAgentDialer() (net.Conn, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, errors.New("SSH_AUTH_SOCK is not set")
	}
	return net.Dial("unix", sock)
}

// Authenticator wykonuje handshake SSH używając dokładnie jednej metody
// wybranej z profilu: klucz > hasło > agent.
type Authenticator struct {
	tempDir   string
	hostKeys  HostKeyChecker
	dialAgent AgentDialer
	log       *logrus.Entry
}

func NewAuthenticator(hostKeys HostKeyChecker, tempDir string, dialAgent AgentDialer, log *logrus.Entry) *Authenticator {
	if dialAgent == nil {
		dialAgent = DefaultAgentDialer
	}
	return &Authenticator{
		tempDir:   tempDir,
		hostKeys:  hostKeys,
		dialAgent: dialAgent,
		log:       log,
	}
}

// Authenticate przejmuje conn: przy błędzie połączenie jest zamykane.
// addr to adres hosta docelowego używany do weryfikacji klucza hosta.
func (a *Authenticator) Authenticate(ctx context.Context, conn net.Conn, addr string, host *models.Host) (*ssh.Client, error) {
	log := a.log.WithFields(logrus.Fields{"host": addr, "user": host.Username})

	methods, cleanup, err := a.authMethods(host)
	defer cleanup()
	if err != nil {
		conn.Close()
		return nil, err
	}

	hostKeyCallback, err := a.hostKeys.Callback(addr)
	if err != nil {
		conn.Close()
		return nil, apperr.New(apperr.HostKeyError, "failed to prepare host key verification", err)
	}

	var (
		hkMu       sync.Mutex
		hostKeyErr error
	)
	recording := func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := hostKeyCallback(hostname, remote, key)
		if err != nil {
			hkMu.Lock()
			hostKeyErr = err
			hkMu.Unlock()
		}
		return err
	}

	timeout := time.Duration(host.ConnectTimeout) * time.Second
	if timeout <= 0 {
		timeout = models.DefaultConnectTimeout * time.Second
	}
	cfg := &ssh.ClientConfig{
		User:            host.Username,
		Auth:            methods,
		HostKeyCallback: recording,
		Timeout:         timeout,
		ClientVersion:   clientVersion,
	}

	log.WithField("method", host.AuthStrategy().String()).Debug("starting handshake")
	client, err := handshake(ctx, conn, addr, cfg)
	if err != nil {
		hkMu.Lock()
		hkErr := hostKeyErr
		hkMu.Unlock()
		return nil, classifyHandshakeError(err, hkErr, addr)
	}
	return client, nil
}

// handshake wykonuje NewClientConn z limitem czasu i obsługą anulowania kontekstu
func handshake(ctx context.Context, conn net.Conn, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	if cfg.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)

	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			conn.Close()
			done <- result{nil, err}
			return
		}
		conn.SetDeadline(time.Time{})
		done <- result{ssh.NewClient(c, chans, reqs), nil}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		if r := <-done; r.client != nil {
			r.client.Close()
		}
		return nil, ctx.Err()
	case r := <-done:
		return r.client, r.err
	}
}

func classifyHandshakeError(err, hostKeyErr error, addr string) error {
	switch {
	case hostKeyErr != nil:
		return apperr.New(apperr.HostKeyError, fmt.Sprintf("host key verification failed for %s", addr), hostKeyErr)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.New(apperr.NetworkError, fmt.Sprintf("handshake with %s cancelled", addr), err)
	case strings.Contains(err.Error(), "unable to authenticate"):
		return apperr.New(apperr.AuthError, fmt.Sprintf("authentication failed for %s", addr), err)
	default:
		return apperr.New(apperr.NetworkError, fmt.Sprintf("handshake with %s failed", addr), err)
	}
}

// authMethods buduje metody dla jedynej wybranej strategii. cleanup zawsze
// należy wywołać: usuwa plik tymczasowy z kluczem i zamyka połączenie z agentem.
func (a *Authenticator) authMethods(host *models.Host) ([]ssh.AuthMethod, func(), error) {
	noop := func() {}

	switch host.AuthStrategy() {
	case models.AuthKey:
		path, remove, err := a.stageKey(host.PrivateKey)
		if err != nil {
			return nil, remove, err
		}
		signer, err := loadSigner(path, host.Passphrase)
		if err != nil {
			return nil, remove, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, remove, nil

	case models.AuthPassword:
		password := host.Password
		answer := func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(answer),
		}, noop, nil

	case models.AuthAgent:
		conn, err := a.dialAgent()
		if err != nil {
			return nil, noop, apperr.New(apperr.AuthError, "failed to connect to ssh agent", err)
		}
		ag := agent.NewClient(conn)
		return []ssh.AuthMethod{ssh.PublicKeysCallback(ag.Signers)}, func() { conn.Close() }, nil

	default:
		return nil, noop, apperr.New(apperr.AuthError, "cannot authenticate "+host.String(), apperr.ErrNoAuthMethod)
	}
}

// stageKey zapisuje klucz do pliku tymczasowego dostępnego tylko dla właściciela.
// Zwrócona funkcja usuwa plik i jest poprawna także przy błędzie.
func (a *Authenticator) stageKey(pem string) (string, func(), error) {
	noop := func() {}
	if a.tempDir != "" {
		if err := os.MkdirAll(a.tempDir, 0700); err != nil {
			return "", noop, apperr.New(apperr.IOError, "failed to create temp directory", err)
		}
	}

	f, err := os.CreateTemp(a.tempDir, "sshm-key-*")
	if err != nil {
		return "", noop, apperr.New(apperr.IOError, "failed to stage private key", err)
	}
	path := f.Name()
	remove := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.log.WithError(err).Warn("failed to remove staged key")
		}
	}

	if err := f.Chmod(0600); err != nil {
		f.Close()
		return "", remove, apperr.New(apperr.IOError, "failed to stage private key", err)
	}
	if _, err := f.WriteString(pem); err != nil {
		f.Close()
		return "", remove, apperr.New(apperr.IOError, "failed to stage private key", err)
	}
	if err := f.Close(); err != nil {
		return "", remove, apperr.New(apperr.IOError, "failed to stage private key", err)
	}
	return path, remove, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.New(apperr.IOError, "failed to read SSH key", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(data)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, apperr.New(apperr.AuthError, "private key is encrypted, passphrase required", err)
		}
		return nil, apperr.New(apperr.AuthError, "failed to parse SSH key", err)
	}
	return signer, nil
}
