// internal/ssh/session.go

package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	apperr "sshm/internal/error"
	"sshm/internal/models"
)

// SessionState reprezentuje stan sesji SSH
type SessionState int

const (
	StateConnected SessionState = iota
	StateDisconnected
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// Session to uwierzytelnione połączenie z hostem docelowym. Dla połączeń
// przez jump host trzyma także sesję skoku i lokalny most (bridge).
type Session struct {
	ID        string
	Host      *models.Host
	CreatedAt time.Time

	client *ssh.Client
	jump   *Session
	bridge *bridge

	closed atomic.Bool
	done   chan struct{}

	stateMutex sync.RWMutex
	state      SessionState
	lastError  error

	mu       sync.Mutex
	pumps    map[*ShellPump]struct{}
	channels map[io.Closer]struct{}
}

func newSession(client *ssh.Client, host *models.Host, jump *Session, br *bridge) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Host:      host,
		CreatedAt: time.Now(),
		client:    client,
		jump:      jump,
		bridge:    br,
		done:      make(chan struct{}),
		state:     StateConnected,
		pumps:     make(map[*ShellPump]struct{}),
		channels:  make(map[io.Closer]struct{}),
	}
}

// Client zwraca klienta SSH hosta docelowego
func (s *Session) Client() *ssh.Client {
	return s.client
}

// Jump zwraca sesję jump hosta albo nil dla połączenia bezpośredniego
func (s *Session) Jump() *Session {
	return s.jump
}

// BridgeAddr zwraca lokalny adres mostu do jump hosta ("" dla połączenia bezpośredniego)
func (s *Session) BridgeAddr() string {
	if s.bridge == nil {
		return ""
	}
	return s.bridge.Addr()
}

func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Done jest zamykany przy zamknięciu sesji
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// GetState zwraca aktualny stan sesji
func (s *Session) GetState() SessionState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

// GetLastError zwraca ostatni błąd
func (s *Session) GetLastError() error {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.lastError
}

func (s *Session) setError(err error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.lastError = err
	s.state = StateError
}

func (s *Session) setState(state SessionState) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if s.state != StateError {
		s.state = state
	}
}

func (s *Session) attachPump(p *ShellPump) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return apperr.New(apperr.ChannelError, "cannot open shell", apperr.ErrSessionClosed)
	}
	s.pumps[p] = struct{}{}
	return nil
}

func (s *Session) detachPump(p *ShellPump) {
	s.mu.Lock()
	delete(s.pumps, p)
	s.mu.Unlock()
}

// track rejestruje podkanał (forward, SFTP) zamykany razem z sesją
func (s *Session) track(c io.Closer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return apperr.New(apperr.ChannelError, "cannot open channel", apperr.ErrSessionClosed)
	}
	s.channels[c] = struct{}{}
	return nil
}

func (s *Session) untrack(c io.Closer) {
	s.mu.Lock()
	delete(s.channels, c)
	s.mu.Unlock()
}

// Pumps zwraca aktywne pompy powłoki
func (s *Session) Pumps() []*ShellPump {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ShellPump, 0, len(s.pumps))
	for p := range s.pumps {
		out = append(out, p)
	}
	return out
}

// abort przerywa transport z podanym powodem: pompy zgłoszą err zamiast EOF.
// Sesja pozostaje do zamknięcia przez Close.
func (s *Session) abort(err error) {
	s.setError(err)
	for _, p := range s.Pumps() {
		p.fail(err)
	}
	s.client.Close()
}

// Close zatrzymuje pompy, zamyka podkanały, potem transport celu i na końcu
// łańcuch jump hostów. Kolejne wywołania nic nie robią.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	close(s.done)

	s.mu.Lock()
	pumps := make([]*ShellPump, 0, len(s.pumps))
	for p := range s.pumps {
		pumps = append(pumps, p)
	}
	channels := make([]io.Closer, 0, len(s.channels))
	for c := range s.channels {
		channels = append(channels, c)
	}
	s.pumps = map[*ShellPump]struct{}{}
	s.channels = map[io.Closer]struct{}{}
	s.mu.Unlock()

	for _, p := range pumps {
		p.Stop()
	}
	for _, c := range channels {
		if err := c.Close(); err != nil && !isClosedErr(err) {
			errs = append(errs, fmt.Errorf("channel close error: %v", err))
		}
	}

	if err := s.client.Close(); err != nil && !isClosedErr(err) {
		errs = append(errs, fmt.Errorf("client close error: %v", err))
	}
	if s.bridge != nil {
		s.bridge.Close()
	}
	if s.jump != nil {
		if err := s.jump.Close(); err != nil {
			errs = append(errs, fmt.Errorf("jump host: %v", err))
		}
	}
	s.setState(StateDisconnected)
	return errors.Join(errs...)
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
