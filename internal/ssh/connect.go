// internal/ssh/connect.go

package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	apperr "sshm/internal/error"
	"sshm/internal/models"
)

// DefaultMaxJumpDepth ogranicza liczbę jump hostów w łańcuchu
const DefaultMaxJumpDepth = 8

// DialFunc otwiera połączenie TCP do hosta
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Connector nawiązuje uwierzytelnione połączenia, bezpośrednio albo przez jump hosty.
type Connector struct {
	auth     *Authenticator
	dial     DialFunc
	maxDepth int
	log      *logrus.Entry
}

func NewConnector(auth *Authenticator, dial DialFunc, maxDepth int, log *logrus.Entry) *Connector {
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxJumpDepth
	}
	return &Connector{auth: auth, dial: dial, maxDepth: maxDepth, log: log}
}

// ValidateChain odrzuca łańcuchy dłuższe niż maxDepth i powtórzone adresy host:port.
func (c *Connector) ValidateChain(h *models.Host) error {
	seen := make(map[string]bool)
	depth := -1
	for hop := h; hop != nil; hop = hop.JumpHost {
		depth++
		if depth > c.maxDepth {
			return apperr.New(apperr.ConfigError, fmt.Sprintf("more than %d jump hosts", c.maxDepth), apperr.ErrJumpDepth)
		}
		key := strings.ToLower(hop.Address())
		if seen[key] {
			return apperr.New(apperr.ConfigError, fmt.Sprintf("%s appears twice in the chain", hop.Address()), apperr.ErrJumpCycle)
		}
		seen[key] = true
	}
	return nil
}

// Connect nawiązuje połączenie z profilem. Przy błędzie na dowolnym skoku
// wszystkie otwarte transporty i mosty są zamykane.
func (c *Connector) Connect(ctx context.Context, h *models.Host) (*Session, error) {
	if err := c.ValidateChain(h); err != nil {
		return nil, err
	}
	return c.connect(ctx, h)
}

func (c *Connector) connect(ctx context.Context, h *models.Host) (*Session, error) {
	addr := h.Address()
	timeout := time.Duration(h.ConnectTimeout) * time.Second
	if timeout <= 0 {
		timeout = models.DefaultConnectTimeout * time.Second
	}
	log := c.log.WithFields(logrus.Fields{"host": addr, "user": h.Username})

	if h.JumpHost == nil {
		conn, err := c.dialTimeout(ctx, c.dial, addr, timeout)
		if err != nil {
			return nil, err
		}
		client, err := c.auth.Authenticate(ctx, conn, addr, h)
		if err != nil {
			return nil, err
		}
		log.Debug("connected")
		return newSession(client, h, nil, nil), nil
	}

	jump, err := c.connect(ctx, h.JumpHost)
	if err != nil {
		return nil, err
	}

	br, err := openBridge(jump.client, addr, log)
	if err != nil {
		jump.Close()
		return nil, err
	}

	direct := (&net.Dialer{}).DialContext
	conn, err := c.dialTimeout(ctx, direct, br.Addr(), timeout)
	if err != nil {
		br.Close()
		jump.Close()
		return nil, err
	}
	client, err := c.auth.Authenticate(ctx, conn, addr, h)
	if err != nil {
		br.Close()
		jump.Close()
		return nil, err
	}
	log.WithFields(logrus.Fields{"jump": h.JumpHost.Address(), "bridge": br.Addr()}).Debug("connected through jump host")
	return newSession(client, h, jump, br), nil
}

func (c *Connector) dialTimeout(ctx context.Context, dial DialFunc, addr string, timeout time.Duration) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := dial(dctx, "tcp", addr)
	if err != nil {
		return nil, apperr.New(apperr.NetworkError, fmt.Sprintf("failed to dial %s", addr), err)
	}
	return conn, nil
}

// bridge to lokalny nasłuch na porcie wybranym przez system. Przyjmuje tylko
// jedno połączenie (transport celu) i przekazuje je przez jump hosta.
type bridge struct {
	ln     net.Listener
	jump   *ssh.Client
	target string
	log    *logrus.Entry

	mu     sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

func openBridge(jump *ssh.Client, target string, log *logrus.Entry) (*bridge, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, apperr.New(apperr.NetworkError, "failed to open local bridge", err)
	}
	b := &bridge{
		ln:     ln,
		jump:   jump,
		target: target,
		log:    log.WithField("bridge", ln.Addr().String()),
		conns:  make(map[net.Conn]struct{}),
	}
	b.wg.Add(1)
	go b.serve()
	return b, nil
}

func (b *bridge) Addr() string {
	return b.ln.Addr().String()
}

func (b *bridge) serve() {
	defer b.wg.Done()
	local, err := b.ln.Accept()
	// inne lokalne procesy nie mogą już dotrzeć do celu przez jump hosta
	b.ln.Close()
	if err != nil {
		return
	}
	b.relay(local)
}

func (b *bridge) relay(local net.Conn) {
	remote, err := b.jump.Dial("tcp", b.target)
	if err != nil {
		b.log.WithError(err).Warn("jump host refused forward")
		local.Close()
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		local.Close()
		remote.Close()
		return
	}
	b.conns[local] = struct{}{}
	b.conns[remote] = struct{}{}
	b.mu.Unlock()

	pipe(local, remote)

	b.mu.Lock()
	delete(b.conns, local)
	delete(b.conns, remote)
	b.mu.Unlock()
}

// Close zamyka nasłuch i przekazywane połączenie
func (b *bridge) Close() error {
	err := b.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	b.mu.Lock()
	b.closed = true
	for c := range b.conns {
		c.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
	return err
}
