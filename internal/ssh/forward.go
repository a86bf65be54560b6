// internal/ssh/forward.go

package ssh

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/armon/go-socks5"
	"github.com/sirupsen/logrus"

	apperr "sshm/internal/error"
	"sshm/internal/models"
)

// pipe kopiuje dane w obie strony i zamyka oba połączenia, gdy jedna ze stron skończy
func pipe(a, b net.Conn) {
	var once sync.Once
	closeBoth := func() {
		a.Close()
		b.Close()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(a, b)
		once.Do(closeBoth)
	}()
	go func() {
		defer wg.Done()
		io.Copy(b, a)
		once.Do(closeBoth)
	}()
	wg.Wait()
}

// Forward to aktywne przekierowanie portu na sesji
type Forward struct {
	Rule models.PortForward

	ln      net.Listener
	session *Session
	log     *logrus.Entry

	mu      sync.Mutex
	closed  bool
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	onClose func()
}

func newForward(s *Session, rule models.PortForward, ln net.Listener, log *logrus.Entry) *Forward {
	return &Forward{
		Rule:    rule,
		ln:      ln,
		session: s,
		log:     log.WithFields(logrus.Fields{"forward": rule.String(), "listen": ln.Addr().String()}),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Addr zwraca adres nasłuchu (lokalny dla L/D, zdalny dla R)
func (f *Forward) Addr() string {
	return f.ln.Addr().String()
}

// Port zwraca faktycznie przydzielony port nasłuchu
func (f *Forward) Port() int {
	_, port, err := net.SplitHostPort(f.ln.Addr().String())
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}

func (f *Forward) serve(relay func(net.Conn)) {
	defer f.wg.Done()
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			if !f.isClosed() && !isClosedErr(err) {
				f.log.WithError(err).Warn("forward listener stopped")
			}
			return
		}
		go relay(conn)
	}
}

func (f *Forward) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// hold rejestruje parę połączeń; false oznacza, że forward został już zamknięty
func (f *Forward) hold(conns ...net.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	for _, c := range conns {
		f.conns[c] = struct{}{}
	}
	return true
}

func (f *Forward) release(conns ...net.Conn) {
	f.mu.Lock()
	for _, c := range conns {
		delete(f.conns, c)
	}
	f.mu.Unlock()
}

func (f *Forward) relayTo(dial func() (net.Conn, error)) func(net.Conn) {
	return func(in net.Conn) {
		out, err := dial()
		if err != nil {
			f.log.WithError(err).Warn("forward dial failed")
			in.Close()
			return
		}
		if !f.hold(in, out) {
			in.Close()
			out.Close()
			return
		}
		pipe(in, out)
		f.release(in, out)
	}
}

// Close zamyka nasłuch i aktywne połączenia. Kolejne wywołania nic nie robią.
func (f *Forward) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	err := f.ln.Close()
	for c := range f.conns {
		c.Close()
	}
	f.mu.Unlock()

	f.wg.Wait()
	if f.onClose != nil {
		f.onClose()
	}
	f.session.untrack(f)
	if err != nil && isClosedErr(err) {
		return nil
	}
	return err
}

func (f *Forward) start(relay func(net.Conn)) error {
	if err := f.session.track(f); err != nil {
		f.ln.Close()
		return err
	}
	f.wg.Add(1)
	go f.serve(relay)
	return nil
}

// openLocalForward nasłuchuje na 127.0.0.1:localPort i przekazuje połączenia
// przez transport sesji do remoteHost:remotePort.
func openLocalForward(s *Session, rule models.PortForward, log *logrus.Entry) (*Forward, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(rule.LocalPort)))
	if err != nil {
		return nil, apperr.New(apperr.ChannelError, fmt.Sprintf("failed to listen on local port %d", rule.LocalPort), err)
	}
	f := newForward(s, rule, ln, log)
	target := net.JoinHostPort(rule.RemoteHost, strconv.Itoa(rule.RemotePort))
	if err := f.start(f.relayTo(func() (net.Conn, error) {
		return s.client.Dial("tcp", target)
	})); err != nil {
		return nil, err
	}
	f.log.Info("local forward opened")
	return f, nil
}

// openRemoteForward prosi serwer o nasłuch na RemotePort i przekazuje
// połączenia lokalnie do RemoteHost:LocalPort.
func openRemoteForward(s *Session, rule models.PortForward, log *logrus.Entry) (*Forward, error) {
	ln, err := s.client.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(rule.RemotePort)))
	if err != nil {
		return nil, apperr.New(apperr.ChannelError, fmt.Sprintf("server refused to listen on port %d", rule.RemotePort), err)
	}
	f := newForward(s, rule, ln, log)
	target := net.JoinHostPort(rule.RemoteHost, strconv.Itoa(rule.LocalPort))
	if err := f.start(f.relayTo(func() (net.Conn, error) {
		return net.Dial("tcp", target)
	})); err != nil {
		return nil, err
	}
	f.log.Info("remote forward opened")
	return f, nil
}

// remoteResolver zostawia rozwiązywanie nazw po stronie serwera SSH
type remoteResolver struct{}

func (remoteResolver) Resolve(ctx context.Context, name string) (context.Context, net.IP, error) {
	return ctx, nil, nil
}

// openDynamicForward uruchamia lokalny serwer SOCKS5, który łączy się przez sesję
func openDynamicForward(s *Session, rule models.PortForward, entry *logrus.Entry) (*Forward, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(rule.LocalPort)))
	if err != nil {
		return nil, apperr.New(apperr.ChannelError, fmt.Sprintf("failed to listen on local port %d", rule.LocalPort), err)
	}
	f := newForward(s, rule, ln, entry)

	logWriter := f.log.WriterLevel(logrus.DebugLevel)
	server, err := socks5.New(&socks5.Config{
		Resolver: remoteResolver{},
		Logger:   log.New(logWriter, "", 0),
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return s.client.Dial(network, addr)
		},
	})
	if err != nil {
		ln.Close()
		logWriter.Close()
		return nil, apperr.New(apperr.ChannelError, "failed to create SOCKS5 server", err)
	}

	f.onClose = func() { logWriter.Close() }
	if err := f.start(func(conn net.Conn) {
		if !f.hold(conn) {
			conn.Close()
			return
		}
		if err := server.ServeConn(conn); err != nil && !isClosedErr(err) {
			f.log.WithError(err).Debug("socks connection ended")
		}
		conn.Close()
		f.release(conn)
	}); err != nil {
		logWriter.Close()
		return nil, err
	}
	f.log.Info("dynamic forward opened")
	return f, nil
}
