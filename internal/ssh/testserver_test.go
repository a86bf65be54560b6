package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"sshm/internal/config"
	"sshm/internal/models"
)

// testServer is an in-process SSH server supporting password and public key
// auth, PTY shells that echo input, exec, the sftp subsystem, direct-tcpip,
// tcpip-forward and keepalive requests.
type testServer struct {
	addr    string
	hostKey ssh.Signer

	mu             sync.Mutex
	methods        []string
	conns          []net.Conn
	keepalives     int
	blockKeepalive bool

	ln   net.Listener
	done chan struct{}
	quit chan struct{}
}

type testServerOptions struct {
	user       string
	password   string
	authorized ssh.PublicKey
	// routes maps direct-tcpip destinations ("10.0.0.9:22") to real addresses
	routes map[string]string
}

func generateKey(t *testing.T) (ed25519.PrivateKey, ssh.Signer) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return priv, signer
}

// privateKeyPEM returns an OpenSSH PEM encoding of key, optionally encrypted.
func privateKeyPEM(t *testing.T, key ed25519.PrivateKey, passphrase string) string {
	t.Helper()
	var (
		block *pem.Block
		err   error
	)
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(key, "", []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(key, "")
	}
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	return string(pem.EncodeToMemory(block))
}

func startTestServer(t *testing.T, opts testServerOptions) *testServer {
	t.Helper()

	_, hostSigner := generateKey(t)
	ts := &testServer{
		hostKey: hostSigner,
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}

	cfg := &ssh.ServerConfig{
		AuthLogCallback: func(conn ssh.ConnMetadata, method string, err error) {
			if method == "none" {
				return
			}
			ts.mu.Lock()
			ts.methods = append(ts.methods, method)
			ts.mu.Unlock()
		},
	}
	if opts.password != "" {
		cfg.PasswordCallback = func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if (opts.user == "" || conn.User() == opts.user) && string(password) == opts.password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected")
		}
	}
	if opts.authorized != nil {
		cfg.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if ssh.FingerprintSHA256(key) == ssh.FingerprintSHA256(opts.authorized) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		}
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ts.ln = ln
	ts.addr = ln.Addr().String()

	go func() {
		defer close(ts.done)
		for {
			netConn, err := ln.Accept()
			if err != nil {
				return
			}
			ts.mu.Lock()
			ts.conns = append(ts.conns, netConn)
			ts.mu.Unlock()
			go ts.handleConn(netConn, cfg, opts.routes)
		}
	}()

	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) Close() {
	select {
	case <-ts.quit:
		return
	default:
		close(ts.quit)
	}
	ts.ln.Close()
	ts.dropConnections()
	<-ts.done
}

// dropConnections kills every accepted TCP connection.
func (ts *testServer) dropConnections() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns {
		c.Close()
	}
	ts.conns = nil
}

func (ts *testServer) authMethods() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.methods...)
}

func (ts *testServer) keepaliveCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.keepalives
}

func (ts *testServer) setBlockKeepalive(v bool) {
	ts.mu.Lock()
	ts.blockKeepalive = v
	ts.mu.Unlock()
}

// knownHostsLine returns a known_hosts entry for this server's key under addr.
func (ts *testServer) knownHostsLine(addr string) string {
	return knownhosts.Line([]string{knownhosts.Normalize(addr)}, ts.hostKey.PublicKey())
}

func (ts *testServer) handleConn(netConn net.Conn, cfg *ssh.ServerConfig, routes map[string]string) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, cfg)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go ts.handleGlobalRequests(sshConn, reqs)

	for newChan := range chans {
		switch newChan.ChannelType() {
		case "session":
			ch, requests, err := newChan.Accept()
			if err != nil {
				continue
			}
			go handleTestSession(ch, requests, sshConn.User())
		case "direct-tcpip":
			go serveDirectTCPIP(newChan, routes)
		default:
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
		}
	}
}

type tcpipForwardPayload struct {
	Addr string
	Port uint32
}

type forwardedTCPIPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

func (ts *testServer) handleGlobalRequests(conn *ssh.ServerConn, reqs <-chan *ssh.Request) {
	listeners := make(map[uint32]net.Listener)
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	for req := range reqs {
		switch req.Type {
		case "keepalive@openssh.com":
			ts.mu.Lock()
			ts.keepalives++
			block := ts.blockKeepalive
			ts.mu.Unlock()
			if block {
				// never answer; the client must time out on its own
				continue
			}
			req.Reply(true, nil)

		case "tcpip-forward":
			var p tcpipForwardPayload
			if err := ssh.Unmarshal(req.Payload, &p); err != nil {
				req.Reply(false, nil)
				continue
			}
			l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", fmt.Sprint(p.Port)))
			if err != nil {
				req.Reply(false, nil)
				continue
			}
			port := uint32(l.Addr().(*net.TCPAddr).Port)
			listeners[port] = l
			reply := make([]byte, 4)
			binary.BigEndian.PutUint32(reply, port)
			req.Reply(true, reply)
			go acceptForwarded(conn, l, p.Addr, port)

		case "cancel-tcpip-forward":
			var p tcpipForwardPayload
			if err := ssh.Unmarshal(req.Payload, &p); err == nil {
				if l, ok := listeners[p.Port]; ok {
					l.Close()
					delete(listeners, p.Port)
				}
			}
			req.Reply(true, nil)

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func acceptForwarded(conn *ssh.ServerConn, l net.Listener, addr string, port uint32) {
	for {
		c, err := l.Accept()
		if err != nil {
			return
		}
		go func() {
			defer c.Close()
			origin := c.RemoteAddr().(*net.TCPAddr)
			payload := ssh.Marshal(forwardedTCPIPPayload{
				Addr:       addr,
				Port:       port,
				OriginAddr: origin.IP.String(),
				OriginPort: uint32(origin.Port),
			})
			ch, reqs, err := conn.OpenChannel("forwarded-tcpip", payload)
			if err != nil {
				return
			}
			defer ch.Close()
			go ssh.DiscardRequests(reqs)
			done := make(chan struct{}, 2)
			go func() { io.Copy(ch, c); ch.CloseWrite(); done <- struct{}{} }()
			go func() { io.Copy(c, ch); done <- struct{}{} }()
			<-done
		}()
	}
}

// directTCPIPData matches the SSH wire format for direct-tcpip extra data.
type directTCPIPData struct {
	DestHost   string
	DestPort   uint32
	OriginHost string
	OriginPort uint32
}

func serveDirectTCPIP(newChan ssh.NewChannel, routes map[string]string) {
	var data directTCPIPData
	if err := ssh.Unmarshal(newChan.ExtraData(), &data); err != nil {
		newChan.Reject(ssh.ConnectionFailed, "invalid payload")
		return
	}

	target := net.JoinHostPort(data.DestHost, fmt.Sprint(data.DestPort))
	if real, ok := routes[target]; ok {
		target = real
	}
	dest, err := net.Dial("tcp", target)
	if err != nil {
		newChan.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	defer dest.Close()

	ch, reqs, err := newChan.Accept()
	if err != nil {
		return
	}
	defer ch.Close()
	go ssh.DiscardRequests(reqs)

	done := make(chan struct{}, 2)
	go func() { io.Copy(ch, dest); done <- struct{}{} }()
	go func() { io.Copy(dest, ch); done <- struct{}{} }()
	<-done
}

type execPayload struct {
	Command string
}

func sendExitStatus(ch ssh.Channel, code uint32) {
	status := make([]byte, 4)
	binary.BigEndian.PutUint32(status, code)
	ch.SendRequest("exit-status", false, status)
}

func handleTestSession(ch ssh.Channel, requests <-chan *ssh.Request, user string) {
	defer ch.Close()

	var hasPTY bool
	for req := range requests {
		switch req.Type {
		case "pty-req":
			hasPTY = true
			req.Reply(true, nil)

		case "window-change":
			if len(req.Payload) >= 8 {
				cols := binary.BigEndian.Uint32(req.Payload[0:4])
				rows := binary.BigEndian.Uint32(req.Payload[4:8])
				ch.Write([]byte(fmt.Sprintf("resize:%dx%d\n", cols, rows)))
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			req.Reply(true, nil)
			ch.Write([]byte(fmt.Sprintf("PTY:%v\n", hasPTY)))
			go echoShell(ch)

		case "exec":
			var p execPayload
			ssh.Unmarshal(req.Payload, &p)
			req.Reply(true, nil)
			switch {
			case p.Command == "whoami":
				ch.Write([]byte(user + "\n"))
				sendExitStatus(ch, 0)
			case strings.HasPrefix(p.Command, "echo "):
				ch.Write([]byte(strings.TrimPrefix(p.Command, "echo ") + "\n"))
				sendExitStatus(ch, 0)
			case p.Command == "sleep":
				// runs until a signal arrives or the client closes the channel;
				// stdin EOF does not end it
				continue
			default:
				ch.Stderr().Write([]byte("unknown command\n"))
				sendExitStatus(ch, 3)
			}
			return

		case "signal":
			if req.WantReply {
				req.Reply(true, nil)
			}
			return

		case "subsystem":
			var p execPayload
			ssh.Unmarshal(req.Payload, &p)
			if p.Command != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			server, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			server.Serve()
			server.Close()
			return

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// echoShell echoes input with an "echo:" prefix; "exit" ends the shell cleanly.
func echoShell(ch ssh.Channel) {
	buf := make([]byte, 4096)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			if strings.Contains(string(buf[:n]), "exit") {
				ch.Write([]byte("bye\n"))
				sendExitStatus(ch, 0)
				ch.Close()
				return
			}
			ch.Write([]byte("echo:"))
			ch.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// insecureVerifier accepts any host key.
func insecureVerifier(t *testing.T) *HostKeyVerifier {
	t.Helper()
	v, err := NewHostKeyVerifier("", config.HostKeyInsecure, testLogger())
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	return v
}

// knownHostsVerifier writes lines to a known_hosts file and returns a strict verifier over it.
func knownHostsVerifier(t *testing.T, policy string, lines ...string) (*HostKeyVerifier, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts")
	if len(lines) > 0 {
		if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
			t.Fatalf("write known_hosts: %v", err)
		}
	}
	v, err := NewHostKeyVerifier(path, policy, testLogger())
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	return v, path
}

// hostFor builds a profile pointing at a test server address.
func hostFor(t *testing.T, addr, user string) *models.Host {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %s: %v", addr, err)
	}
	var p int
	fmt.Sscanf(port, "%d", &p)
	return &models.Host{
		Name:           "test",
		Hostname:       host,
		Port:           p,
		Username:       user,
		ConnectTimeout: 5,
	}
}

// rewriteDialer sends dials for fake addresses to real test servers.
func rewriteDialer(routes map[string]string) DialFunc {
	d := &net.Dialer{}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if real, ok := routes[addr]; ok {
			addr = real
		}
		return d.DialContext(ctx, network, addr)
	}
}

// readUntil collects sink data until it contains target or the timeout expires.
func readUntil(t *testing.T, events <-chan Event, target string, timeout time.Duration) string {
	t.Helper()
	deadline := time.After(timeout)
	var accumulated string
	for {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %q, got: %q", target, accumulated)
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed waiting for %q, got: %q", target, accumulated)
			}
			switch ev.Kind {
			case EventData:
				accumulated += string(ev.Data)
			case EventEOF:
				t.Fatalf("unexpected EOF waiting for %q, got: %q", target, accumulated)
			case EventError:
				t.Fatalf("unexpected error waiting for %q: %v", target, ev.Err)
			}
			if strings.Contains(accumulated, target) {
				return accumulated
			}
		}
	}
}

// chanSink forwards events to a buffered channel.
type chanSink chan Event

func (c chanSink) Deliver(ev Event) {
	c <- ev
}
