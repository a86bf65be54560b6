package ssh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	apperr "sshm/internal/error"
	"sshm/internal/models"
)

type memoryAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (a *memoryAudit) Log(entry models.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memoryAudit) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		out = append(out, e.EventType)
	}
	return out
}

func TestNewManagerRequiresHostKeys(t *testing.T) {
	_, err := NewManager(WithLogger(testLogger()))
	if !apperr.Is(err, apperr.ConfigError) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	_, err = NewManager(WithHostKeys(insecureVerifier(t)), WithReadBufferSize(-1))
	if !apperr.Is(err, apperr.ConfigError) {
		t.Fatalf("expected ConfigError for buffer size, got %v", err)
	}
}

func TestDisconnectUnknownSession(t *testing.T) {
	m := newTestManager(t, WithHostKeys(insecureVerifier(t)))
	err := m.Disconnect("nope")
	if !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestExec(t *testing.T) {
	m, s := connectForwardTest(t, nil)

	out, err := m.Exec(context.Background(), s.ID, "echo hello world")
	if err != nil || string(out) != "hello world\n" {
		t.Fatalf("exec: %q %v", out, err)
	}

	out, err = m.Exec(context.Background(), s.ID, "bogus")
	var exitErr *ssh.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitStatus() != 3 {
		t.Fatalf("expected exit status 3, got %v", err)
	}
	if !strings.Contains(string(out), "unknown command") {
		t.Errorf("expected stderr in combined output, got %q", out)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = m.Exec(ctx, s.ID, "sleep")
	if !apperr.Is(err, apperr.ChannelError) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cancelled ChannelError, got %v", err)
	}

	// the transport survives a failed command
	if _, err := m.Exec(context.Background(), s.ID, "whoami"); err != nil {
		t.Fatalf("exec after cancel: %v", err)
	}
}

func TestAuditTrail(t *testing.T) {
	srv := startTestServer(t, testServerOptions{password: "pw"})
	audit := &memoryAudit{}
	m := newTestManager(t, WithHostKeys(insecureVerifier(t)), WithAudit(audit))

	bad := hostFor(t, srv.addr, "root")
	bad.Password = "wrong"
	if _, err := m.Connect(context.Background(), bad); err == nil {
		t.Fatal("expected auth failure")
	}

	host := hostFor(t, srv.addr, "root")
	host.Password = "pw"
	s, err := m.Connect(context.Background(), host)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	m.Exec(context.Background(), s.ID, "whoami")
	m.Disconnect(s.ID)

	want := []string{
		models.EventConnectionFailed,
		models.EventConnectionEstablished,
		models.EventCommandExecution,
		models.EventConnectionTerminated,
	}
	got := audit.events()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected events %v, got %v", want, got)
	}
}

func TestDisconnectAll(t *testing.T) {
	srv := startTestServer(t, testServerOptions{password: "pw"})
	m := newTestManager(t, WithHostKeys(insecureVerifier(t)))
	host := hostFor(t, srv.addr, "root")
	host.Password = "pw"

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := m.Connect(context.Background(), host)
		if err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
		sessions = append(sessions, s)
	}
	if len(m.Sessions()) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(m.Sessions()))
	}
	if sessions[0].ID == sessions[1].ID {
		t.Fatal("session ids must be unique")
	}

	if err := m.DisconnectAll(); err != nil {
		t.Fatalf("disconnect all: %v", err)
	}
	if m.Registry().Len() != 0 {
		t.Error("registry not empty")
	}
	for _, s := range sessions {
		if !s.Closed() || s.GetState() != StateDisconnected {
			t.Errorf("session %s still open", s.ID)
		}
	}
}

func TestKeepAlive(t *testing.T) {
	srv := startTestServer(t, testServerOptions{password: "pw"})
	m := newTestManager(t, WithHostKeys(insecureVerifier(t)))
	host := hostFor(t, srv.addr, "root")
	host.Password = "pw"
	host.KeepAliveInterval = 1

	s, err := m.Connect(context.Background(), host)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for srv.keepaliveCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no keep-alive probe received")
		}
		time.Sleep(100 * time.Millisecond)
	}
	if _, ok := m.Registry().Get(s.ID); !ok {
		t.Error("healthy session removed")
	}
}

func TestKeepAliveFailureClosesSession(t *testing.T) {
	oldTimeout := keepAliveTimeout
	keepAliveTimeout = 300 * time.Millisecond
	t.Cleanup(func() { keepAliveTimeout = oldTimeout })

	srv := startTestServer(t, testServerOptions{password: "pw"})
	audit := &memoryAudit{}
	m := newTestManager(t, WithHostKeys(insecureVerifier(t)), WithAudit(audit))
	host := hostFor(t, srv.addr, "root")
	host.Password = "pw"
	host.KeepAliveInterval = 1

	s, err := m.Connect(context.Background(), host)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	sink := make(chanSink, 256)
	p, err := m.OpenShell(s.ID, sink, ShellOptions{})
	if err != nil {
		t.Fatalf("open shell: %v", err)
	}
	readUntil(t, sink, "PTY:true", 5*time.Second)

	srv.setBlockKeepalive(true)

	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session not closed after failed keep-alive")
	}
	waitDone(t, p)

	var gotErr error
	for len(sink) > 0 {
		if ev := <-sink; ev.Kind == EventError {
			gotErr = ev.Err
		}
	}
	if !apperr.Is(gotErr, apperr.NetworkError) {
		t.Errorf("expected pump to report NetworkError, got %v", gotErr)
	}
	if _, ok := m.Registry().Get(s.ID); ok {
		t.Error("dead session still registered")
	}

	found := false
	for _, ev := range audit.events() {
		if ev == models.EventKeepAliveFailed {
			found = true
		}
	}
	if !found {
		t.Error("keep-alive failure not audited")
	}
}
