package ui

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	apperr "sshm/internal/error"
	"sshm/internal/logging"
	"sshm/internal/models"
	"sshm/internal/ssh"
)

type fakeShell struct {
	mu      sync.Mutex
	written bytes.Buffer
	stopped int
	resizes [][2]int
	wrote   chan struct{}
}

func newFakeShell() *fakeShell {
	return &fakeShell{wrote: make(chan struct{}, 16)}
}

func (f *fakeShell) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped > 0 {
		return 0, apperr.New(apperr.IOError, "write failed", apperr.ErrSessionClosed)
	}
	f.written.Write(p)
	f.wrote <- struct{}{}
	return len(p), nil
}

func (f *fakeShell) Resize(cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]int{cols, rows})
	return nil
}

func (f *fakeShell) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeShell) input() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

// syncBuffer chroni bufor wyjścia przed równoległym zapisem i odczytem
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testTerminal(in io.Reader, out io.Writer) *Terminal {
	return NewTerminal(in, out, logging.Discard().WithField("component", "terminal"))
}

func TestRendererEOF(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out)

	r.Deliver(ssh.Event{Kind: ssh.EventData, Data: []byte("hello")})
	r.Deliver(ssh.Event{Kind: ssh.EventEOF})
	r.Deliver(ssh.Event{Kind: ssh.EventData, Data: []byte("late")})

	select {
	case <-r.Done():
	default:
		t.Fatal("renderer not done after EOF")
	}
	if r.Err() != nil {
		t.Errorf("EOF must not be an error, got %v", r.Err())
	}
	if got := out.String(); got != "hello\r\nConnection closed\r\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestRendererErrorBanner(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out)

	reason := apperr.New(apperr.NetworkError, "connection lost", errors.New("probe failed"))
	r.Deliver(ssh.Event{Kind: ssh.EventError, Err: reason})

	got := out.String()
	if !strings.HasPrefix(got, "\r\n") || !strings.HasSuffix(got, "\r\n") {
		t.Errorf("banner must be on its own line, got %q", got)
	}
	if !strings.Contains(got, "[ERROR] connection lost: probe failed") {
		t.Errorf("banner missing message: %q", got)
	}
	if strings.Contains(got, closedMessage) {
		t.Error("error and EOF messages must differ")
	}
	if !errors.Is(r.Err(), reason) {
		t.Errorf("expected reason, got %v", r.Err())
	}
}

func TestTerminalForwardsInputUntilEOF(t *testing.T) {
	inR, inW := io.Pipe()
	t.Cleanup(func() { inW.Close() })
	out := &syncBuffer{}
	term := testTerminal(inR, out)
	sh := newFakeShell()
	r := NewRenderer(out)

	errc := make(chan error, 1)
	go func() { errc <- term.run(context.Background(), sh, r) }()

	inW.Write([]byte("ls\r"))
	select {
	case <-sh.wrote:
	case <-time.After(5 * time.Second):
		t.Fatal("input not forwarded")
	}
	if sh.input() != "ls\r" {
		t.Errorf("expected raw input bytes, got %q", sh.input())
	}

	r.Deliver(ssh.Event{Kind: ssh.EventData, Data: []byte("file.txt\r\n")})
	r.Deliver(ssh.Event{Kind: ssh.EventEOF})

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after EOF")
	}
	if !strings.Contains(out.String(), "file.txt") || !strings.Contains(out.String(), closedMessage) {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestTerminalReturnsStreamError(t *testing.T) {
	inR, inW := io.Pipe()
	t.Cleanup(func() { inW.Close() })
	term := testTerminal(inR, io.Discard)
	r := NewRenderer(io.Discard)

	go r.Deliver(ssh.Event{Kind: ssh.EventError, Err: apperr.New(apperr.IOError, "read failed", io.ErrUnexpectedEOF)})

	err := term.run(context.Background(), newFakeShell(), r)
	if !apperr.Is(err, apperr.IOError) {
		t.Fatalf("expected IOError, got %v", err)
	}
}

func TestTerminalContextCancelStopsShell(t *testing.T) {
	inR, inW := io.Pipe()
	t.Cleanup(func() { inW.Close() })
	term := testTerminal(inR, io.Discard)
	sh := newFakeShell()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := term.run(ctx, sh, NewRenderer(io.Discard))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sh.stopped != 1 {
		t.Errorf("expected shell stopped once, got %d", sh.stopped)
	}
}

func TestTerminalSizeWithoutTTY(t *testing.T) {
	term := testTerminal(strings.NewReader(""), &bytes.Buffer{})
	if _, _, ok := term.Size(); ok {
		t.Error("a buffer is not a terminal")
	}
}

func TestHostTable(t *testing.T) {
	bastion := &models.Host{Name: "bastion", Hostname: "bastion.example.com", Port: 22, Username: "ops"}
	out := HostTable([]models.Host{
		{Name: "web", Group: "prod", Hostname: "10.0.0.5", Port: 22, Username: "root", Password: "x"},
		{Hostname: "10.0.0.9", Port: 2222, Username: "deploy", UseAgent: true, JumpHost: bastion},
	})

	for _, want := range []string{"web", "prod", "root@10.0.0.5", "password", "10.0.0.9", "2222", "agent", "bastion"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
