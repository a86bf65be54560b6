package ssh

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	apperr "sshm/internal/error"
)

// scriptedChannel returns the scripted chunks one per Read, then a
// zero-length read. Reads after that are counted.
type scriptedChannel struct {
	mu          sync.Mutex
	chunks      [][]byte
	finalErr    error
	readsAfter  int
	finished    bool
	written     []byte
	resizes     [][2]int
	closed      int
	blockOnRead chan struct{}
}

func (c *scriptedChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.finished {
		c.readsAfter++
		c.mu.Unlock()
		return 0, io.EOF
	}
	if len(c.chunks) > 0 {
		chunk := c.chunks[0]
		c.chunks = c.chunks[1:]
		c.mu.Unlock()
		return copy(p, chunk), nil
	}
	block := c.blockOnRead
	c.mu.Unlock()

	if block != nil {
		<-block
		return 0, io.EOF
	}

	c.mu.Lock()
	c.finished = true
	c.mu.Unlock()
	return 0, c.finalErr
}

func (c *scriptedChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *scriptedChannel) WindowChange(rows, cols int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resizes = append(c.resizes, [2]int{cols, rows})
	return nil
}

func (c *scriptedChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	if c.blockOnRead != nil {
		select {
		case <-c.blockOnRead:
		default:
			close(c.blockOnRead)
		}
	}
	return nil
}

// recordingSink collects events in delivery order.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Deliver(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func waitDone(t *testing.T, p *ShellPump) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not finish")
	}
}

func TestPumpDeliversInOrderWithSingleEOF(t *testing.T) {
	ch := &scriptedChannel{chunks: [][]byte{[]byte("hello "), []byte("remote "), []byte("world")}}
	sink := &recordingSink{}
	p := newPump(ch, sink, ShellOptions{}.withDefaults(nil), testLogger())
	if p.State() != PumpIdle {
		t.Fatalf("expected idle, got %s", p.State())
	}
	p.start()
	waitDone(t, p)

	events := sink.snapshot()
	var data strings.Builder
	eofs := 0
	for i, ev := range events {
		switch ev.Kind {
		case EventData:
			if eofs > 0 {
				t.Errorf("data after EOF at %d", i)
			}
			data.WriteString(string(ev.Data))
		case EventEOF:
			eofs++
		case EventError:
			t.Errorf("unexpected error event: %v", ev.Err)
		}
	}
	if data.String() != "hello remote world" {
		t.Errorf("expected bytes in order, got %q", data.String())
	}
	if eofs != 1 {
		t.Errorf("expected exactly one EOF, got %d", eofs)
	}
	if events[len(events)-1].Kind != EventEOF {
		t.Error("EOF must be the last event")
	}
	if ch.readsAfter != 0 {
		t.Errorf("expected no reads after zero-length read, got %d", ch.readsAfter)
	}
	if p.State() != PumpClosed {
		t.Errorf("expected closed, got %s", p.State())
	}
}

func TestPumpReadErrorEmitsSingleError(t *testing.T) {
	ch := &scriptedChannel{chunks: [][]byte{[]byte("partial")}, finalErr: errors.New("connection reset")}
	sink := &recordingSink{}
	p := newPump(ch, sink, ShellOptions{}.withDefaults(nil), testLogger())
	p.start()
	waitDone(t, p)

	events := sink.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected data and error events, got %+v", events)
	}
	last := events[1]
	if last.Kind != EventError || !apperr.Is(last.Err, apperr.IOError) {
		t.Errorf("expected IOError event, got %+v", last)
	}
}

func TestPumpDispatcher(t *testing.T) {
	ch := &scriptedChannel{chunks: [][]byte{[]byte("a"), []byte("b")}}
	sink := &recordingSink{}

	var (
		mu    sync.Mutex
		calls int
	)
	opts := ShellOptions{Dispatcher: func(fn func()) {
		mu.Lock()
		calls++
		mu.Unlock()
		fn()
	}}.withDefaults(nil)

	p := newPump(ch, sink, opts, testLogger())
	p.start()
	waitDone(t, p)

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Errorf("expected 3 dispatched events, got %d", calls)
	}
}

func TestPumpStopIsIdempotent(t *testing.T) {
	ch := &scriptedChannel{blockOnRead: make(chan struct{})}
	sink := &recordingSink{}
	p := newPump(ch, sink, ShellOptions{}.withDefaults(nil), testLogger())
	p.start()

	if p.State() != PumpReading {
		t.Fatalf("expected reading, got %s", p.State())
	}
	if err := p.Resize(120, 5000); err != nil {
		t.Fatalf("resize: %v", err)
	}

	p.Stop()
	p.Stop()
	waitDone(t, p)

	if ch.closed != 1 {
		t.Errorf("expected channel closed once, got %d", ch.closed)
	}
	if events := sink.snapshot(); len(events) != 0 {
		t.Errorf("expected no events after stop, got %+v", events)
	}
	if _, err := p.Write([]byte("late")); !apperr.Is(err, apperr.IOError) {
		t.Errorf("expected IOError writing to stopped pump, got %v", err)
	}
	if err := p.Resize(80, 24); !apperr.Is(err, apperr.ChannelError) {
		t.Errorf("expected ChannelError resizing stopped pump, got %v", err)
	}
	if len(ch.resizes) != 1 || ch.resizes[0] != [2]int{120, 1000} {
		t.Errorf("expected clamped resize, got %v", ch.resizes)
	}
}

func TestPumpStopBeforeStart(t *testing.T) {
	ch := &scriptedChannel{}
	p := newPump(ch, &recordingSink{}, ShellOptions{}.withDefaults(nil), testLogger())
	p.Stop()
	p.start()
	waitDone(t, p)
	if p.State() != PumpClosed {
		t.Errorf("expected closed, got %s", p.State())
	}
}

func openTestShell(t *testing.T, opts ShellOptions) (*Manager, *Session, *ShellPump, chanSink) {
	t.Helper()
	srv := startTestServer(t, testServerOptions{password: "pw"})
	m := newTestManager(t, WithHostKeys(insecureVerifier(t)))
	host := hostFor(t, srv.addr, "root")
	host.Password = "pw"

	s, err := m.Connect(context.Background(), host)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	sink := make(chanSink, 256)
	p, err := m.OpenShell(s.ID, sink, opts)
	if err != nil {
		t.Fatalf("open shell: %v", err)
	}
	return m, s, p, sink
}

func TestShellPumpOverSSH(t *testing.T) {
	_, s, p, sink := openTestShell(t, ShellOptions{Cols: 100, Rows: 30})

	readUntil(t, sink, "PTY:true", 5*time.Second)

	if _, err := p.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, sink, "echo:hello", 5*time.Second)

	if err := p.Resize(120, 40); err != nil {
		t.Fatalf("resize: %v", err)
	}
	readUntil(t, sink, "resize:120x40", 5*time.Second)

	if len(s.Pumps()) != 1 {
		t.Fatalf("expected pump attached to session")
	}

	if _, err := p.Write([]byte("exit\n")); err != nil {
		t.Fatalf("write exit: %v", err)
	}
	readUntil(t, sink, "bye", 5*time.Second)
	waitDone(t, p)

	eofs := 0
	for len(sink) > 0 {
		ev := <-sink
		switch ev.Kind {
		case EventEOF:
			eofs++
		case EventError:
			t.Errorf("clean exit reported as error: %v", ev.Err)
		}
	}
	if eofs != 1 {
		t.Errorf("expected one EOF event, got %d", eofs)
	}
	if len(s.Pumps()) != 0 {
		t.Error("finished pump should detach from the session")
	}
	if s.Closed() {
		t.Error("shell exit must not close the session")
	}
}

func TestShellExportTerm(t *testing.T) {
	_, _, p, sink := openTestShell(t, ShellOptions{TermType: "vt100", ExportTerm: true})
	readUntil(t, sink, "echo:export TERM=vt100", 5*time.Second)
	p.Stop()
}

func TestDisconnectStopsPump(t *testing.T) {
	m, s, p, sink := openTestShell(t, ShellOptions{})
	readUntil(t, sink, "PTY:true", 5*time.Second)

	if err := m.Disconnect(s.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	waitDone(t, p)
	if p.State() != PumpClosed {
		t.Errorf("expected closed pump, got %s", p.State())
	}
	if _, err := m.OpenShell(s.ID, sink, ShellOptions{}); !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAbortReportsErrorToPump(t *testing.T) {
	_, s, p, sink := openTestShell(t, ShellOptions{})
	readUntil(t, sink, "PTY:true", 5*time.Second)

	reason := apperr.New(apperr.NetworkError, "connection lost", errors.New("probe failed"))
	s.abort(reason)
	waitDone(t, p)

	var got error
	for len(sink) > 0 {
		ev := <-sink
		if ev.Kind == EventEOF {
			t.Error("aborted transport must not be reported as a clean EOF")
		}
		if ev.Kind == EventError {
			got = ev.Err
		}
	}
	if !errors.Is(got, reason) {
		t.Errorf("expected abort reason, got %v", got)
	}
	if s.GetState() != StateError {
		t.Errorf("expected error state, got %s", s.GetState())
	}
}
