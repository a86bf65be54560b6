// internal/ssh/pump.go

package ssh

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	apperr "sshm/internal/error"
	"sshm/internal/models"
)

const (
	DefaultReadBufferSize = 4096
	DefaultCols           = 80
	DefaultRows           = 24
	maxTerminalDimension  = 1000
	eventQueueSize        = 64
)

// EventKind rozróżnia dane, koniec strumienia i błąd
type EventKind int

const (
	EventData EventKind = iota
	EventEOF
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventEOF:
		return "eof"
	default:
		return "error"
	}
}

// Event to pojedyncze zdarzenie wyjścia powłoki
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Sink odbiera wyjście powłoki. Deliver jest wywoływany sekwencyjnie.
type Sink interface {
	Deliver(Event)
}

// SinkFunc pozwala użyć funkcji jako Sink
type SinkFunc func(Event)

func (f SinkFunc) Deliver(ev Event) {
	f(ev)
}

// Dispatcher uruchamia dostarczenie zdarzenia w kontekście wybranym przez odbiorcę
// (np. kolejka wątku UI). Musi zachować kolejność wywołań.
type Dispatcher func(func())

// PumpState to stan pompy powłoki
type PumpState int32

const (
	PumpIdle PumpState = iota
	PumpReading
	PumpClosed
)

func (s PumpState) String() string {
	switch s {
	case PumpIdle:
		return "idle"
	case PumpReading:
		return "reading"
	default:
		return "closed"
	}
}

// ShellOptions konfiguruje powłokę interaktywną
type ShellOptions struct {
	Cols       int
	Rows       int
	TermType   string
	ExportTerm bool
	BufferSize int
	Dispatcher Dispatcher
	Modes      ssh.TerminalModes
}

// DefaultTerminalModes to tryby terminala wysyłane w żądaniu PTY
func DefaultTerminalModes() ssh.TerminalModes {
	return ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
		ssh.VINTR:         3,  // Ctrl+C
		ssh.VQUIT:         28, // Ctrl+\
		ssh.VERASE:        127,
		ssh.VKILL:         21, // Ctrl+U
		ssh.VEOF:          4,  // Ctrl+D
		ssh.VWERASE:       23, // Ctrl+W
		ssh.VLNEXT:        22, // Ctrl+V
		ssh.VSUSP:         26, // Ctrl+Z
	}
}

func (o ShellOptions) withDefaults(host *models.Host) ShellOptions {
	if o.Cols <= 0 {
		o.Cols = DefaultCols
	}
	if o.Rows <= 0 {
		o.Rows = DefaultRows
	}
	o.Cols = clampDimension(o.Cols)
	o.Rows = clampDimension(o.Rows)
	if o.TermType == "" && host != nil {
		o.TermType = host.TerminalType
	}
	if o.TermType == "" {
		o.TermType = models.DefaultTerminalType
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultReadBufferSize
	}
	if o.Modes == nil {
		o.Modes = DefaultTerminalModes()
	}
	return o
}

func clampDimension(v int) int {
	if v < 1 {
		return 1
	}
	if v > maxTerminalDimension {
		return maxTerminalDimension
	}
	return v
}

// shellChannel to strumień powłoki widziany przez pompę
type shellChannel interface {
	io.Reader
	io.Writer
	WindowChange(rows, cols int) error
	Close() error
}

// sessionChannel łączy ssh.Session z jego potokami stdin/stdout
type sessionChannel struct {
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader
}

func (c *sessionChannel) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *sessionChannel) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *sessionChannel) WindowChange(rows, cols int) error {
	return c.sess.WindowChange(rows, cols)
}

func (c *sessionChannel) Close() error {
	c.stdin.Close()
	err := c.sess.Close()
	if err != nil && isClosedErr(err) {
		return nil
	}
	return err
}

// ShellPump czyta wyjście zdalnej powłoki w osobnej gorutynie i przekazuje je
// do Sink. Zapis i zmiana rozmiaru są niezależne od pętli odczytu.
type ShellPump struct {
	session *Session
	ch      shellChannel
	sink    Sink
	opts    ShellOptions
	log     *logrus.Entry

	state   atomic.Int32
	stopped atomic.Bool

	failMu  sync.Mutex
	failErr error

	writeMu sync.Mutex
	events  chan Event
	done    chan struct{}
}

func newPump(ch shellChannel, sink Sink, opts ShellOptions, log *logrus.Entry) *ShellPump {
	return &ShellPump{
		ch:     ch,
		sink:   sink,
		opts:   opts,
		log:    log,
		events: make(chan Event, eventQueueSize),
		done:   make(chan struct{}),
	}
}

// openShell otwiera kanał sesji z PTY, uruchamia powłokę i pompę
func openShell(s *Session, sink Sink, opts ShellOptions, log *logrus.Entry) (*ShellPump, error) {
	if sink == nil {
		return nil, apperr.New(apperr.ValidationError, "shell output sink is required", nil)
	}
	opts = opts.withDefaults(s.Host)

	sess, err := s.client.NewSession()
	if err != nil {
		return nil, apperr.New(apperr.ChannelError, "failed to open session channel", err)
	}
	fail := func(msg string, err error) (*ShellPump, error) {
		sess.Close()
		return nil, apperr.New(apperr.ChannelError, msg, err)
	}

	if err := sess.RequestPty(opts.TermType, opts.Rows, opts.Cols, opts.Modes); err != nil {
		return fail("failed to request PTY", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		return fail("failed to get stdin pipe", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return fail("failed to get stdout pipe", err)
	}
	if err := sess.Shell(); err != nil {
		return fail("failed to start shell", err)
	}

	ch := &sessionChannel{sess: sess, stdin: stdin, stdout: stdout}
	p := newPump(ch, sink, opts, log.WithField("session", s.ID))
	p.session = s
	if err := s.attachPump(p); err != nil {
		ch.Close()
		return nil, err
	}

	if opts.ExportTerm {
		if _, err := p.ch.Write([]byte(fmt.Sprintf("export TERM=%s\r", opts.TermType))); err != nil {
			p.Stop()
			return nil, apperr.New(apperr.IOError, "failed to export TERM", err)
		}
	}

	p.start()
	return p, nil
}

func (p *ShellPump) start() {
	if !p.state.CompareAndSwap(int32(PumpIdle), int32(PumpReading)) {
		close(p.events)
		close(p.done)
		return
	}
	delivered := make(chan struct{})
	go p.deliver(delivered)
	go func() {
		p.readLoop()
		if !p.stopped.Load() {
			p.ch.Close()
			if p.session != nil {
				p.session.detachPump(p)
			}
		}
		<-delivered
		close(p.done)
	}()
}

// readLoop blokuje na odczycie bufora stałej wielkości aż do EOF, błędu lub Stop
func (p *ShellPump) readLoop() {
	defer close(p.events)
	buf := make([]byte, p.opts.BufferSize)

	for !p.stopped.Load() {
		n, err := p.ch.Read(buf)
		if n > 0 && !p.stopped.Load() {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.events <- Event{Kind: EventData, Data: data}
		}
		if n == 0 && err == nil {
			// pusty odczyt oznacza uporządkowane zamknięcie po stronie serwera
			err = io.EOF
		}
		if err == nil {
			continue
		}

		p.state.Store(int32(PumpClosed))
		if p.stopped.Load() {
			return
		}
		if reason := p.failure(); reason != nil {
			p.events <- Event{Kind: EventError, Err: reason}
		} else if errors.Is(err, io.EOF) {
			p.log.Debug("remote shell closed")
			p.events <- Event{Kind: EventEOF}
		} else {
			p.log.WithError(err).Warn("shell read failed")
			p.events <- Event{Kind: EventError, Err: apperr.New(apperr.IOError, "read from remote shell failed", err)}
		}
		return
	}
	p.state.Store(int32(PumpClosed))
}

func (p *ShellPump) deliver(delivered chan<- struct{}) {
	defer close(delivered)
	for ev := range p.events {
		if p.stopped.Load() {
			continue
		}
		ev := ev
		if p.opts.Dispatcher != nil {
			p.opts.Dispatcher(func() { p.sink.Deliver(ev) })
		} else {
			p.sink.Deliver(ev)
		}
	}
}

// fail zapamiętuje przyczynę zerwania transportu; zostanie zgłoszona zamiast EOF
func (p *ShellPump) fail(err error) {
	p.failMu.Lock()
	if p.failErr == nil {
		p.failErr = err
	}
	p.failMu.Unlock()
}

func (p *ShellPump) failure() error {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	return p.failErr
}

// Write wysyła dane (np. naciśnięcia klawiszy) do powłoki
func (p *ShellPump) Write(data []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.stopped.Load() || p.State() == PumpClosed {
		return 0, apperr.New(apperr.IOError, "shell is closed", apperr.ErrSessionClosed)
	}
	n, err := p.ch.Write(data)
	if err != nil {
		return n, apperr.New(apperr.IOError, "write to remote shell failed", err)
	}
	return n, nil
}

// Resize przekazuje nowe wymiary terminala do zdalnego PTY
func (p *ShellPump) Resize(cols, rows int) error {
	if p.State() != PumpReading {
		return apperr.Newf(apperr.ChannelError, "cannot resize shell in state %s", p.State())
	}
	cols, rows = clampDimension(cols), clampDimension(rows)
	if err := p.ch.WindowChange(rows, cols); err != nil {
		return apperr.New(apperr.ChannelError, "failed to update terminal size", err)
	}
	return nil
}

// Stop kończy pompę. Kolejne wywołania nic nie robią.
func (p *ShellPump) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	if !p.state.CompareAndSwap(int32(PumpIdle), int32(PumpClosed)) {
		p.state.Store(int32(PumpClosed))
	}
	if err := p.ch.Close(); err != nil {
		p.log.WithError(err).Debug("shell channel close")
	}
	if p.session != nil {
		p.session.detachPump(p)
	}
}

// Done jest zamykany, gdy pętla odczytu i dostarczanie zdarzeń się zakończą
func (p *ShellPump) Done() <-chan struct{} {
	return p.done
}

func (p *ShellPump) State() PumpState {
	return PumpState(p.state.Load())
}

// Session zwraca sesję, na której działa pompa
func (p *ShellPump) Session() *Session {
	return p.session
}
