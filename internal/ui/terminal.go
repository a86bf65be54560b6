// internal/ui/terminal.go

package ui

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	mobyterm "github.com/moby/term"
	"github.com/muesli/cancelreader"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	apperr "sshm/internal/error"
	"sshm/internal/ssh"
)

const (
	closedMessage = "Connection closed"
	inputBufSize  = 1024
)

// Renderer wypisuje zdarzenia pompy na lokalny terminal. Błędy pokazuje
// jako czerwony baner w linii, EOF jako komunikat o zamknięciu.
type Renderer struct {
	out    io.Writer
	banner lipgloss.Style

	mu       sync.Mutex
	finished bool
	err      error
	done     chan struct{}
}

func NewRenderer(out io.Writer) *Renderer {
	r := lipgloss.NewRenderer(out)
	return &Renderer{
		out:    out,
		banner: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		done:   make(chan struct{}),
	}
}

// Deliver implementuje ssh.Sink
func (r *Renderer) Deliver(ev ssh.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}

	switch ev.Kind {
	case ssh.EventData:
		r.out.Write(ev.Data)
	case ssh.EventEOF:
		io.WriteString(r.out, "\r\n"+closedMessage+"\r\n")
		r.finish(nil)
	case ssh.EventError:
		io.WriteString(r.out, r.Banner(ev.Err))
		r.finish(ev.Err)
	}
}

// Banner formatuje błąd jako `\r\n[ERROR] <msg>\r\n`
func (r *Renderer) Banner(err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return "\r\n" + r.banner.Render("[ERROR] "+msg) + "\r\n"
}

func (r *Renderer) finish(err error) {
	r.finished = true
	r.err = err
	close(r.done)
}

// Done zamyka się po EOF lub błędzie
func (r *Renderer) Done() <-chan struct{} {
	return r.done
}

// Err zwraca błąd, który zakończył strumień (nil dla EOF)
func (r *Renderer) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ShellOpener otwiera powłokę na istniejącej sesji
type ShellOpener interface {
	OpenShell(id string, sink ssh.Sink, opts ssh.ShellOptions) (*ssh.ShellPump, error)
}

// shell to część pompy, której używa terminal
type shell interface {
	Write(data []byte) (int, error)
	Resize(cols, rows int) error
	Stop()
}

// Terminal podłącza lokalny terminal (stdin/stdout) do powłoki zdalnej
type Terminal struct {
	In  io.Reader
	Out io.Writer
	log *logrus.Entry
}

func NewTerminal(in io.Reader, out io.Writer, log *logrus.Entry) *Terminal {
	return &Terminal{In: in, Out: out, log: log}
}

// Size zwraca rozmiar terminala wyjściowego albo false, gdy to nie jest tty
func (t *Terminal) Size() (cols, rows int, ok bool) {
	fd, isTerm := mobyterm.GetFdInfo(t.Out)
	if !isTerm {
		return 0, 0, false
	}
	ws, err := mobyterm.GetWinsize(fd)
	if err != nil || ws.Width == 0 || ws.Height == 0 {
		return 0, 0, false
	}
	return int(ws.Width), int(ws.Height), true
}

// Attach otwiera powłokę dla sesji i przekazuje do niej wejście, aż
// zdalna strona zakończy strumień albo ctx zostanie anulowany.
func (t *Terminal) Attach(ctx context.Context, opener ShellOpener, sessionID string, opts ssh.ShellOptions) error {
	if cols, rows, ok := t.Size(); ok {
		opts.Cols, opts.Rows = cols, rows
	}

	// Przejście w tryb raw, przywracany przy wyjściu
	if fd, isTerm := mobyterm.GetFdInfo(t.In); isTerm {
		state, err := term.MakeRaw(int(fd))
		if err != nil {
			return apperr.New(apperr.IOError, "failed to set raw terminal", err)
		}
		defer func() {
			if err := term.Restore(int(fd), state); err != nil {
				t.log.WithError(err).Warn("failed to restore terminal state")
			}
		}()
	}

	r := NewRenderer(t.Out)
	pump, err := opener.OpenShell(sessionID, r, opts)
	if err != nil {
		return err
	}
	return t.run(ctx, pump, r)
}

func (t *Terminal) run(ctx context.Context, sh shell, r *Renderer) error {
	stopResize := t.watchResize(sh)
	defer stopResize()

	in, err := cancelreader.NewReader(t.In)
	if err != nil {
		sh.Stop()
		return apperr.New(apperr.IOError, "failed to read terminal input", err)
	}
	defer in.Close()

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		t.pumpInput(in, sh)
	}()

	select {
	case <-r.Done():
	case <-ctx.Done():
		sh.Stop()
	}
	// stdin nie może zostać po powrocie do pickera
	if in.Cancel() {
		<-inputDone
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return r.Err()
}

func (t *Terminal) pumpInput(in io.Reader, sh shell) {
	buf := make([]byte, inputBufSize)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if _, werr := sh.Write(buf[:n]); werr != nil {
				t.log.WithError(werr).Debug("shell input closed")
				return
			}
		}
		if err != nil {
			if !errors.Is(err, cancelreader.ErrCanceled) && !errors.Is(err, io.EOF) {
				t.log.WithError(err).Debug("terminal input failed")
			}
			return
		}
	}
}
