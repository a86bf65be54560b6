// internal/webterm/terminal.go

package webterm

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"sshm/internal/ssh"
)

const (
	// maxInputMessageSize ogranicza pojedynczą ramkę wejścia z przeglądarki
	maxInputMessageSize = 1024 * 1024

	// kody zamknięcia z zakresu aplikacji (4000-4999)
	closeShellFailed  websocket.StatusCode = 4500
	closeStreamFailed websocket.StatusCode = 4501

	maxCloseReason = 120
)

type resizeMsg struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// socketSink przekazuje zdarzenia pompy do przeglądarki jako ramki binarne.
// Po EOF lub błędzie zamyka połączenie.
type socketSink struct {
	ctx  context.Context
	conn *websocket.Conn
	log  *logrus.Entry

	once sync.Once
	done chan struct{}
}

func newSocketSink(ctx context.Context, conn *websocket.Conn, log *logrus.Entry) *socketSink {
	return &socketSink{ctx: ctx, conn: conn, log: log, done: make(chan struct{})}
}

func (k *socketSink) Deliver(ev ssh.Event) {
	switch ev.Kind {
	case ssh.EventData:
		if err := k.conn.Write(k.ctx, websocket.MessageBinary, ev.Data); err != nil {
			k.log.WithError(err).Debug("websocket write failed")
		}
	case ssh.EventEOF:
		k.conn.Write(k.ctx, websocket.MessageBinary, []byte("\r\nConnection closed\r\n"))
		k.finish(websocket.StatusNormalClosure, "Connection closed")
	case ssh.EventError:
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		k.conn.Write(k.ctx, websocket.MessageBinary, []byte("\r\n[ERROR] "+msg+"\r\n"))
		k.finish(closeStreamFailed, msg)
	}
}

func (k *socketSink) finish(code websocket.StatusCode, reason string) {
	k.once.Do(func() {
		close(k.done)
		k.conn.Close(code, truncateReason(reason))
	})
}

func truncateReason(reason string) string {
	if len(reason) > maxCloseReason {
		return reason[:maxCloseReason]
	}
	return reason
}

// handleShell otwiera nową powłokę na sesji i przekazuje ją do przeglądarki.
//
// Parametry zapytania cols i rows ustawiają początkowy rozmiar terminala.
// Ramki binarne od klienta trafiają na wejście powłoki, ramki tekstowe to
// JSON {"type":"resize","cols":..,"rows":..}. Rozłączenie przeglądarki
// zatrzymuje powłokę, ale nie zamyka sesji.
func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.hasSession(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("failed to accept terminal websocket")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxInputMessageSize)

	log := s.log.WithField("session", id)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := newSocketSink(ctx, conn, log)
	shell, err := s.backend.OpenShell(id, sink, ssh.ShellOptions{
		Cols: queryInt(r, "cols"),
		Rows: queryInt(r, "rows"),
	})
	if err != nil {
		log.WithError(err).Warn("failed to open shell for websocket")
		conn.Close(closeShellFailed, truncateReason(err.Error()))
		return
	}
	defer shell.Stop()

	log.Info("web terminal attached")
	s.relayInput(ctx, conn, shell, log)
	log.Info("web terminal detached")

	select {
	case <-sink.done:
	default:
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

// relayInput czyta ramki od przeglądarki do rozłączenia lub zamknięcia strumienia
func (s *Server) relayInput(ctx context.Context, conn *websocket.Conn, shell Shell, log *logrus.Entry) {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		if msgType == websocket.MessageBinary {
			if _, err := shell.Write(data); err != nil {
				log.WithError(err).Debug("shell input closed")
				return
			}
			continue
		}

		var msg resizeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
			if err := shell.Resize(msg.Cols, msg.Rows); err != nil {
				log.WithError(err).Debug("resize failed")
			}
		}
	}
}
