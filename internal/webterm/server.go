// internal/webterm/server.go

package webterm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	apperr "sshm/internal/error"
	"sshm/internal/ssh"
)

const shutdownTimeout = 5 * time.Second

// Shell to część pompy powłoki używana przez most WebSocket
type Shell interface {
	Write(data []byte) (int, error)
	Resize(cols, rows int) error
	Stop()
}

// Backend udostępnia sesje menedżera SSH serwerowi HTTP
type Backend interface {
	Sessions() []*ssh.Session
	OpenShell(id string, sink ssh.Sink, opts ssh.ShellOptions) (Shell, error)
	Disconnect(id string) error
}

type managerBackend struct {
	*ssh.Manager
}

func (b managerBackend) OpenShell(id string, sink ssh.Sink, opts ssh.ShellOptions) (Shell, error) {
	p, err := b.Manager.OpenShell(id, sink, opts)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FromManager adaptuje ssh.Manager do Backend
func FromManager(m *ssh.Manager) Backend {
	return managerBackend{m}
}

// Server to most przeglądarka <-> pompa powłoki
type Server struct {
	backend Backend
	log     *logrus.Entry
	router  chi.Router
}

func NewServer(backend Backend, log *logrus.Entry) *Server {
	s := &Server{
		backend: backend,
		log:     log,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.listSessions)
		r.Get("/sessions/{id}/shell", s.handleShell)
		r.Delete("/sessions/{id}", s.deleteSession)
	})
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe obsługuje żądania do anulowania ctx, potem zamyka serwer
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("web terminal listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return apperr.New(apperr.NetworkError, "web terminal server failed", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return apperr.New(apperr.NetworkError, "web terminal shutdown failed", err)
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("request")
	})
}

type sessionInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Hostname  string    `json:"hostname"`
	Port      int       `json:"port"`
	Username  string    `json:"username"`
	State     string    `json:"state"`
	Via       []string  `json:"via,omitempty"`
	Shells    int       `json:"shells"`
	CreatedAt time.Time `json:"created_at"`
}

func describe(sess *ssh.Session) sessionInfo {
	info := sessionInfo{
		ID:        sess.ID,
		State:     sess.GetState().String(),
		Shells:    len(sess.Pumps()),
		CreatedAt: sess.CreatedAt,
	}
	if h := sess.Host; h != nil {
		info.Name = h.DisplayName()
		info.Hostname = h.Hostname
		info.Port = h.Port
		info.Username = h.Username
		for hop := h.JumpHost; hop != nil; hop = hop.JumpHost {
			info.Via = append(info.Via, hop.String())
		}
	}
	return info
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.backend.Sessions()
	out := make([]sessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, describe(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.backend.Disconnect(id); err != nil {
		if errors.Is(err, apperr.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.log.WithError(err).WithField("session", id).Warn("disconnect failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) hasSession(id string) bool {
	for _, sess := range s.backend.Sessions() {
		if sess.ID == id {
			return true
		}
	}
	return false
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
