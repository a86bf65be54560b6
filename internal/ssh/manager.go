// internal/ssh/manager.go

package ssh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"sshm/internal/credentials"
	apperr "sshm/internal/error"
	"sshm/internal/models"
)

// czasy oczekiwania keep-alive
var (
	keepAliveTimeout = 15 * time.Second
	pumpDrainTimeout = 2 * time.Second
)

// AuditSink zapisuje zdarzenia cyklu życia sesji
type AuditSink interface {
	Log(entry models.AuditEntry) error
}

// ConnectResult to wynik ConnectAsync
type ConnectResult struct {
	Session *Session
	Err     error
}

// Manager łączy rejestr, konektor i dostarczanie podkanałów. Wszystkie
// zależności są wstrzykiwane przez opcje.
type Manager struct {
	registry   *Registry
	connector  *Connector
	secrets    credentials.Store
	audit      AuditSink
	log        *logrus.Entry
	bufferSize int
}

type managerOptions struct {
	log         *logrus.Entry
	secrets     credentials.Store
	audit       AuditSink
	hostKeys    HostKeyChecker
	tempDir     string
	bufferSize  int
	maxDepth    int
	dial        DialFunc
	agentDialer AgentDialer
}

// Option konfiguruje Manager
type Option func(*managerOptions)

func WithLogger(log *logrus.Entry) Option {
	return func(o *managerOptions) { o.log = log }
}

// WithCredentials ustawia magazyn, z którego uzupełniane są brakujące sekrety profili
func WithCredentials(store credentials.Store) Option {
	return func(o *managerOptions) { o.secrets = store }
}

func WithAudit(sink AuditSink) Option {
	return func(o *managerOptions) { o.audit = sink }
}

// WithHostKeys ustawia weryfikację kluczy hostów. Bez tej opcji NewManager zwraca błąd.
func WithHostKeys(checker HostKeyChecker) Option {
	return func(o *managerOptions) { o.hostKeys = checker }
}

func WithTempDir(dir string) Option {
	return func(o *managerOptions) { o.tempDir = dir }
}

func WithReadBufferSize(n int) Option {
	return func(o *managerOptions) { o.bufferSize = n }
}

func WithMaxJumpDepth(n int) Option {
	return func(o *managerOptions) { o.maxDepth = n }
}

// WithDialer podmienia nawiązywanie połączeń TCP do pierwszego skoku
func WithDialer(dial DialFunc) Option {
	return func(o *managerOptions) { o.dial = dial }
}

func WithAgentDialer(dial AgentDialer) Option {
	return func(o *managerOptions) { o.agentDialer = dial }
}

// NewManager tworzy Manager. Brak weryfikacji kluczy hostów jest błędem.
func NewManager(opts ...Option) (*Manager, error) {
	o := managerOptions{bufferSize: DefaultReadBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		o.log = logrus.NewEntry(l)
	}
	if o.hostKeys == nil {
		return nil, apperr.New(apperr.ConfigError, "host key verification is not configured", nil)
	}
	if o.bufferSize <= 0 {
		return nil, apperr.Newf(apperr.ConfigError, "read buffer size must be positive, got %d", o.bufferSize)
	}

	auth := NewAuthenticator(o.hostKeys, o.tempDir, o.agentDialer, o.log)
	return &Manager{
		registry:   NewRegistry(),
		connector:  NewConnector(auth, o.dial, o.maxDepth, o.log),
		secrets:    o.secrets,
		audit:      o.audit,
		log:        o.log,
		bufferSize: o.bufferSize,
	}, nil
}

// Registry zwraca rejestr sesji
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Connect łączy się z profilem i rejestruje nową sesję. Profil jest kopiowany,
// późniejsze zmiany nie wpływają na sesję.
func (m *Manager) Connect(ctx context.Context, host *models.Host) (*Session, error) {
	if host == nil {
		return nil, apperr.New(apperr.ValidationError, "host profile is required", nil)
	}
	h := host.Snapshot()
	h.ApplyDefaults()
	if err := h.Validate(); err != nil {
		return nil, apperr.New(apperr.ValidationError, "invalid host profile", err)
	}
	if err := m.connector.ValidateChain(h); err != nil {
		return nil, err
	}
	if err := m.hydrate(h); err != nil {
		return nil, err
	}

	started := time.Now()
	s, err := m.connector.Connect(ctx, h)
	if err != nil {
		m.record(models.AuditEntry{
			HostID:    h.ID,
			Host:      h.Address(),
			Username:  h.Username,
			EventType: models.EventConnectionFailed,
			Details:   err.Error(),
		})
		return nil, err
	}

	m.registry.add(s)
	m.log.WithFields(logrus.Fields{"session": s.ID, "host": h.Address(), "user": h.Username}).Info("session established")
	m.record(models.AuditEntry{
		SessionID:  s.ID,
		HostID:     h.ID,
		Host:       h.Address(),
		Username:   h.Username,
		EventType:  models.EventConnectionEstablished,
		Details:    describeChain(h),
		DurationMs: time.Since(started).Milliseconds(),
	})

	if h.KeepAliveInterval > 0 {
		go m.keepAlive(s, time.Duration(h.KeepAliveInterval)*time.Second)
	}
	return s, nil
}

// ConnectAsync wykonuje Connect w osobnej gorutynie; wynik trafia na kanał
func (m *Manager) ConnectAsync(ctx context.Context, host *models.Host) <-chan ConnectResult {
	out := make(chan ConnectResult, 1)
	go func() {
		s, err := m.Connect(ctx, host)
		out <- ConnectResult{Session: s, Err: err}
		close(out)
	}()
	return out
}

// hydrate uzupełnia brakujące sekrety każdego skoku z magazynu poświadczeń.
// Skok z zapisaną strategią (StoredAuth) dostaje tylko ten rodzaj sekretu,
// skok tylko z agentem nie dostaje nic. Pozostałe: najpierw klucz, potem hasło.
func (m *Manager) hydrate(h *models.Host) error {
	if m.secrets == nil {
		return nil
	}
	for hop := h; hop != nil; hop = hop.JumpHost {
		if hop.PrivateKey != "" || hop.Password != "" || !hop.NeedsStoredSecrets() {
			continue
		}
		var err error
		switch hop.StoredAuth {
		case models.AuthKey.String():
			_, err = m.hydrateKey(hop)
		case models.AuthPassword.String():
			hop.Password, err = m.fetch(models.CredentialPassword, hop)
		default:
			var found bool
			if found, err = m.hydrateKey(hop); err == nil && !found {
				hop.Password, err = m.fetch(models.CredentialPassword, hop)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) hydrateKey(hop *models.Host) (bool, error) {
	key, err := m.fetch(models.CredentialPrivateKey, hop)
	if err != nil || key == "" {
		return false, err
	}
	hop.PrivateKey = key
	if hop.Passphrase == "" {
		if hop.Passphrase, err = m.fetch(models.CredentialPassphrase, hop); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (m *Manager) fetch(kind models.CredentialKind, h *models.Host) (string, error) {
	secret, err := m.secrets.Fetch(kind, h.Hostname, h.Username)
	if errors.Is(err, credentials.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", apperr.New(apperr.CryptoError, fmt.Sprintf("failed to read %s for %s", kind, models.Account(kind, h.Hostname, h.Username)), err)
	}
	return secret, nil
}

// keepAlive wysyła keepalive@openssh.com; nieudana próba zrywa transport,
// pompy zgłaszają błąd, a sesja jest wyrejestrowana.
func (m *Manager) keepAlive(s *Session, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := m.log.WithField("session", s.ID)

	for {
		select {
		case <-s.Done():
			return
		case <-ticker.C:
			if err := probe(s, keepAliveTimeout); err != nil {
				if s.Closed() {
					return
				}
				log.WithError(err).Warn("keep-alive failed, closing session")
				reason := apperr.New(apperr.NetworkError, "connection lost", err)
				m.record(models.AuditEntry{
					SessionID: s.ID,
					HostID:    s.Host.ID,
					Host:      s.Host.Address(),
					Username:  s.Host.Username,
					EventType: models.EventKeepAliveFailed,
					Details:   err.Error(),
				})
				s.abort(reason)
				waitPumps(s.Pumps(), pumpDrainTimeout)
				m.Disconnect(s.ID)
				return
			}
		}
	}
}

// waitPumps daje pompom czas na zgłoszenie błędu, zanim Close je zatrzyma
func waitPumps(pumps []*ShellPump, timeout time.Duration) {
	deadline := time.After(timeout)
	for _, p := range pumps {
		select {
		case <-p.Done():
		case <-deadline:
			return
		}
	}
}

func probe(s *Session, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.New("keep-alive timed out")
	}
}

// Disconnect usuwa sesję z rejestru i zamyka ją: najpierw pompy i podkanały,
// potem transport celu, na końcu jump hosty.
func (m *Manager) Disconnect(id string) error {
	s, ok := m.registry.Remove(id)
	if !ok {
		return apperr.New(apperr.ValidationError, fmt.Sprintf("session %s", id), apperr.ErrSessionNotFound)
	}
	err := s.Close()
	m.log.WithField("session", id).Info("session closed")
	m.record(models.AuditEntry{
		SessionID:  s.ID,
		HostID:     s.Host.ID,
		Host:       s.Host.Address(),
		Username:   s.Host.Username,
		EventType:  models.EventConnectionTerminated,
		DurationMs: time.Since(s.CreatedAt).Milliseconds(),
	})
	return err
}

// DisconnectAll zamyka wszystkie zarejestrowane sesje
func (m *Manager) DisconnectAll() error {
	var errs []error
	for _, s := range m.registry.All() {
		if err := m.Disconnect(s.ID); err != nil && !errors.Is(err, apperr.ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Session zwraca sesję o podanym identyfikatorze
func (m *Manager) Session(id string) (*Session, error) {
	s, ok := m.registry.Get(id)
	if !ok {
		return nil, apperr.New(apperr.ValidationError, fmt.Sprintf("session %s", id), apperr.ErrSessionNotFound)
	}
	return s, nil
}

// Sessions zwraca wszystkie aktywne sesje, bez gwarancji kolejności
func (m *Manager) Sessions() []*Session {
	return m.registry.All()
}

// OpenShell uruchamia interaktywną powłokę i pompę wyjścia do sink
func (m *Manager) OpenShell(id string, sink Sink, opts ShellOptions) (*ShellPump, error) {
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = m.bufferSize
	}
	p, err := openShell(s, sink, opts, m.log)
	if err != nil {
		return nil, err
	}
	m.record(m.sessionEntry(s, models.EventShellStart, fmt.Sprintf("%dx%d %s", p.opts.Cols, p.opts.Rows, p.opts.TermType)))
	go func() {
		<-p.Done()
		m.record(m.sessionEntry(s, models.EventShellEnd, ""))
	}()
	return p, nil
}

// OpenLocalForward nasłuchuje na 127.0.0.1:localPort (0 = port wybrany przez
// system) i przekazuje połączenia do remoteHost:remotePort przez sesję.
func (m *Manager) OpenLocalForward(id string, localPort int, remoteHost string, remotePort int) (*Forward, error) {
	return m.openForward(id, models.PortForward{
		Type:       models.ForwardLocal,
		LocalPort:  localPort,
		RemoteHost: remoteHost,
		RemotePort: remotePort,
	})
}

// OpenRemoteForward prosi serwer o nasłuch na remotePort i przekazuje
// połączenia do localHost:localPort.
func (m *Manager) OpenRemoteForward(id string, remotePort int, localHost string, localPort int) (*Forward, error) {
	return m.openForward(id, models.PortForward{
		Type:       models.ForwardRemote,
		LocalPort:  localPort,
		RemoteHost: localHost,
		RemotePort: remotePort,
	})
}

// OpenDynamicForward uruchamia lokalne proxy SOCKS5 łączące przez sesję
func (m *Manager) OpenDynamicForward(id string, localPort int) (*Forward, error) {
	return m.openForward(id, models.PortForward{
		Type:      models.ForwardDynamic,
		LocalPort: localPort,
	})
}

// ApplyForwards otwiera wszystkie przekierowania z profilu sesji. Udane
// przekierowania zostają otwarte, błędy są zwracane razem.
func (m *Manager) ApplyForwards(id string) ([]*Forward, error) {
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	var (
		opened []*Forward
		errs   []error
	)
	for _, rule := range s.Host.Forwards {
		f, err := m.openForward(id, rule)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rule, err))
			continue
		}
		opened = append(opened, f)
	}
	return opened, errors.Join(errs...)
}

func (m *Manager) openForward(id string, rule models.PortForward) (*Forward, error) {
	if err := rule.Validate(); err != nil {
		return nil, apperr.New(apperr.ValidationError, "invalid forward", err)
	}
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}

	var f *Forward
	switch rule.Type {
	case models.ForwardLocal:
		f, err = openLocalForward(s, rule, m.log)
	case models.ForwardRemote:
		f, err = openRemoteForward(s, rule, m.log)
	case models.ForwardDynamic:
		f, err = openDynamicForward(s, rule, m.log)
	default:
		err = apperr.Newf(apperr.ValidationError, "unknown forward type %q", rule.Type)
	}
	if err != nil {
		return nil, err
	}
	m.record(m.sessionEntry(s, models.EventForwardOpened, fmt.Sprintf("%s on %s", rule, f.Addr())))
	return f, nil
}

// OpenFileTransfer otwiera podkanał SFTP na transporcie sesji
func (m *Manager) OpenFileTransfer(id string) (*FileChannel, error) {
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	fc, err := openFileChannel(s, m.log)
	if err != nil {
		return nil, err
	}
	m.record(m.sessionEntry(s, models.EventFileOperation, "sftp channel opened"))
	return fc, nil
}

// CopyViaSCP wysyła plik przez SCP
func (m *Manager) CopyViaSCP(ctx context.Context, id, localPath, remotePath string, progress chan<- TransferProgress) error {
	s, err := m.Session(id)
	if err != nil {
		return err
	}
	if err := copyViaSCP(ctx, s, localPath, remotePath, progress, m.log); err != nil {
		return err
	}
	m.record(m.sessionEntry(s, models.EventFileOperation, fmt.Sprintf("scp upload %s -> %s", localPath, remotePath)))
	return nil
}

// FetchViaSCP pobiera plik przez SCP
func (m *Manager) FetchViaSCP(ctx context.Context, id, remotePath, localPath string, progress chan<- TransferProgress) error {
	s, err := m.Session(id)
	if err != nil {
		return err
	}
	if err := fetchViaSCP(ctx, s, remotePath, localPath, progress, m.log); err != nil {
		return err
	}
	m.record(m.sessionEntry(s, models.EventFileOperation, fmt.Sprintf("scp download %s -> %s", remotePath, localPath)))
	return nil
}

// Exec wykonuje pojedyncze polecenie i zwraca połączone wyjście
func (m *Manager) Exec(ctx context.Context, id, command string) ([]byte, error) {
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	out, err := execCommand(ctx, s, command, m.log)
	entry := m.sessionEntry(s, models.EventCommandExecution, command)
	entry.DurationMs = time.Since(started).Milliseconds()
	m.record(entry)
	return out, err
}

func (m *Manager) sessionEntry(s *Session, event, details string) models.AuditEntry {
	return models.AuditEntry{
		SessionID: s.ID,
		HostID:    s.Host.ID,
		Host:      s.Host.Address(),
		Username:  s.Host.Username,
		EventType: event,
		Details:   details,
	}
}

func (m *Manager) record(entry models.AuditEntry) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(entry); err != nil {
		m.log.WithError(err).WithField("event", entry.EventType).Warn("failed to record audit event")
	}
}

func describeChain(h *models.Host) string {
	chain := h.Chain()
	if len(chain) == 1 {
		return "direct"
	}
	desc := "via"
	for _, hop := range chain[1:] {
		desc += " " + hop.String()
	}
	return desc
}
