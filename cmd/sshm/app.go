// cmd/sshm/app.go

package main

import (
	"context"
	"errors"
	"io"
	"os"

	mobyterm "github.com/moby/term"
	"github.com/sirupsen/logrus"

	"sshm/internal/audit"
	"sshm/internal/config"
	"sshm/internal/credentials"
	apperr "sshm/internal/error"
	"sshm/internal/logging"
	"sshm/internal/models"
	"sshm/internal/ssh"
	"sshm/internal/ui/views"
)

// app trzyma wszystkie komponenty procesu; tworzony raz na polecenie
type app struct {
	settings *config.Settings
	logger   *logrus.Logger
	log      *logrus.Entry
	closers  []io.Closer

	vault   *credentials.Vault
	hosts   *config.Manager
	auditor *audit.Auditor
	manager *ssh.Manager
}

type appOptions struct {
	// needVault wymusza otwarcie sejfu (polecenia cred)
	needVault bool
	// noSSH pomija menedżera sesji dla poleceń operujących tylko na plikach
	noSSH bool
}

func newApp(opts appOptions) (*app, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	if err := settings.EnsureDirs(); err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.New(settings.LogFile, settings.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{
		settings: settings,
		logger:   logger,
		log:      logger.WithField("pid", os.Getpid()),
		closers:  []io.Closer{logCloser},
	}

	if err := a.openVault(opts.needVault); err != nil {
		a.Close()
		return nil, err
	}

	var cfgOpts []config.Option
	if a.vault != nil {
		cfgOpts = append(cfgOpts, config.WithCredentials(a.vault))
	}
	a.hosts = config.NewManager(settings.HostsFile, cfgOpts...)
	if err := a.hosts.Load(); err != nil {
		a.Close()
		return nil, err
	}

	if opts.noSSH {
		return a, nil
	}

	if err := a.openAudit(); err != nil {
		a.Close()
		return nil, err
	}

	verifier, err := ssh.NewHostKeyVerifier(settings.KnownHostsFile, settings.HostKeyPolicy, a.log.WithField("component", "hostkey"))
	if err != nil {
		a.Close()
		return nil, err
	}

	mgrOpts := []ssh.Option{
		ssh.WithLogger(a.log.WithField("component", "ssh")),
		ssh.WithHostKeys(verifier),
		ssh.WithTempDir(settings.TempDir),
		ssh.WithReadBufferSize(settings.ReadBufferSize),
		ssh.WithMaxJumpDepth(settings.MaxJumpDepth),
		ssh.WithAudit(a.auditor),
	}
	if a.vault != nil {
		mgrOpts = append(mgrOpts, ssh.WithCredentials(a.vault))
	}
	if a.manager, err = ssh.NewManager(mgrOpts...); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openVault otwiera sejf hasłem z SSHM_VAULT_PASSWORD albo z promptu.
// Bez hasła i bez terminala sekrety zostają w pliku profili (0600).
func (a *app) openVault(required bool) error {
	password := a.settings.VaultPassword
	_, vaultExists := os.Stat(a.settings.VaultFile)
	if password == "" && (required || vaultExists == nil) {
		if !mobyterm.IsTerminal(os.Stdin.Fd()) {
			return apperr.Newf(apperr.ConfigError, "vault %s is locked: set SSHM_VAULT_PASSWORD", a.settings.VaultFile)
		}
		entered, ok, err := views.PromptVaultPassword(a.settings.VaultFile)
		if err != nil {
			return apperr.New(apperr.IOError, "vault prompt failed", err)
		}
		if !ok {
			return apperr.Newf(apperr.ConfigError, "vault %s is locked", a.settings.VaultFile)
		}
		password = entered
	}
	if password == "" {
		a.log.Debug("no vault password, secrets stay in the profile file")
		return nil
	}

	vault, err := credentials.OpenVault(a.settings.VaultFile, password)
	if err != nil {
		return err
	}
	a.vault = vault
	return nil
}

func (a *app) openAudit() error {
	db, err := audit.Open(a.settings.AuditDB)
	if err != nil {
		return err
	}
	a.auditor, err = audit.NewAuditor(db, a.settings.AuditRetention, a.log.WithField("component", "audit"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.auditor)
	return nil
}

// findHost szuka profilu po nazwie lub ID
func (a *app) findHost(name string) (*models.Host, error) {
	if h, err := a.hosts.GetHost(name); err == nil {
		return h, nil
	}
	return a.hosts.FindHostByName(name)
}

// connect łączy się z profilem o podanej nazwie
func (a *app) connect(ctx context.Context, name string) (*ssh.Session, error) {
	host, err := a.findHost(name)
	if err != nil {
		return nil, err
	}
	return a.manager.Connect(ctx, host)
}

// Close zamyka sesje, dziennik audytu i plik logów, w tej kolejności
func (a *app) Close() error {
	var errs []error
	if a.manager != nil {
		if err := a.manager.DisconnectAll(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
