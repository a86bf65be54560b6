// cmd/sshm/session.go

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/spf13/cobra"

	apperr "sshm/internal/error"
	"sshm/internal/models"
	"sshm/internal/ssh"
	"sshm/internal/ui"
	"sshm/internal/ui/views"
)

// runPicker to pętla: wybór hosta -> powłoka -> powrót do listy
func runPicker(ctx context.Context) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	term := ui.NewTerminal(os.Stdin, os.Stdout, a.log.WithField("component", "terminal"))
	for {
		host, sess, err := views.RunPicker(ctx, a.hosts, a.manager.Connect)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if sess == nil {
			// Użytkownik wyszedł z listy
			return nil
		}

		if err := attach(ctx, a, term, host, sess); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Shell error: %v\n", err)
		}
		if err := a.manager.Disconnect(sess.ID); err != nil {
			a.log.WithError(err).Debug("disconnect after shell")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// attach otwiera przekierowania z profilu i podłącza powłokę do terminala
func attach(ctx context.Context, a *app, term *ui.Terminal, host *models.Host, sess *ssh.Session) error {
	if len(host.Forwards) > 0 {
		forwards, err := a.manager.ApplyForwards(sess.ID)
		if err != nil {
			return err
		}
		for _, fw := range forwards {
			fmt.Fprintf(os.Stderr, "Forwarding %s\n", fw.Addr())
		}
	}
	return term.Attach(ctx, a.manager, sess.ID, ssh.ShellOptions{
		TermType:   host.TerminalType,
		ExportTerm: true,
	})
}

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <host>",
		Short: "Open an interactive shell on a saved host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.connect(ctx, args[0])
			if err != nil {
				return err
			}
			term := ui.NewTerminal(os.Stdin, os.Stdout, a.log.WithField("component", "terminal"))
			err = attach(ctx, a, term, sess.Host, sess)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <host> -- <command>",
		Short: "Run a single command on a saved host",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.connect(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := a.manager.Exec(ctx, sess.ID, strings.Join(args[1:], " "))
			cmd.OutOrStdout().Write(out)

			var remoteExit *cryptossh.ExitError
			if errors.As(err, &remoteExit) {
				return &exitError{code: remoteExit.ExitStatus()}
			}
			return err
		},
	}
}

func newForwardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forward <host> [L:port:host:port | R:port:host:port | D:port]...",
		Short: "Hold port forwards open until interrupted",
		Long:  "Opens the given forwards, or the ones saved in the profile when none are given, and keeps them until Ctrl+C or until the session drops.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rules := make([]models.PortForward, 0, len(args)-1)
			for _, spec := range args[1:] {
				rule, err := models.ParseForward(spec)
				if err != nil {
					return fmt.Errorf("invalid forward %q: %w", spec, err)
				}
				rules = append(rules, rule)
			}

			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.connect(ctx, args[0])
			if err != nil {
				return err
			}

			var forwards []*ssh.Forward
			if len(rules) == 0 {
				if forwards, err = a.manager.ApplyForwards(sess.ID); err != nil {
					return err
				}
			}
			for _, rule := range rules {
				var fw *ssh.Forward
				switch rule.Type {
				case models.ForwardRemote:
					fw, err = a.manager.OpenRemoteForward(sess.ID, rule.RemotePort, rule.RemoteHost, rule.LocalPort)
				case models.ForwardDynamic:
					fw, err = a.manager.OpenDynamicForward(sess.ID, rule.LocalPort)
				default:
					fw, err = a.manager.OpenLocalForward(sess.ID, rule.LocalPort, rule.RemoteHost, rule.RemotePort)
				}
				if err != nil {
					return err
				}
				forwards = append(forwards, fw)
			}
			if len(forwards) == 0 {
				return fmt.Errorf("no forwards given and profile %s has none", args[0])
			}

			for _, fw := range forwards {
				fmt.Fprintf(cmd.ErrOrStderr(), "Forwarding %s\n", fw.Addr())
			}

			select {
			case <-ctx.Done():
				return nil
			case <-sess.Done():
				if err := sess.GetLastError(); err != nil {
					return err
				}
				return apperr.New(apperr.NetworkError, "session ended", apperr.ErrSessionClosed)
			}
		},
	}
}
