// cmd/sshm/cred.go

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	apperr "sshm/internal/error"
	"sshm/internal/models"
	"sshm/internal/utils"
)

var credentialKinds = map[string]models.CredentialKind{
	"password":   models.CredentialPassword,
	"key":        models.CredentialPrivateKey,
	"passphrase": models.CredentialPassphrase,
}

func parseKind(s string) (models.CredentialKind, error) {
	kind, ok := credentialKinds[strings.ToLower(s)]
	if !ok {
		return "", apperr.Newf(apperr.ValidationError, "unknown credential kind %q (password, key, passphrase)", s)
	}
	return kind, nil
}

// readSecret czyta sekret bez echa z terminala albo pierwszą linię ze stdin
func readSecret(in *os.File, errOut io.Writer, prompt string) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(errOut, prompt)
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(errOut)
		if err != nil {
			return "", apperr.New(apperr.IOError, "failed to read secret", err)
		}
		return string(secret), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", apperr.New(apperr.IOError, "failed to read secret", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newCredCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cred",
		Short: "Manage secrets in the encrypted vault",
	}
	cmd.AddCommand(newCredListCmd(), newCredSetCmd(), newCredDeleteCmd())
	return cmd
}

func newCredListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List vault accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{needVault: true, noSSH: true})
			if err != nil {
				return err
			}
			defer a.Close()
			for _, account := range a.vault.Accounts() {
				fmt.Fprintln(cmd.OutOrStdout(), account)
			}
			return nil
		},
	}
}

func newCredSetCmd() *cobra.Command {
	var (
		kind    string
		keyFile string
	)
	cmd := &cobra.Command{
		Use:   "set <host>",
		Short: "Store a secret for a saved host",
		Long:  "Stores a password, private key or key passphrase for the host's login. Secrets are read without echo, keys come from --key-file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			credKind, err := parseKind(kind)
			if err != nil {
				return err
			}

			a, err := newApp(appOptions{needVault: true, noSSH: true})
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.findHost(args[0])
			if err != nil {
				return err
			}

			var secret string
			if credKind == models.CredentialPrivateKey {
				if keyFile == "" {
					return apperr.Newf(apperr.ValidationError, "--key-file is required for kind key")
				}
				data, err := os.ReadFile(utils.ExpandHome(keyFile))
				if err != nil {
					return apperr.New(apperr.FileError, "failed to read key file", err)
				}
				secret = string(data)
			} else if secret, err = readSecret(os.Stdin, cmd.ErrOrStderr(), fmt.Sprintf("%s for %s: ", kind, h)); err != nil {
				return err
			}
			if secret == "" {
				return apperr.Newf(apperr.ValidationError, "secret cannot be empty")
			}

			if err := a.vault.Save(credKind, h.Hostname, h.Username, secret); err != nil {
				return err
			}
			if strategy := storedStrategy(credKind); strategy != "" && !h.UseAgent && h.StoredAuth != strategy {
				h.StoredAuth = strategy
				if err := a.hosts.UpdateHost(*h); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", models.Account(credKind, h.Hostname, h.Username))
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "password", "secret kind: password, key or passphrase")
	cmd.Flags().StringVarP(&keyFile, "key-file", "i", "", "private key file for kind key")
	return cmd
}

func newCredDeleteCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "delete <host>",
		Short: "Delete a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			credKind, err := parseKind(kind)
			if err != nil {
				return err
			}

			a, err := newApp(appOptions{needVault: true, noSSH: true})
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.findHost(args[0])
			if err != nil {
				return err
			}
			if err := a.vault.Delete(credKind, h.Hostname, h.Username); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", models.Account(credKind, h.Hostname, h.Username))
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "password", "secret kind: password, key or passphrase")
	return cmd
}

// storedStrategy maps a secret kind to the strategy it enables; passphrases
// only unlock keys.
func storedStrategy(kind models.CredentialKind) string {
	switch kind {
	case models.CredentialPrivateKey:
		return models.AuthKey.String()
	case models.CredentialPassword:
		return models.AuthPassword.String()
	}
	return ""
}
