// cmd/sshm/hosts.go

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sshm/internal/backup"
	"sshm/internal/config"
	apperr "sshm/internal/error"
	"sshm/internal/models"
	"sshm/internal/ui"
	"sshm/internal/utils"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved hosts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{noSSH: true})
			if err != nil {
				return err
			}
			defer a.Close()

			hosts := a.hosts.GetHosts()
			if len(hosts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No hosts configured. Use 'sshm add' or 'sshm import-ssh-config'.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.HostTable(hosts))
			return nil
		},
	}
}

type addFlags struct {
	name        string
	group       string
	description string
	hostname    string
	port        int
	username    string
	password    string
	keyFile     string
	passphrase  string
	agent       bool
	jump        string
	forwards    []string
	keepAlive   int
	timeout     int
	termType    string
}

// host buduje profil z flag; klucz prywatny jest wczytywany z pliku
func (f addFlags) host(a *app) (models.Host, error) {
	h := models.Host{
		Name:              f.name,
		Group:             f.group,
		Description:       f.description,
		Hostname:          f.hostname,
		Port:              f.port,
		Username:          f.username,
		Password:          f.password,
		Passphrase:        f.passphrase,
		UseAgent:          f.agent,
		KeepAliveInterval: f.keepAlive,
		ConnectTimeout:    f.timeout,
		TerminalType:      f.termType,
	}

	if f.keyFile != "" {
		data, err := os.ReadFile(utils.ExpandHome(f.keyFile))
		if err != nil {
			return h, apperr.New(apperr.FileError, "failed to read key file", err)
		}
		h.PrivateKey = string(data)
	}

	for _, spec := range f.forwards {
		rule, err := models.ParseForward(spec)
		if err != nil {
			return h, apperr.New(apperr.ValidationError, fmt.Sprintf("invalid forward %q", spec), err)
		}
		h.Forwards = append(h.Forwards, rule)
	}

	if f.jump != "" {
		jump, err := a.findHost(f.jump)
		if err != nil {
			return h, err
		}
		h.JumpHost = jump
	}
	h.ApplyDefaults()
	return h, nil
}

func newAddCmd() *cobra.Command {
	var f addFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a host profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{noSSH: true})
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := f.host(a)
			if err != nil {
				return err
			}
			added, err := a.hosts.AddHost(h)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s, auth: %s)\n", added.DisplayName(), added.ID, h.AuthStrategy())
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.name, "name", "n", "", "profile name")
	fl.StringVarP(&f.group, "group", "g", "", "group shown in the picker")
	fl.StringVar(&f.description, "description", "", "free-form description")
	fl.StringVarP(&f.hostname, "host", "H", "", "hostname or IP address")
	fl.IntVarP(&f.port, "port", "p", models.DefaultPort, "SSH port")
	fl.StringVarP(&f.username, "user", "u", "", "login name")
	fl.StringVar(&f.password, "password", "", "password (stored in the vault when it is open)")
	fl.StringVarP(&f.keyFile, "key-file", "i", "", "private key file, its content is stored in the profile")
	fl.StringVar(&f.passphrase, "passphrase", "", "private key passphrase")
	fl.BoolVar(&f.agent, "agent", false, "authenticate with the running ssh-agent")
	fl.StringVarP(&f.jump, "jump", "J", "", "existing profile used as jump host")
	fl.StringArrayVarP(&f.forwards, "forward", "L", nil, "port forward opened on connect (L:8080:db:5432, R:9000:localhost:3000, D:1080)")
	fl.IntVar(&f.keepAlive, "keepalive", models.DefaultKeepAliveInterval, "keep-alive interval in seconds, 0 disables")
	fl.IntVar(&f.timeout, "timeout", models.DefaultConnectTimeout, "connect timeout in seconds")
	fl.StringVar(&f.termType, "term", models.DefaultTerminalType, "TERM requested for the remote PTY")
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <host>",
		Aliases: []string{"rm"},
		Short:   "Remove a host profile",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{noSSH: true})
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.findHost(args[0])
			if err != nil {
				return err
			}
			if err := a.hosts.DeleteHost(h.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", h.DisplayName())
			return nil
		},
	}
}

// guardedImport robi kopię plików profili i sejfu na czas importu
func guardedImport(cmd *cobra.Command, a *app, run func() (config.ImportResult, error)) error {
	var res config.ImportResult
	err := backup.Guard(func() error {
		var err error
		res, err = run()
		return err
	}, a.settings.HostsFile, a.settings.VaultFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d hosts, %d skipped\n", res.Imported, res.Failed)
	return nil
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json|file.yaml>",
		Short: "Import host profiles from JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{noSSH: true})
			if err != nil {
				return err
			}
			defer a.Close()

			return guardedImport(cmd, a, func() (config.ImportResult, error) {
				return a.hosts.Import(utils.ExpandHome(args[0]))
			})
		},
	}
}

func newImportSSHConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-ssh-config [path]",
		Short: "Import hosts from an OpenSSH client config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultSSHConfigPath()
			if len(args) == 1 {
				path = utils.ExpandHome(args[0])
			}

			a, err := newApp(appOptions{noSSH: true})
			if err != nil {
				return err
			}
			defer a.Close()

			return guardedImport(cmd, a, func() (config.ImportResult, error) {
				return a.hosts.ImportSSHConfig(path)
			})
		},
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.json|file.yaml>",
		Short: "Export host profiles to JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{noSSH: true})
			if err != nil {
				return err
			}
			defer a.Close()

			path := utils.ExpandHome(args[0])
			if err := a.hosts.Export(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d hosts to %s\n", len(a.hosts.GetHosts()), path)
			return nil
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore the profile and vault files from their last backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings()
			if err != nil {
				return err
			}
			n, err := backup.Restore(settings.HostsFile, settings.VaultFile)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backup found")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d files\n", n)
			return nil
		},
	}
}
