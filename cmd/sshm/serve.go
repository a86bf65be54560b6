// cmd/sshm/serve.go

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sshm/internal/ssh"
	"sshm/internal/webterm"
)

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve [host]...",
		Short: "Serve open sessions to a browser terminal over WebSocket",
		Long:  "Connects to the given hosts and exposes their shells at /api/sessions/{id}/shell until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if listen == "" {
				listen = a.settings.WebListen
			}

			// Połączenia równoległe, błędy nie zatrzymują serwera
			pending := make(map[string]<-chan ssh.ConnectResult, len(args))
			for _, name := range args {
				h, err := a.findHost(name)
				if err != nil {
					return err
				}
				pending[name] = a.manager.ConnectAsync(ctx, h)
			}
			for name, ch := range pending {
				res := <-ch
				if res.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", name, res.Err)
					continue
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: session %s\n", name, res.Session.ID)
			}

			srv := webterm.NewServer(webterm.FromManager(a.manager), a.log.WithField("component", "webterm"))
			return srv.ListenAndServe(ctx, listen)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address, defaults to SSHM_WEB_LISTEN")
	return cmd
}
