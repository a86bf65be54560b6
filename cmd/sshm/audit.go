// cmd/sshm/audit.go

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sshm/internal/audit"
	"sshm/internal/ui"
)

func newAuditCmd() *cobra.Command {
	var (
		opts   audit.QueryOptions
		since  time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the session audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{noSSH: true})
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openAudit(); err != nil {
				return err
			}

			if since > 0 {
				t := time.Now().Add(-since)
				opts.Since = &t
			}
			res, err := a.auditor.Query(opts)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			rows := make([][]string, 0, len(res.Entries))
			for _, e := range res.Entries {
				duration := ""
				if e.DurationMs > 0 {
					duration = (time.Duration(e.DurationMs) * time.Millisecond).String()
				}
				rows = append(rows, []string{
					e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					e.EventType,
					e.Username + "@" + e.Host,
					shortID(e.SessionID),
					e.Details,
					duration,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.CreateLipglossTable([]string{"Time", "Event", "Target", "Session", "Details", "Duration"}, rows))
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d entries\n", len(res.Entries), res.Total)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&opts.SessionID, "session", "", "filter by session ID")
	fl.StringVar(&opts.Host, "host", "", "filter by hostname")
	fl.StringVar(&opts.EventType, "event", "", "filter by event type")
	fl.DurationVar(&since, "since", 0, "only entries newer than this (e.g. 24h)")
	fl.IntVar(&opts.Limit, "limit", 50, "maximum number of entries")
	fl.IntVar(&opts.Offset, "offset", 0, "entries to skip")
	fl.BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(newAuditPurgeCmd())
	return cmd
}

func newAuditPurgeCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete audit entries older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{noSSH: true})
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openAudit(); err != nil {
				return err
			}

			if days <= 0 {
				days = a.auditor.RetentionDays()
			}
			n, err := a.auditor.PurgeOlderThan(days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d entries older than %d days\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "age in days, defaults to SSHM_AUDIT_RETENTION_DAYS")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
