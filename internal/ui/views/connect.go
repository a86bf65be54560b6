// internal/ui/views/connect.go

package views

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"sshm/internal/models"
	"sshm/internal/ssh"
	"sshm/internal/ui/messages"
)

// ConnectFunc nawiązuje sesję dla profilu (zwykle ssh.Manager.Connect)
type ConnectFunc func(ctx context.Context, host *models.Host) (*ssh.Session, error)

// connectCmd łączy się w tle; limit czasu wynika z ConnectTimeout profilu
func connectCmd(ctx context.Context, connect ConnectFunc, host models.Host) tea.Cmd {
	return func() tea.Msg {
		timeout := time.Duration(host.ConnectTimeout) * time.Second
		if timeout <= 0 {
			timeout = models.DefaultConnectTimeout * time.Second
		}
		// każdy skok łańcucha ma własny limit
		ctx, cancel := context.WithTimeout(ctx, timeout*time.Duration(len(host.Chain())))
		defer cancel()

		s, err := connect(ctx, &host)
		return messages.ConnectFinishedMsg{Host: &host, Session: s, Err: err}
	}
}

// deleteCmd usuwa profil z konfiguracji
func deleteCmd(remove func(id string) error, host models.Host) tea.Cmd {
	return func() tea.Msg {
		return messages.HostDeletedMsg{Name: host.DisplayName(), Err: remove(host.ID)}
	}
}

// clearStatusAfter czyści pasek statusu po upływie d
func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return messages.AutoCloseMsg{}
	})
}
