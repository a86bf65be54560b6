// internal/ui/messages/messages.go

package messages

import (
	"sshm/internal/models"
	"sshm/internal/ssh"
)

// ConnectFinishedMsg kończy asynchroniczne łączenie z wybranym hostem
type ConnectFinishedMsg struct {
	Host    *models.Host
	Session *ssh.Session
	Err     error
}

// HostDeletedMsg informuje o usunięciu profilu
type HostDeletedMsg struct {
	Name string
	Err  error
}

type ReloadHostsMsg struct{}
type AutoCloseMsg struct{}

// PasswordEnteredMsg niesie hasło do sejfu wpisane w promptcie
type PasswordEnteredMsg string
