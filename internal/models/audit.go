// internal/models/audit.go

package models

// Typy zdarzeń zapisywanych w dzienniku audytu
const (
	EventConnectionEstablished = "connection_established"
	EventConnectionTerminated  = "connection_terminated"
	EventConnectionFailed      = "connection_failed"
	EventShellStart            = "terminal_session_start"
	EventShellEnd              = "terminal_session_end"
	EventCommandExecution      = "command_execution"
	EventFileOperation         = "file_operation"
	EventForwardOpened         = "forward_opened"
	EventKeepAliveFailed       = "keepalive_failed"
)

// AuditEntry to pola potrzebne do zapisania jednego zdarzenia
type AuditEntry struct {
	SessionID  string
	HostID     string
	Host       string
	Username   string
	EventType  string
	Details    string
	DurationMs int64
}
