// internal/error/error.go

package error

import (
	"errors"
	"fmt"
)

type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

type ErrorType int

const (
	ConfigError ErrorType = iota
	NetworkError
	AuthError
	HostKeyError
	ChannelError
	IOError
	CryptoError
	FileError
	ValidationError
)

var typeNames = map[ErrorType]string{
	ConfigError:     "config",
	NetworkError:    "network",
	AuthError:       "auth",
	HostKeyError:    "host key",
	ChannelError:    "channel",
	IOError:         "io",
	CryptoError:     "crypto",
	FileError:       "file",
	ValidationError: "validation",
}

func (t ErrorType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ErrorType(%d)", int(t))
}

// Błędy bazowe, opakowywane przez AppError
var (
	ErrNoAuthMethod    = errors.New("no authentication method configured")
	ErrSessionNotFound = errors.New("session not found")
	ErrJumpCycle       = errors.New("jump host chain contains a cycle")
	ErrJumpDepth       = errors.New("jump host chain too deep")
	ErrHostKeyUnknown  = errors.New("host key is not known")
	ErrHostKeyMismatch = errors.New("host key mismatch")
	ErrSessionClosed   = errors.New("session closed")
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(errType ErrorType, message string, err error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Newf działa jak New, ale bez błędu źródłowego
func Newf(errType ErrorType, format string, args ...any) *AppError {
	return &AppError{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// TypeOf zwraca typ pierwszego AppError w łańcuchu
func TypeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type, true
	}
	return 0, false
}

// Is reports whether any AppError in err's chain has the given type.
func Is(err error, errType ErrorType) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == errType {
			return true
		}
		err = appErr.Err
	}
	return false
}
