// internal/logging/logging.go

package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	apperr "sshm/internal/error"
)

// New tworzy logger piszący do pliku. Stdout należy do terminala sesji,
// więc logi nigdy tam nie trafiają.
func New(path, level string) (*logrus.Logger, io.Closer, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, apperr.New(apperr.ConfigError, "invalid log level", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, nil, apperr.New(apperr.FileError, "failed to create log directory", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, apperr.New(apperr.FileError, "failed to open log file", err)
	}

	logger := logrus.New()
	logger.SetOutput(f)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return logger, f, nil
}

// Discard zwraca logger, który niczego nie zapisuje (testy, brak konfiguracji)
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
