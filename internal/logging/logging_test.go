package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sshm.log")
	logger, closer, err := New(path, "debug")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.WithField("session", "abc").Debug("connected")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "session=abc") || !strings.Contains(string(data), "connected") {
		t.Errorf("unexpected log content %q", data)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, _, err := New(filepath.Join(t.TempDir(), "x.log"), "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
