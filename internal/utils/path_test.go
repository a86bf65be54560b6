package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/.ssh/id_ed25519"); got != filepath.Join(home, ".ssh", "id_ed25519") {
		t.Errorf("unexpected expansion %q", got)
	}
	if got := ExpandHome("~"); got != home {
		t.Errorf("unexpected expansion %q", got)
	}
	if got := ExpandHome("/etc/ssh/key"); got != "/etc/ssh/key" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := ExpandHome("~other/key"); got != "~other/key" {
		t.Errorf("other user's home must not be expanded: %q", got)
	}
}

func TestRemoteTarget(t *testing.T) {
	tests := []struct{ local, remote, want string }{
		{"/tmp/a.txt", "/srv/", "/srv/a.txt"},
		{"/tmp/a.txt", "/srv/b.txt", "/srv/b.txt"},
		{"/tmp/a.txt", "", "a.txt"},
	}
	for _, tt := range tests {
		if got := RemoteTarget(tt.local, tt.remote); got != tt.want {
			t.Errorf("RemoteTarget(%q, %q) = %q, want %q", tt.local, tt.remote, got, tt.want)
		}
	}
}
