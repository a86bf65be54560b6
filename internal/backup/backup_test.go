package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFilesAndRestore(t *testing.T) {
	dir := t.TempDir()
	hosts := filepath.Join(dir, "ssh_hosts.json")
	missing := filepath.Join(dir, "vault.json")
	os.WriteFile(hosts, []byte(`{"hosts":[]}`), 0600)

	if err := Files(hosts, missing); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if _, err := os.Stat(missing + Suffix); !os.IsNotExist(err) {
		t.Error("missing file must not get a backup")
	}
	info, err := os.Stat(hosts + Suffix)
	if err != nil {
		t.Fatalf("backup not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600 backup, got %v", info.Mode().Perm())
	}

	os.WriteFile(hosts, []byte("broken"), 0600)
	n, err := Restore(hosts, missing)
	if err != nil || n != 1 {
		t.Fatalf("restore: %d %v", n, err)
	}
	data, _ := os.ReadFile(hosts)
	if string(data) != `{"hosts":[]}` {
		t.Errorf("unexpected restored content %q", data)
	}
}

func TestGuardRestoresOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssh_hosts.json")
	os.WriteFile(path, []byte("v1"), 0600)

	boom := errors.New("import failed")
	err := Guard(func() error {
		os.WriteFile(path, []byte("half-written"), 0600)
		return boom
	}, path)
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "v1" {
		t.Errorf("expected rollback, got %q", data)
	}

	if err := Guard(func() error {
		return os.WriteFile(path, []byte("v2"), 0600)
	}, path); err != nil {
		t.Fatalf("guard: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "v2" {
		t.Errorf("successful change must stay, got %q", data)
	}
}
