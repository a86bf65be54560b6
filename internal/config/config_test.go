package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sshm/internal/credentials"
	"sshm/internal/models"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(filepath.Join(t.TempDir(), "ssh_hosts.json"), opts...)
	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return m
}

func TestAddUpdateDelete(t *testing.T) {
	m := newTestManager(t)

	added, err := m.AddHost(models.Host{ID: "ignored", Name: "web", Hostname: "10.0.0.5", Port: 22, Username: "root", Password: "pw"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.ID == "" || added.ID == "ignored" {
		t.Errorf("expected a fresh id, got %q", added.ID)
	}

	info, err := os.Stat(m.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != DefaultFilePerms {
		t.Errorf("expected 0600, got %v", info.Mode().Perm())
	}

	added.Description = "frontend"
	if err := m.UpdateHost(*added); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := m.FindHostByName("web")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Description != "frontend" {
		t.Errorf("update not applied: %+v", got)
	}

	if err := m.DeleteHost(added.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(m.GetHosts()) != 0 {
		t.Errorf("expected no hosts, got %d", len(m.GetHosts()))
	}
	if err := m.DeleteHost(added.ID); err == nil {
		t.Error("expected error deleting a missing host")
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.AddHost(models.Host{Hostname: "", Username: "root"}); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.json")
	m := NewManager(path)
	if _, err := m.AddHost(models.Host{Hostname: "a", Username: "u"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	other := NewManager(path)
	if err := other.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(other.GetHosts()) != 1 {
		t.Errorf("expected 1 host after reload, got %d", len(other.GetHosts()))
	}
}

func TestSecretsMovedToStore(t *testing.T) {
	store := credentials.NewMemoryStore()
	m := newTestManager(t, WithCredentials(store))

	_, err := m.AddHost(models.Host{
		Hostname:   "10.0.0.9",
		Username:   "ops",
		PrivateKey: "PEM",
		Passphrase: "pp",
		JumpHost:   &models.Host{Hostname: "bastion", Username: "jump", Password: "jpw"},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	raw, _ := os.ReadFile(m.Path())
	for _, secret := range []string{"PEM", "jpw", `"pp"`} {
		if strings.Contains(string(raw), secret) {
			t.Errorf("profile file contains secret %s", secret)
		}
	}

	if v, err := store.Fetch(models.CredentialPrivateKey, "10.0.0.9", "ops"); err != nil || v != "PEM" {
		t.Errorf("key not stored: %q %v", v, err)
	}
	if v, err := store.Fetch(models.CredentialPassphrase, "10.0.0.9", "ops"); err != nil || v != "pp" {
		t.Errorf("passphrase not stored: %q %v", v, err)
	}
	if v, err := store.Fetch(models.CredentialPassword, "bastion", "jump"); err != nil || v != "jpw" {
		t.Errorf("jump password not stored: %q %v", v, err)
	}
}

func TestDeleteHostReleasesSecrets(t *testing.T) {
	store := credentials.NewMemoryStore()
	m := newTestManager(t, WithCredentials(store))

	web, err := m.AddHost(models.Host{
		Hostname: "10.0.0.9",
		Username: "ops",
		Password: "old",
		JumpHost: &models.Host{Hostname: "bastion", Username: "jump", Password: "jpw"},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	// drugi profil korzysta z tego samego bastionu
	if _, err := m.AddHost(models.Host{
		Hostname: "10.0.0.10",
		Username: "ops",
		UseAgent: true,
		JumpHost: &models.Host{Hostname: "bastion", Username: "jump", StoredAuth: "password"},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := m.DeleteHost(web.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Fetch(models.CredentialPassword, "10.0.0.9", "ops"); err != credentials.ErrNotFound {
		t.Errorf("password of deleted host still stored: %v", err)
	}
	if v, err := store.Fetch(models.CredentialPassword, "bastion", "jump"); err != nil || v != "jpw" {
		t.Errorf("shared jump password removed: %q %v", v, err)
	}
}

func TestUpdateToAgentReleasesSecrets(t *testing.T) {
	store := credentials.NewMemoryStore()
	m := newTestManager(t, WithCredentials(store))

	h, err := m.AddHost(models.Host{Hostname: "10.0.0.9", Username: "ops", Password: "old"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if h.StoredAuth != "password" {
		t.Fatalf("expected stored password strategy, got %q", h.StoredAuth)
	}

	h.StoredAuth = ""
	h.UseAgent = true
	if err := m.UpdateHost(*h); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := store.Fetch(models.CredentialPassword, "10.0.0.9", "ops"); err != credentials.ErrNotFound {
		t.Errorf("stale password kept after switching to agent: %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestManager(t)
	profiles := []models.Host{
		{Hostname: "10.0.0.5", Port: 22, Username: "root", Password: "pw"},
		{Hostname: "10.0.0.9", Port: 2222, Username: "ops", UseAgent: true,
			JumpHost: &models.Host{Hostname: "bastion", Port: 22, Username: "ops", UseAgent: true}},
	}
	for _, p := range profiles {
		if _, err := src.AddHost(p); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	for _, name := range []string{"export.json", "export.yaml"} {
		t.Run(name, func(t *testing.T) {
			file := filepath.Join(t.TempDir(), name)
			if err := src.Export(file); err != nil {
				t.Fatalf("export: %v", err)
			}

			dst := newTestManager(t)
			res, err := dst.Import(file)
			if err != nil {
				t.Fatalf("import: %v", err)
			}
			if res.Imported != 2 || res.Failed != 0 {
				t.Fatalf("expected 2/0, got %+v", res)
			}

			want := map[models.HostKey]bool{}
			for _, h := range src.GetHosts() {
				want[h.Key()] = true
			}
			srcIDs := map[string]bool{}
			for _, h := range src.GetHosts() {
				srcIDs[h.ID] = true
			}
			for _, h := range dst.GetHosts() {
				if !want[h.Key()] {
					t.Errorf("unexpected host %v", h.Key())
				}
				if srcIDs[h.ID] {
					t.Errorf("import must assign fresh ids, reused %s", h.ID)
				}
			}

			again, err := dst.Import(file)
			if err != nil {
				t.Fatalf("second import: %v", err)
			}
			if again.Imported != 0 || again.Failed != 2 {
				t.Errorf("expected duplicates to fail, got %+v", again)
			}
		})
	}
}

func TestImportDuplicatesWithinBatch(t *testing.T) {
	file := filepath.Join(t.TempDir(), "in.json")
	data, _ := json.Marshal([]models.Host{
		{Hostname: "h", Port: 22, Username: "u"},
		{Hostname: "h", Username: "u"},
		{Hostname: "h", Port: 2200, Username: "u"},
		{Hostname: "", Username: "u"},
	})
	os.WriteFile(file, data, 0600)

	m := newTestManager(t)
	res, err := m.Import(file)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Imported != 2 || res.Failed != 2 {
		t.Errorf("expected 2 imported and 2 failed, got %+v", res)
	}
}

func TestImportWrappedObject(t *testing.T) {
	file := filepath.Join(t.TempDir(), "in.json")
	os.WriteFile(file, []byte(`{"hosts":[{"hostname":"a","username":"u"}]}`), 0600)

	m := newTestManager(t)
	res, err := m.Import(file)
	if err != nil || res.Imported != 1 {
		t.Errorf("expected 1 import, got %+v (%v)", res, err)
	}
}

func TestImportMalformed(t *testing.T) {
	file := filepath.Join(t.TempDir(), "in.json")
	os.WriteFile(file, []byte(`not json`), 0600)
	m := newTestManager(t)
	if _, err := m.Import(file); err == nil {
		t.Error("expected parse error")
	}
}

func TestGrouped(t *testing.T) {
	m := newTestManager(t)
	m.AddHost(models.Host{Hostname: "a", Username: "u", Group: "prod"})
	m.AddHost(models.Host{Hostname: "b", Username: "u"})
	m.AddHost(models.Host{Hostname: "c", Username: "u", Group: "prod"})

	names, groups := m.Grouped()
	if len(names) != 2 || names[0] != UngroupedLabel || names[1] != "prod" {
		t.Errorf("unexpected group names %v", names)
	}
	if len(groups["prod"]) != 2 {
		t.Errorf("expected 2 prod hosts, got %d", len(groups["prod"]))
	}
}
