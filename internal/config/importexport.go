// internal/config/importexport.go

package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apperr "sshm/internal/error"
	"sshm/internal/models"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// decodeHosts przyjmuje listę profili albo obiekt {"hosts": [...]}
func decodeHosts(data []byte, asYAML bool) ([]models.Host, error) {
	var hosts []models.Host
	if asYAML {
		if err := yaml.Unmarshal(data, &hosts); err == nil {
			return hosts, nil
		}
		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		return cfg.Hosts, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var cfg Config
		if err := json.Unmarshal(trimmed, &cfg); err != nil {
			return nil, err
		}
		return cfg.Hosts, nil
	}
	if err := json.Unmarshal(trimmed, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// Import wczytuje profile z pliku JSON lub YAML. Każdy profil dostaje nowe ID.
// Profile o tej samej trójce (hostname, port, username) co istniejące lub
// wcześniej zaimportowane są liczone jako nieudane.
func (m *Manager) Import(path string) (ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImportResult{}, apperr.New(apperr.FileError, "failed to read import file", err)
	}
	hosts, err := decodeHosts(data, isYAML(path))
	if err != nil {
		return ImportResult{}, apperr.New(apperr.ConfigError, "failed to parse import file", err)
	}
	return m.importHosts(hosts)
}

func (m *Manager) importHosts(hosts []models.Host) (ImportResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[models.HostKey]bool, len(m.config.Hosts)+len(hosts))
	for i := range m.config.Hosts {
		seen[m.config.Hosts[i].Key()] = true
	}

	var result ImportResult
	prev := m.config.Hosts
	added := make([]models.Host, 0, len(hosts))
	for i := range hosts {
		h := hosts[i].Snapshot()
		if err := h.Validate(); err != nil || seen[h.Key()] {
			result.Failed++
			continue
		}
		h.ID = m.newID()
		stored, err := m.stashSecrets(h)
		if err != nil {
			result.Failed++
			continue
		}
		seen[h.Key()] = true
		added = append(added, *stored)
		result.Imported++
	}

	if result.Imported == 0 {
		return result, nil
	}
	m.config.Hosts = append(append(make([]models.Host, 0, len(prev)+len(added)), prev...), added...)
	if err := m.saveLocked(); err != nil {
		m.config.Hosts = prev
		return ImportResult{}, err
	}
	return result, nil
}

// Export zapisuje wszystkie profile jako listę (JSON z wcięciami albo YAML)
func (m *Manager) Export(path string) error {
	hosts := m.GetHosts()

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(hosts)
	} else {
		data, err = json.MarshalIndent(hosts, "", "  ")
	}
	if err != nil {
		return apperr.New(apperr.ConfigError, "failed to marshal hosts", err)
	}

	if err := os.WriteFile(path, data, DefaultFilePerms); err != nil {
		return apperr.New(apperr.FileError, "failed to write export file", err)
	}
	return nil
}
