// internal/config/sshconfig.go

package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	apperr "sshm/internal/error"
	"sshm/internal/models"
	"sshm/internal/utils"
)

// sshConfigEntry to jeden blok "Host" z pliku ssh_config
type sshConfigEntry struct {
	alias        string
	hostname     string
	user         string
	port         int
	identityFile string
	keepAlive    int
	proxyJump    string
}

// DefaultSSHConfigPath zwraca ~/.ssh/config
func DefaultSSHConfigPath() string {
	return utils.ExpandHome("~/.ssh/config")
}

// splitDirective dzieli linię na klucz (małymi literami) i wartość.
// Obsługuje zarówno "Key value" jak i "Key=value".
func splitDirective(line string) (string, string, bool) {
	idx := strings.IndexAny(line, " \t=")
	if idx < 0 {
		return "", "", false
	}
	key := strings.ToLower(line[:idx])
	value := strings.TrimSpace(line[idx:])
	value = strings.TrimSpace(strings.TrimPrefix(value, "="))
	value = strings.Trim(value, `"`)
	if value == "" {
		return "", "", false
	}
	return key, value, true
}

func parseSSHConfig(data []byte) []sshConfigEntry {
	var (
		entries []sshConfigEntry
		current *sshConfigEntry
	)
	flush := func() {
		if current != nil {
			entries = append(entries, *current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitDirective(line)
		if !ok {
			continue
		}

		if key == "host" {
			flush()
			// Wzorce (*, ?, !) i wiele aliasów nie opisują konkretnego hosta
			if strings.ContainsAny(value, "*?!") || strings.ContainsAny(value, " \t") {
				continue
			}
			current = &sshConfigEntry{alias: value}
			continue
		}
		if key == "match" {
			flush()
			continue
		}
		if current == nil {
			continue
		}

		switch key {
		case "hostname":
			current.hostname = value
		case "user", "username":
			current.user = value
		case "port":
			if p, err := strconv.Atoi(value); err == nil {
				current.port = p
			}
		case "identityfile":
			if current.identityFile == "" {
				current.identityFile = value
			}
		case "serveraliveinterval":
			if n, err := strconv.Atoi(value); err == nil {
				current.keepAlive = n
			}
		case "proxyjump":
			current.proxyJump = value
		}
	}
	flush()
	return entries
}

// toHost zamienia wpis na profil. IdentityFile jest wczytywany jako treść klucza.
func (e sshConfigEntry) toHost(defaultUser string) models.Host {
	h := models.Host{
		Name:              e.alias,
		Hostname:          e.hostname,
		Port:              e.port,
		Username:          e.user,
		KeepAliveInterval: e.keepAlive,
	}
	if h.Hostname == "" {
		h.Hostname = e.alias
	}
	if h.Username == "" {
		h.Username = defaultUser
	}
	if e.identityFile != "" {
		if key, err := os.ReadFile(utils.ExpandHome(e.identityFile)); err == nil {
			h.PrivateKey = string(key)
		}
	}
	h.ApplyDefaults()
	return h
}

// parseJumpSpec parsuje "[user@]host[:port]"
func parseJumpSpec(spec, defaultUser string) (*models.Host, error) {
	h := &models.Host{Username: defaultUser}
	if at := strings.LastIndex(spec, "@"); at >= 0 {
		h.Username = spec[:at]
		spec = spec[at+1:]
	}
	h.Hostname = spec
	if host, port, err := splitHostPortLoose(spec); err == nil {
		h.Hostname = host
		h.Port = port
	}
	if h.Hostname == "" {
		return nil, fmt.Errorf("invalid jump host %q", spec)
	}
	h.ApplyDefaults()
	return h, nil
}

func splitHostPortLoose(s string) (string, int, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 || strings.Count(s, ":") > 1 && !strings.HasPrefix(s, "[") {
		return "", 0, errors.New("no port")
	}
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return "", 0, err
	}
	return strings.Trim(s[:idx], "[]"), port, nil
}

// resolveJumps buduje łańcuch jump hostów z ProxyJump. "a,b" oznacza: najpierw a, potem b.
func resolveJumps(spec string, byAlias map[string]sshConfigEntry, defaultUser string, depth int) (*models.Host, error) {
	if spec == "" || strings.EqualFold(spec, "none") {
		return nil, nil
	}
	if depth > 16 {
		return nil, apperr.ErrJumpDepth
	}

	var chain *models.Host
	for _, hop := range strings.Split(spec, ",") {
		hop = strings.TrimSpace(hop)
		var h *models.Host
		if e, ok := byAlias[hop]; ok {
			host := e.toHost(defaultUser)
			inner, err := resolveJumps(e.proxyJump, byAlias, defaultUser, depth+1)
			if err != nil {
				return nil, err
			}
			host.JumpHost = inner
			h = &host
		} else {
			var err error
			if h, err = parseJumpSpec(hop, defaultUser); err != nil {
				return nil, err
			}
		}
		if h.JumpHost == nil {
			h.JumpHost = chain
		}
		chain = h
	}
	return chain, nil
}

func currentUsername() string {
	if u, err := user.Current(); err == nil {
		return filepath.Base(u.Username)
	}
	return os.Getenv("USER")
}

// ImportSSHConfig importuje wpisy z pliku w formacie ssh_config (domyślnie ~/.ssh/config).
// Rozpoznawane: Host, HostName, User, Port, IdentityFile, ServerAliveInterval, ProxyJump.
func (m *Manager) ImportSSHConfig(path string) (ImportResult, error) {
	if path == "" {
		path = DefaultSSHConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ImportResult{}, nil
		}
		return ImportResult{}, apperr.New(apperr.FileError, "failed to read ssh config", err)
	}

	entries := parseSSHConfig(data)
	byAlias := make(map[string]sshConfigEntry, len(entries))
	for _, e := range entries {
		byAlias[e.alias] = e
	}

	defaultUser := currentUsername()
	var (
		hosts  []models.Host
		failed int
	)
	for _, e := range entries {
		h := e.toHost(defaultUser)
		jump, err := resolveJumps(e.proxyJump, byAlias, defaultUser, 0)
		if err != nil {
			failed++
			continue
		}
		h.JumpHost = jump
		hosts = append(hosts, h)
	}

	result, err := m.importHosts(hosts)
	result.Failed += failed
	return result, err
}
