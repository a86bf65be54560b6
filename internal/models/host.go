// internal/models/host.go

package models

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultPort              = 22
	DefaultConnectTimeout    = 30
	DefaultKeepAliveInterval = 30
	DefaultTerminalType      = "xterm-256color"
)

// AuthStrategy określa metodę uwierzytelniania wybraną dla profilu
type AuthStrategy int

const (
	AuthNone AuthStrategy = iota
	AuthKey
	AuthPassword
	AuthAgent
)

func (a AuthStrategy) String() string {
	switch a {
	case AuthKey:
		return "key"
	case AuthPassword:
		return "password"
	case AuthAgent:
		return "agent"
	default:
		return "none"
	}
}

// Host opisuje profil zdalnego hosta
type Host struct {
	ID                string        `json:"id" yaml:"id"`
	Name              string        `json:"name,omitempty" yaml:"name,omitempty"`
	Group             string        `json:"group,omitempty" yaml:"group,omitempty"`
	Description       string        `json:"description,omitempty" yaml:"description,omitempty"`
	Hostname          string        `json:"hostname" yaml:"hostname"`
	Port              int           `json:"port" yaml:"port"`
	Username          string        `json:"username" yaml:"username"`
	Password          string        `json:"password,omitempty" yaml:"password,omitempty"`
	PrivateKey        string        `json:"private_key,omitempty" yaml:"private_key,omitempty"`
	Passphrase        string        `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
	UseAgent          bool          `json:"use_agent,omitempty" yaml:"use_agent,omitempty"`
	StoredAuth        string        `json:"stored_auth,omitempty" yaml:"stored_auth,omitempty"`
	ConnectTimeout    int           `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	KeepAliveInterval int           `json:"keep_alive_interval,omitempty" yaml:"keep_alive_interval,omitempty"`
	JumpHost          *Host         `json:"jump_host,omitempty" yaml:"jump_host,omitempty"`
	TerminalType      string        `json:"terminal_type,omitempty" yaml:"terminal_type,omitempty"`
	Forwards          []PortForward `json:"forwards,omitempty" yaml:"forwards,omitempty"`
}

// HostKey identyfikuje duplikaty przy imporcie
type HostKey struct {
	Hostname string
	Port     int
	Username string
}

// ApplyDefaults uzupełnia brakujące pola wartościami domyślnymi, także w łańcuchu jump hostów.
func (h *Host) ApplyDefaults() {
	for hop := h; hop != nil; hop = hop.JumpHost {
		if hop.Port == 0 {
			hop.Port = DefaultPort
		}
		if hop.ConnectTimeout <= 0 {
			hop.ConnectTimeout = DefaultConnectTimeout
		}
		if hop.TerminalType == "" {
			hop.TerminalType = DefaultTerminalType
		}
	}
}

// Address zwraca adres w postaci host:port
func (h *Host) Address() string {
	port := h.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(h.Hostname, strconv.Itoa(port))
}

func (h *Host) Key() HostKey {
	port := h.Port
	if port == 0 {
		port = DefaultPort
	}
	return HostKey{
		Hostname: strings.ToLower(h.Hostname),
		Port:     port,
		Username: h.Username,
	}
}

// DisplayName zwraca nazwę do wyświetlenia w UI
func (h *Host) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Hostname
}

// String never includes secrets.
func (h *Host) String() string {
	return fmt.Sprintf("%s@%s", h.Username, h.Address())
}

// AuthStrategy zwraca jedyną metodę, która zostanie użyta: klucz > hasło > agent.
func (h *Host) AuthStrategy() AuthStrategy {
	switch {
	case h.PrivateKey != "":
		return AuthKey
	case h.Password != "":
		return AuthPassword
	case h.UseAgent:
		return AuthAgent
	default:
		return AuthNone
	}
}

// NeedsStoredSecrets reports whether the hop may read secrets from the
// credential store. Agent-only hops never do.
func (h *Host) NeedsStoredSecrets() bool {
	return h.StoredAuth != "" || !h.UseAgent
}

// HasSecrets reports whether the profile carries inline key or password material.
func (h *Host) HasSecrets() bool {
	return h.Password != "" || h.PrivateKey != "" || h.Passphrase != ""
}

// StripSecrets zwraca kopię bez haseł i kluczy, rekurencyjnie.
// StoredAuth zapamiętuje, którą strategię przeniesiono do sejfu.
func (h *Host) StripSecrets() *Host {
	c := h.Snapshot()
	for hop := c; hop != nil; hop = hop.JumpHost {
		switch strategy := hop.AuthStrategy(); strategy {
		case AuthKey, AuthPassword:
			hop.StoredAuth = strategy.String()
		}
		hop.Password = ""
		hop.PrivateKey = ""
		hop.Passphrase = ""
	}
	return c
}

// Snapshot tworzy głęboką kopię profilu razem z łańcuchem jump hostów
func (h *Host) Snapshot() *Host {
	if h == nil {
		return nil
	}
	c := *h
	if h.Forwards != nil {
		c.Forwards = make([]PortForward, len(h.Forwards))
		copy(c.Forwards, h.Forwards)
	}
	c.JumpHost = h.JumpHost.Snapshot()
	return &c
}

// Chain zwraca profil i wszystkie jump hosty, od celu do pierwszego skoku
func (h *Host) Chain() []*Host {
	var chain []*Host
	for hop := h; hop != nil; hop = hop.JumpHost {
		chain = append(chain, hop)
		// zabezpieczenie przed zapętlonymi wskaźnikami
		if len(chain) > 64 {
			break
		}
	}
	return chain
}

// Validate sprawdza poprawność danych Host
func (h *Host) Validate() error {
	if strings.TrimSpace(h.Hostname) == "" {
		return errors.New("hostname cannot be empty")
	}
	if strings.TrimSpace(h.Username) == "" {
		return errors.New("username cannot be empty")
	}
	if h.Port < 0 || h.Port > 65535 {
		return fmt.Errorf("invalid port %d", h.Port)
	}
	if h.ConnectTimeout < 0 {
		return errors.New("connect timeout cannot be negative")
	}
	if h.KeepAliveInterval < 0 {
		return errors.New("keep alive interval cannot be negative")
	}
	for i, fw := range h.Forwards {
		if err := fw.Validate(); err != nil {
			return fmt.Errorf("forward %d: %v", i, err)
		}
	}
	if h.JumpHost != nil {
		if err := h.JumpHost.Validate(); err != nil {
			return fmt.Errorf("jump host: %v", err)
		}
	}
	return nil
}
