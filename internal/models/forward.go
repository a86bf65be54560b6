// internal/models/forward.go

package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type ForwardType string

const (
	ForwardLocal   ForwardType = "local"
	ForwardRemote  ForwardType = "remote"
	ForwardDynamic ForwardType = "dynamic"
)

// PortForward opisuje regułę przekierowania portu zapisaną w profilu
type PortForward struct {
	Type       ForwardType `json:"type" yaml:"type"`
	LocalPort  int         `json:"local_port" yaml:"local_port"`
	RemoteHost string      `json:"remote_host,omitempty" yaml:"remote_host,omitempty"`
	RemotePort int         `json:"remote_port,omitempty" yaml:"remote_port,omitempty"`
}

func validPort(p int, allowZero bool) bool {
	if allowZero && p == 0 {
		return true
	}
	return p > 0 && p <= 65535
}

// Validate sprawdza poprawność reguły
func (f PortForward) Validate() error {
	switch f.Type {
	case ForwardLocal, ForwardRemote:
		if !validPort(f.LocalPort, f.Type == ForwardLocal) {
			return fmt.Errorf("invalid local port %d", f.LocalPort)
		}
		if !validPort(f.RemotePort, f.Type == ForwardRemote) {
			return fmt.Errorf("invalid remote port %d", f.RemotePort)
		}
		if strings.TrimSpace(f.RemoteHost) == "" {
			return errors.New("remote host cannot be empty")
		}
	case ForwardDynamic:
		if !validPort(f.LocalPort, true) {
			return fmt.Errorf("invalid local port %d", f.LocalPort)
		}
	default:
		return fmt.Errorf("unknown forward type %q", f.Type)
	}
	return nil
}

func (f PortForward) String() string {
	switch f.Type {
	case ForwardDynamic:
		return fmt.Sprintf("D:%d", f.LocalPort)
	case ForwardRemote:
		return fmt.Sprintf("R:%d:%s:%d", f.RemotePort, f.RemoteHost, f.LocalPort)
	default:
		return fmt.Sprintf("L:%d:%s:%d", f.LocalPort, f.RemoteHost, f.RemotePort)
	}
}

// ParseForward parsuje zapis w stylu ssh: "L:8080:db:5432", "R:9000:localhost:3000", "D:1080".
// Without a prefix the rule is local ("8080:db:5432").
func ParseForward(spec string) (PortForward, error) {
	parts := strings.Split(spec, ":")
	fwType := ForwardLocal
	switch strings.ToUpper(parts[0]) {
	case "L":
		parts = parts[1:]
	case "R":
		fwType = ForwardRemote
		parts = parts[1:]
	case "D":
		fwType = ForwardDynamic
		parts = parts[1:]
	}

	atoi := func(s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid port %q", s)
		}
		return n, nil
	}

	var fw PortForward
	fw.Type = fwType
	switch fwType {
	case ForwardDynamic:
		if len(parts) != 1 {
			return fw, fmt.Errorf("invalid dynamic forward %q", spec)
		}
		p, err := atoi(parts[0])
		if err != nil {
			return fw, err
		}
		fw.LocalPort = p
	case ForwardRemote:
		// R:remotePort:localHost:localPort
		if len(parts) != 3 {
			return fw, fmt.Errorf("invalid remote forward %q", spec)
		}
		rp, err := atoi(parts[0])
		if err != nil {
			return fw, err
		}
		lp, err := atoi(parts[2])
		if err != nil {
			return fw, err
		}
		fw.RemotePort, fw.RemoteHost, fw.LocalPort = rp, parts[1], lp
	default:
		if len(parts) != 3 {
			return fw, fmt.Errorf("invalid local forward %q", spec)
		}
		lp, err := atoi(parts[0])
		if err != nil {
			return fw, err
		}
		rp, err := atoi(parts[2])
		if err != nil {
			return fw, err
		}
		fw.LocalPort, fw.RemoteHost, fw.RemotePort = lp, parts[1], rp
	}
	return fw, fw.Validate()
}
