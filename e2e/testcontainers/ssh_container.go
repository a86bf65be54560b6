//go:build e2e

package testcontainers

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	sshImage = "lscr.io/linuxserver/openssh-server:latest"
	sshPort  = "2222/tcp"
)

// SSHContainer to kontener z serwerem OpenSSH (logowanie hasłem, SFTP)
type SSHContainer struct {
	Container testcontainers.Container
	Host      string
	Port      int
	User      string
	Password  string
}

// StartSSHContainer uruchamia serwer SSH i czeka, aż port zacznie nasłuchiwać
func StartSSHContainer(ctx context.Context, user, password string) (*SSHContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        sshImage,
		ExposedPorts: []string{sshPort},
		Env: map[string]string{
			"PUID":            "1000",
			"PGID":            "1000",
			"USER_NAME":       user,
			"USER_PASSWORD":   password,
			"PASSWORD_ACCESS": "true",
		},
		WaitingFor: wait.ForListeningPort(sshPort).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %v", err)
	}

	mappedPort, err := container.MappedPort(ctx, sshPort)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %v", err)
	}

	return &SSHContainer{
		Container: container,
		Host:      host,
		Port:      mappedPort.Int(),
		User:      user,
		Password:  password,
	}, nil
}

// Stop zatrzymuje kontener
func (c *SSHContainer) Stop(ctx context.Context) error {
	return c.Container.Terminate(ctx)
}
