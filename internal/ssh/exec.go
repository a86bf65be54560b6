// internal/ssh/exec.go

package ssh

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	apperr "sshm/internal/error"
)

// execCommand wykonuje pojedyncze polecenie na nowym kanale sesji i zwraca
// połączone stdout i stderr. Niezerowy kod wyjścia zwraca *ssh.ExitError
// razem z wyjściem.
func execCommand(ctx context.Context, s *Session, command string, log *logrus.Entry) ([]byte, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, apperr.New(apperr.ChannelError, "failed to create session", err)
	}
	if err := s.track(sess); err != nil {
		sess.Close()
		return nil, err
	}
	defer func() {
		sess.Close()
		s.untrack(sess)
	}()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		done <- result{out, err}
	}()

	log = log.WithFields(logrus.Fields{"session": s.ID, "command": command})
	select {
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		sess.Close()
		<-done
		return nil, apperr.New(apperr.ChannelError, "command cancelled", ctx.Err())
	case r := <-done:
		if r.err == nil {
			log.Debug("command finished")
			return r.out, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(r.err, &exitErr) {
			log.WithField("exit_status", exitErr.ExitStatus()).Debug("command exited with non-zero status")
			return r.out, exitErr
		}
		return r.out, apperr.New(apperr.ChannelError, fmt.Sprintf("failed to run %q", command), r.err)
	}
}
