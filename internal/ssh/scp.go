// internal/ssh/scp.go

package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"
	"github.com/sirupsen/logrus"

	apperr "sshm/internal/error"
	"sshm/internal/utils"
)

// ProgressReader to wrapper do śledzenia postępu transferu
type ProgressReader struct {
	io.Reader
	Progress     *TransferProgress
	ProgressChan chan<- TransferProgress
}

// Read implementuje interfejs io.Reader i aktualizuje postęp
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.Progress.TransferredBytes += int64(n)
		if pr.ProgressChan != nil {
			select {
			case pr.ProgressChan <- *pr.Progress:
			default:
			}
		}
	}
	return n, err
}

func progressPassThru(name string, progressChan chan<- TransferProgress) scp.PassThru {
	return func(r io.Reader, total int64) io.Reader {
		return &ProgressReader{
			Reader: r,
			Progress: &TransferProgress{
				FileName:   name,
				TotalBytes: total,
				StartTime:  time.Now(),
			},
			ProgressChan: progressChan,
		}
	}
}

// copyViaSCP wysyła plik protokołem SCP, dla serwerów bez podsystemu SFTP
func copyViaSCP(ctx context.Context, s *Session, localPath, remotePath string, progressChan chan<- TransferProgress, log *logrus.Entry) error {
	f, err := os.Open(localPath)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to open local file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperr.New(apperr.FileError, "failed to get file info", err)
	}

	client, err := scp.NewClientBySSH(s.client)
	if err != nil {
		return apperr.New(apperr.ChannelError, "failed to open SCP channel", err)
	}
	defer client.Close()

	target := utils.RemoteTarget(localPath, remotePath)
	perm := fmt.Sprintf("%04o", info.Mode().Perm())
	if err := client.CopyFromFilePassThru(ctx, *f, target, perm, progressPassThru(filepath.Base(localPath), progressChan)); err != nil {
		return apperr.New(apperr.ChannelError, fmt.Sprintf("scp upload to %s failed", target), err)
	}
	log.WithFields(logrus.Fields{"session": s.ID, "file": target}).Debug("scp upload finished")
	return nil
}

// fetchViaSCP pobiera zdalny plik protokołem SCP
func fetchViaSCP(ctx context.Context, s *Session, remotePath, localPath string, progressChan chan<- TransferProgress, log *logrus.Entry) error {
	client, err := scp.NewClientBySSH(s.client)
	if err != nil {
		return apperr.New(apperr.ChannelError, "failed to open SCP channel", err)
	}
	defer client.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to create local file", err)
	}
	defer f.Close()

	src := utils.ToSFTPPath(remotePath)
	if err := client.CopyFromRemotePassThru(ctx, f, src, progressPassThru(filepath.Base(remotePath), progressChan)); err != nil {
		return apperr.New(apperr.ChannelError, fmt.Sprintf("scp download of %s failed", src), err)
	}
	log.WithFields(logrus.Fields{"session": s.ID, "file": src}).Debug("scp download finished")
	return nil
}
