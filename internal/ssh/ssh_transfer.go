// internal/ssh/ssh_transfer.go

package ssh

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"

	apperr "sshm/internal/error"
	"sshm/internal/utils"
)

const transferBufferSize = 128 * 1024

// TransferProgress reprezentuje postęp transferu pliku
type TransferProgress struct {
	FileName         string
	TotalBytes       int64
	TransferredBytes int64
	StartTime        time.Time
}

// FileChannel to podkanał SFTP na transporcie sesji. Działa niezależnie od
// pompy powłoki.
type FileChannel struct {
	client  *sftp.Client
	session *Session
	log     *logrus.Entry

	closeOnce sync.Once
	closeErr  error
}

func openFileChannel(s *Session, log *logrus.Entry) (*FileChannel, error) {
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, apperr.New(apperr.ChannelError, "failed to create SFTP client", err)
	}
	fc := &FileChannel{
		client:  client,
		session: s,
		log:     log.WithField("session", s.ID),
	}
	if err := s.track(fc); err != nil {
		client.Close()
		return nil, err
	}
	return fc, nil
}

// Close zamyka podkanał SFTP; sesja pozostaje otwarta
func (fc *FileChannel) Close() error {
	fc.closeOnce.Do(func() {
		fc.closeErr = fc.client.Close()
		fc.session.untrack(fc)
		if fc.closeErr != nil && isClosedErr(fc.closeErr) {
			fc.closeErr = nil
		}
	})
	return fc.closeErr
}

// List zwraca listę plików w zdalnym katalogu
func (fc *FileChannel) List(path string) ([]os.FileInfo, error) {
	entries, err := fc.client.ReadDir(utils.ToSFTPPath(path))
	if err != nil {
		return nil, apperr.New(apperr.FileError, fmt.Sprintf("failed to list %s", path), err)
	}
	return entries, nil
}

// Stat zwraca informacje o zdalnym pliku
func (fc *FileChannel) Stat(path string) (os.FileInfo, error) {
	info, err := fc.client.Stat(utils.ToSFTPPath(path))
	if err != nil {
		return nil, apperr.New(apperr.FileError, fmt.Sprintf("failed to stat %s", path), err)
	}
	return info, nil
}

// Mkdir tworzy katalog (wraz z brakującymi rodzicami) na serwerze
func (fc *FileChannel) Mkdir(path string) error {
	if err := fc.client.MkdirAll(utils.ToSFTPPath(path)); err != nil {
		return apperr.New(apperr.FileError, fmt.Sprintf("failed to create directory %s", path), err)
	}
	return nil
}

// Remove usuwa plik lub pusty katalog
func (fc *FileChannel) Remove(path string) error {
	p := utils.ToSFTPPath(path)
	// Najpierw spróbuj usunąć jako plik
	if err := fc.client.Remove(p); err == nil {
		return nil
	}
	if err := fc.client.RemoveDirectory(p); err != nil {
		return apperr.New(apperr.FileError, fmt.Sprintf("failed to remove %s", path), err)
	}
	return nil
}

// RemoveAll usuwa katalog rekursywnie
func (fc *FileChannel) RemoveAll(path string) error {
	entries, err := fc.List(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name() == "." || entry.Name() == ".." {
			continue
		}
		full := utils.RemoteJoin(path, entry.Name())
		if entry.IsDir() {
			err = fc.RemoveAll(full)
		} else {
			err = fc.Remove(full)
		}
		if err != nil {
			return err
		}
	}
	return fc.Remove(path)
}

// Rename zmienia nazwę pliku na serwerze
func (fc *FileChannel) Rename(oldPath, newPath string) error {
	if err := fc.client.Rename(utils.ToSFTPPath(oldPath), utils.ToSFTPPath(newPath)); err != nil {
		return apperr.New(apperr.FileError, fmt.Sprintf("failed to rename %s", oldPath), err)
	}
	return nil
}

// HomeDir zwraca katalog roboczy serwera SFTP (zwykle katalog domowy)
func (fc *FileChannel) HomeDir() (string, error) {
	dir, err := fc.client.Getwd()
	if err != nil {
		return "", apperr.New(apperr.ChannelError, "failed to get home directory", err)
	}
	return dir, nil
}

// Upload kopiuje plik lokalny na serwer. Gdy remotePath kończy się "/",
// plik trafia do tego katalogu pod swoją nazwą.
func (fc *FileChannel) Upload(localPath, remotePath string, progressChan chan<- TransferProgress) error {
	srcFile, err := os.Open(localPath)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to open local file", err)
	}
	defer srcFile.Close()

	fileInfo, err := srcFile.Stat()
	if err != nil {
		return apperr.New(apperr.FileError, "failed to get file info", err)
	}

	target := utils.RemoteTarget(localPath, remotePath)
	dstFile, err := fc.client.Create(target)
	if err != nil {
		return apperr.New(apperr.FileError, fmt.Sprintf("failed to create remote file %s", target), err)
	}
	defer dstFile.Close()

	progress := TransferProgress{
		FileName:   filepath.Base(localPath),
		TotalBytes: fileInfo.Size(),
		StartTime:  time.Now(),
	}
	if err := copyWithProgress(dstFile, srcFile, &progress, progressChan); err != nil {
		return err
	}
	if err := dstFile.Chmod(fileInfo.Mode().Perm()); err != nil {
		fc.log.WithError(err).Debug("failed to set remote file mode")
	}
	fc.log.WithFields(logrus.Fields{"file": target, "bytes": progress.TransferredBytes}).Debug("uploaded")
	return nil
}

// Download kopiuje zdalny plik do localPath
func (fc *FileChannel) Download(remotePath, localPath string, progressChan chan<- TransferProgress) error {
	srcFile, err := fc.client.Open(utils.ToSFTPPath(remotePath))
	if err != nil {
		return apperr.New(apperr.FileError, fmt.Sprintf("failed to open remote file %s", remotePath), err)
	}
	defer srcFile.Close()

	fileInfo, err := srcFile.Stat()
	if err != nil {
		return apperr.New(apperr.FileError, "failed to get file info", err)
	}

	dstFile, err := os.Create(localPath)
	if err != nil {
		return apperr.New(apperr.FileError, "failed to create local file", err)
	}
	defer dstFile.Close()

	progress := TransferProgress{
		FileName:   filepath.Base(remotePath),
		TotalBytes: fileInfo.Size(),
		StartTime:  time.Now(),
	}
	if err := copyWithProgress(dstFile, srcFile, &progress, progressChan); err != nil {
		return err
	}
	// Upewnij się, że dane zostały zapisane na lokalnym dysku
	if err := dstFile.Sync(); err != nil {
		return apperr.New(apperr.FileError, "failed to sync local file", err)
	}
	return nil
}

// UploadDirectory kopiuje cały katalog na serwer
func (fc *FileChannel) UploadDirectory(localPath, remotePath string, progressChan chan<- TransferProgress) error {
	if err := fc.Mkdir(remotePath); err != nil {
		return err
	}
	return filepath.Walk(localPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}
		target := utils.RemoteJoin(remotePath, relPath)
		if info.IsDir() {
			return fc.Mkdir(target)
		}
		return fc.Upload(path, target, progressChan)
	})
}

// DownloadDirectory kopiuje cały katalog z serwera
func (fc *FileChannel) DownloadDirectory(remotePath, localPath string, progressChan chan<- TransferProgress) error {
	if err := os.MkdirAll(localPath, 0755); err != nil {
		return apperr.New(apperr.FileError, "failed to create local directory", err)
	}
	entries, err := fc.List(remotePath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name() == "." || entry.Name() == ".." {
			continue
		}
		src := utils.RemoteJoin(remotePath, entry.Name())
		dst := filepath.Join(localPath, entry.Name())
		if entry.IsDir() {
			err = fc.DownloadDirectory(src, dst, progressChan)
		} else {
			err = fc.Download(src, dst, progressChan)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// copyWithProgress kopiuje dane buforem 128 KB, wysyłając postęp bez blokowania
func copyWithProgress(dst io.Writer, src io.Reader, progress *TransferProgress, progressChan chan<- TransferProgress) error {
	report := func() {
		if progressChan == nil {
			return
		}
		select {
		case progressChan <- *progress:
		default:
		}
	}

	buf := make([]byte, transferBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			written, writeErr := dst.Write(buf[:n])
			if writeErr != nil {
				return apperr.New(apperr.IOError, "write failed during transfer", writeErr)
			}
			if written != n {
				return apperr.Newf(apperr.IOError, "incomplete write: wrote %d bytes instead of %d", written, n)
			}
			progress.TransferredBytes += int64(n)
			report()
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return apperr.New(apperr.IOError, "read failed during transfer", err)
		}
	}
	// Wyślij końcową aktualizację postępu
	report()
	return nil
}
