// cmd/sshm/sftp.go

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sshm/internal/ssh"
	"sshm/internal/ui"
	"sshm/internal/utils"
)

const progressBarWidth = 30

// formatSize formats a file size in bytes to a human-readable string
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(size)/float64(div), "KMGTPE"[exp])
}

// progressLine formatuje jeden wiersz postępu: nazwa, pasek, procent, prędkość
func progressLine(p ssh.TransferProgress, now time.Time) string {
	percentage := 1.0
	if p.TotalBytes > 0 {
		percentage = float64(p.TransferredBytes) / float64(p.TotalBytes)
	}
	completedWidth := int(float64(progressBarWidth) * percentage)
	if completedWidth > progressBarWidth {
		completedWidth = progressBarWidth
	}

	bar := fmt.Sprintf("[%s%s] %3.0f%%",
		strings.Repeat("=", completedWidth),
		strings.Repeat(" ", progressBarWidth-completedWidth),
		percentage*100)

	elapsed := now.Sub(p.StartTime).Seconds()
	if elapsed <= 0 {
		elapsed = 1 // Zapobieganie dzieleniu przez zero
	}
	speed := float64(p.TransferredBytes) / elapsed

	return fmt.Sprintf("%s %s %s/s", p.FileName, bar, formatSize(int64(speed)))
}

// withProgress uruchamia transfer i rysuje postęp na out do jego zakończenia
func withProgress(out io.Writer, transfer func(chan<- ssh.TransferProgress) error) error {
	progressChan := make(chan ssh.TransferProgress, 16)
	drawn := make(chan struct{})
	go func() {
		defer close(drawn)
		last := false
		for p := range progressChan {
			fmt.Fprintf(out, "\r%s", progressLine(p, time.Now()))
			last = true
		}
		if last {
			fmt.Fprintln(out)
		}
	}()

	err := transfer(progressChan)
	close(progressChan)
	<-drawn
	return err
}

// openFiles łączy się z hostem i otwiera kanał SFTP
func openFiles(ctx context.Context, name string) (*app, *ssh.FileChannel, error) {
	a, err := newApp(appOptions{})
	if err != nil {
		return nil, nil, err
	}
	sess, err := a.connect(ctx, name)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	fc, err := a.manager.OpenFileTransfer(sess.ID)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, fc, nil
}

func newSFTPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sftp",
		Short: "File operations on a saved host",
	}
	cmd.AddCommand(
		newSFTPListCmd(),
		newSFTPGetCmd(),
		newSFTPPutCmd(),
		newSFTPMkdirCmd(),
		newSFTPRemoveCmd(),
		newSFTPRenameCmd(),
	)
	return cmd
}

func newSFTPListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <host> [path]",
		Short: "List a remote directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, fc, err := openFiles(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer a.Close()
			defer fc.Close()

			dir := "."
			if len(args) == 2 {
				dir = args[1]
			} else if home, err := fc.HomeDir(); err == nil {
				dir = home
			}

			entries, err := fc.List(dir)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				rows = append(rows, []string{
					e.Mode().String(),
					formatSize(e.Size()),
					e.ModTime().Format("2006-01-02 15:04"),
					name,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.CreateLipglossTable([]string{"Mode", "Size", "Modified", "Name"}, rows))
			return nil
		},
	}
}

func newSFTPGetCmd() *cobra.Command {
	var useSCP bool
	cmd := &cobra.Command{
		Use:   "get <host> <remote> [local]",
		Short: "Download a file or directory",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			remote := args[1]
			local := filepath.Base(remote)
			if len(args) == 3 {
				local = utils.ExpandHome(args[2])
			}

			if useSCP {
				a, err := newApp(appOptions{})
				if err != nil {
					return err
				}
				defer a.Close()
				sess, err := a.connect(ctx, args[0])
				if err != nil {
					return err
				}
				return withProgress(cmd.ErrOrStderr(), func(ch chan<- ssh.TransferProgress) error {
					return a.manager.FetchViaSCP(ctx, sess.ID, remote, local, ch)
				})
			}

			a, fc, err := openFiles(ctx, args[0])
			if err != nil {
				return err
			}
			defer a.Close()
			defer fc.Close()

			info, err := fc.Stat(remote)
			if err != nil {
				return err
			}
			return withProgress(cmd.ErrOrStderr(), func(ch chan<- ssh.TransferProgress) error {
				if info.IsDir() {
					return fc.DownloadDirectory(remote, local, ch)
				}
				return fc.Download(remote, local, ch)
			})
		},
	}
	cmd.Flags().BoolVar(&useSCP, "scp", false, "use SCP instead of SFTP (single files only)")
	return cmd
}

func newSFTPPutCmd() *cobra.Command {
	var useSCP bool
	cmd := &cobra.Command{
		Use:   "put <host> <local> [remote]",
		Short: "Upload a file or directory",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			local := utils.ExpandHome(args[1])
			remote := ""
			if len(args) == 3 {
				remote = args[2]
			}
			info, err := os.Stat(local)
			if err != nil {
				return fmt.Errorf("cannot read %s: %w", local, err)
			}

			if useSCP {
				if info.IsDir() {
					return fmt.Errorf("--scp copies single files, %s is a directory", local)
				}
				a, err := newApp(appOptions{})
				if err != nil {
					return err
				}
				defer a.Close()
				sess, err := a.connect(ctx, args[0])
				if err != nil {
					return err
				}
				return withProgress(cmd.ErrOrStderr(), func(ch chan<- ssh.TransferProgress) error {
					return a.manager.CopyViaSCP(ctx, sess.ID, local, utils.RemoteTarget(local, remote), ch)
				})
			}

			a, fc, err := openFiles(ctx, args[0])
			if err != nil {
				return err
			}
			defer a.Close()
			defer fc.Close()

			return withProgress(cmd.ErrOrStderr(), func(ch chan<- ssh.TransferProgress) error {
				if info.IsDir() {
					return fc.UploadDirectory(local, utils.RemoteTarget(local, remote), ch)
				}
				return fc.Upload(local, remote, ch)
			})
		},
	}
	cmd.Flags().BoolVar(&useSCP, "scp", false, "use SCP instead of SFTP (single files only)")
	return cmd
}

func newSFTPMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <host> <path>",
		Short: "Create a remote directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, fc, err := openFiles(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer a.Close()
			defer fc.Close()
			return fc.Mkdir(args[1])
		},
	}
}

func newSFTPRemoveCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm <host> <path>",
		Short: "Remove a remote file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, fc, err := openFiles(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer a.Close()
			defer fc.Close()
			if recursive {
				return fc.RemoveAll(args[1])
			}
			return fc.Remove(args[1])
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "remove directories and their contents")
	return cmd
}

func newSFTPRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <host> <from> <to>",
		Short: "Rename a remote path",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, fc, err := openFiles(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer a.Close()
			defer fc.Close()
			return fc.Rename(args[1], args[2])
		},
	}
}
