//go:build !windows

// internal/ui/resize_unix.go

package ui

import (
	"os"
	"os/signal"
	"syscall"
)

// watchResize przekazuje zmiany rozmiaru okna (SIGWINCH) do powłoki
func (t *Terminal) watchResize(sh shell) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGWINCH)
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigChan:
				cols, rows, ok := t.Size()
				if !ok {
					continue
				}
				if err := sh.Resize(cols, rows); err != nil {
					t.log.WithError(err).Debug("failed to update terminal size")
				}
			case <-stop:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(stop)
	}
}
