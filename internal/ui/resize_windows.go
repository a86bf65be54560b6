//go:build windows

// internal/ui/resize_windows.go

package ui

import "time"

const resizePollInterval = 250 * time.Millisecond

// watchResize na Windows nie ma SIGWINCH, więc rozmiar jest odpytywany
func (t *Terminal) watchResize(sh shell) func() {
	stop := make(chan struct{})
	lastCols, lastRows, _ := t.Size()

	go func() {
		ticker := time.NewTicker(resizePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cols, rows, ok := t.Size()
				if !ok || (cols == lastCols && rows == lastRows) {
					continue
				}
				lastCols, lastRows = cols, rows
				if err := sh.Resize(cols, rows); err != nil {
					t.log.WithError(err).Debug("failed to update terminal size")
				}
			case <-stop:
				return
			}
		}
	}()

	return func() { close(stop) }
}
