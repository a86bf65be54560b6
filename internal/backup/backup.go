// internal/backup/backup.go

package backup

import (
	"errors"
	"fmt"
	"os"

	apperr "sshm/internal/error"
)

// Suffix to rozszerzenie kopii zapasowej
const Suffix = ".old"

// Files tworzy kopie plików obok oryginałów (plik.old). Brakujące pliki
// są pomijane, bo nie ma czego przywracać.
func Files(paths ...string) error {
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return apperr.New(apperr.FileError, fmt.Sprintf("error reading %s", path), err)
		}
		if err := os.WriteFile(path+Suffix, content, 0600); err != nil {
			return apperr.New(apperr.FileError, fmt.Sprintf("error creating backup of %s", path), err)
		}
	}
	return nil
}

// Restore przywraca pliki z kopii zapasowych i zwraca liczbę przywróconych
func Restore(paths ...string) (int, error) {
	restored := 0
	for _, path := range paths {
		backupPath := path + Suffix
		if _, err := os.Stat(backupPath); err != nil {
			continue
		}
		if err := os.Rename(backupPath, path); err != nil {
			return restored, apperr.New(apperr.FileError, fmt.Sprintf("error restoring %s from backup", path), err)
		}
		restored++
	}
	return restored, nil
}

// Guard robi kopię plików, wykonuje fn i przywraca kopię, jeśli fn zwróci błąd
func Guard(fn func() error, paths ...string) error {
	if err := Files(paths...); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rerr := Restore(paths...); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return nil
}
