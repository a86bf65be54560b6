// internal/utils/path.go

package utils

import (
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

// ExpandHome zamienia początkowe "~" na katalog domowy użytkownika
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

// ToSFTPPath converts local path to SFTP path format
func ToSFTPPath(p string) string {
	if runtime.GOOS == "windows" {
		return strings.ReplaceAll(p, "\\", "/")
	}
	return p
}

// RemoteJoin łączy elementy ścieżki zdalnej, zawsze z separatorem "/"
func RemoteJoin(elem ...string) string {
	for i, e := range elem {
		elem[i] = ToSFTPPath(e)
	}
	return path.Join(elem...)
}

// RemoteTarget zwraca docelową ścieżkę zdalną. Gdy remote kończy się "/",
// dołączana jest nazwa pliku lokalnego.
func RemoteTarget(localPath, remote string) string {
	if remote == "" || strings.HasSuffix(remote, "/") {
		return RemoteJoin(remote, filepath.Base(localPath))
	}
	return ToSFTPPath(remote)
}
