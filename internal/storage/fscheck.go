package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// networkFilesystems lists filesystems whose locking SQLite's WAL mode cannot rely on.
// Edge boards often mount shared storage over one of these.
var networkFilesystems = map[string]struct{}{
	"9p":         {},
	"afpfs":      {},
	"ceph":       {},
	"cifs":       {},
	"fuse.sshfs": {},
	"glusterfs":  {},
	"nfs":        {},
	"smbfs":      {},
	"smb2":       {},
	"webdav":     {},
}

// validateSQLiteFilesystem ensures the memory DB path is on a local filesystem.
func validateSQLiteFilesystem(path string) error {
	return validateSQLiteFilesystemWithDetector(path, detectFilesystemType)
}

func validateSQLiteFilesystemWithDetector(path string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}
	if fsType == "" {
		return nil
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"memory database %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. Set state.path (or DB_PATH) to local storage such as /var/lib/edgeclaw/memory.db",
			path,
			fsType,
		)
	}

	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}
