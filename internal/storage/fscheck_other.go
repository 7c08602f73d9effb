//go:build !darwin && !linux

package storage

// detectFilesystemType reports no type on platforms without statfs; the check is skipped.
func detectFilesystemType(path string) (string, error) {
	return "", nil
}
