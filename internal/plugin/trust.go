package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// validateTrust enforces the filesystem constraints an executable must meet before it
// is even considered for signature verification.
func validateTrust(executablePath, pluginsDir string) error {
	resolvedExe, err := filepath.EvalSymlinks(executablePath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable symlink: %w", err)
	}

	resolvedDir, err := filepath.EvalSymlinks(pluginsDir)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin dir symlink: %w", err)
	}

	if !strings.HasPrefix(resolvedExe, resolvedDir+string(os.PathSeparator)) {
		return fmt.Errorf("executable %s is not under plugin directory %s", resolvedExe, resolvedDir)
	}

	info, err := os.Stat(resolvedExe)
	if err != nil {
		return fmt.Errorf("executable not found: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("executable is not a regular file: %s", resolvedExe)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("executable is not executable: %s", resolvedExe)
	}

	dirInfo, err := os.Stat(resolvedDir)
	if err != nil {
		return fmt.Errorf("plugin directory not found: %w", err)
	}
	if dirInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("plugin directory is world-writable: %s", resolvedDir)
	}

	return nil
}
