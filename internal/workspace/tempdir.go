package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"postgres-job-agent/internal/logging"
)

// ErrTempDirFailed reports that no unique directory could be created within
// the retry budget.
var ErrTempDirFailed = errors.New("could not create temporary directory")

const maxAttempts = 100

// TempRoot resolves the OS temp directory. On POSIX the TMPDIR, TMP, TEMP
// and TEMPDIR environment variables are honored in that order before
// falling back to /tmp; Windows uses the platform default.
func TempRoot() string {
	if runtime.GOOS == "windows" {
		return os.TempDir()
	}
	for _, key := range []string{"TMPDIR", "TMP", "TEMP", "TEMPDIR"} {
		if dir := os.Getenv(key); dir != "" {
			return dir
		}
	}
	return "/tmp"
}

// CreateUniqueTempDir makes a fresh directory under the temp root whose
// name is prefix plus a random token, with owner-only permissions. Name
// clashes are retried up to 100 times.
func CreateUniqueTempDir(prefix string) (string, error) {
	root := TempRoot()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		token := strings.ReplaceAll(uuid.NewString(), "-", "")
		dir := filepath.Join(root, prefix+token)

		err := os.Mkdir(dir, 0o700)
		if err == nil {
			// Mkdir honors umask; force owner-only regardless.
			if err := os.Chmod(dir, 0o700); err != nil {
				logging.Warningf("Couldn't restrict permissions on %s: %v", dir, err)
			}
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("%w: %w", ErrTempDirFailed, err)
		}
	}
	return "", fmt.Errorf("%w: name space exhausted for prefix %q", ErrTempDirFailed, prefix)
}

// Remove recursively deletes a step workspace. Failure is logged at
// warning and never changes the step outcome.
func Remove(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		logging.Warningf("Couldn't remove temporary directory %s: %v", dir, err)
	}
}
