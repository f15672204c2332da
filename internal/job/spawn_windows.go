//go:build windows

package job

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
)

const scriptExt = ".bat"

// spawnScript runs the batch file with stderr merged into the stdout
// capture, matching how the child inherits the output pipe on Windows. The
// error file still exists so the shared read-back path has something to
// consume.
func spawnScript(scriptFile, errorFile string) (string, int64, error) {
	errF, err := os.Create(errorFile)
	if err != nil {
		return "", -1, err
	}
	errF.Close()

	var out bytes.Buffer
	cmd := exec.Command("cmd", "/c", scriptFile)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), int64(exitErr.ExitCode()), nil
		}
		return "", -1, err
	}
	return out.String(), 0, nil
}
