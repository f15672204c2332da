//go:build !windows

package job

import (
	"errors"
	"os"
	"os/exec"
)

const scriptExt = ".scr"

// spawnScript runs the script with stdout captured and stderr redirected to
// errorFile. The returned error covers spawn failures only; a nonzero exit
// comes back as the result code.
func spawnScript(scriptFile, errorFile string) (string, int64, error) {
	errF, err := os.Create(errorFile)
	if err != nil {
		return "", -1, err
	}
	defer errF.Close()

	cmd := exec.Command("/bin/sh", scriptFile)
	cmd.Stderr = errF

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// ExitCode is -1 when the child died on a signal.
			return string(out), int64(exitErr.ExitCode()), nil
		}
		return "", -1, err
	}
	return string(out), 0, nil
}
