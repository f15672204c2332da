package job

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"postgres-job-agent/internal/logging"
	"postgres-job-agent/internal/workspace"
)

// runBatchStep materializes the step code as a script in a private temp
// directory, runs it, and captures stdout plus any stderr spill-over.
func runBatchStep(jobID, stepID int64, code string) (int64, bool, string) {
	dir, err := workspace.CreateUniqueTempDir(fmt.Sprintf("pga_%d_%d_", jobID, stepID))
	if err != nil {
		logging.Warningf("Couldn't create temporary directory for job %d step %d: %v", jobID, stepID, err)
		return -1, false, "Couldn't create temporary directory!"
	}
	defer workspace.Remove(dir)

	base := fmt.Sprintf("%d_%d", jobID, stepID)
	scriptFile := filepath.Join(dir, base+scriptExt)
	errorFile := filepath.Join(dir, base+"_error.txt")

	if err := os.WriteFile(scriptFile, []byte(normalizeLineEndings(code)), 0o700); err != nil {
		logging.Warningf("Couldn't open temporary script file: %s: %v", scriptFile, err)
		return -1, false, "Couldn't write the script file!"
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(scriptFile, 0o700); err != nil {
			logging.Debugf("Error setting executable permission to file: %s", scriptFile)
		}
	}

	logging.Debugf("Executing script file: %s", scriptFile)

	output, rc, err := spawnScript(scriptFile, errorFile)
	if err != nil {
		logging.Warningf("Couldn't execute script: %s: %v", scriptFile, err)
		return -1, false, "Couldn't execute the script file!"
	}
	logging.Debugf("Script return code: %d", rc)

	if errText, err := os.ReadFile(errorFile); err == nil && len(errText) > 0 {
		logging.Warningf("Script Error:\n%s", errText)
		output += "\nScript Error:\n" + string(errText)
	}

	return rc, rc == 0, output
}

// normalizeLineEndings collapses CRLF to LF; Windows scripts are then
// re-expanded so cmd.exe sees its native line ends.
func normalizeLineEndings(code string) string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	if runtime.GOOS == "windows" {
		code = strings.ReplaceAll(code, "\n", "\r\n")
	}
	return code
}
