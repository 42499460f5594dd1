//go:build windows

/* *****************************************************************************
 * Nehonix Taskmaster Process Supervisor
 * (see worker.go for full license header)
 ***************************************************************************** */

package supervisor

import (
	"os"
	"os/exec"
)

func configureSysProcAttr(cmd *exec.Cmd) {
	// Job Objects would be the idiomatic way to contain the child tree on
	// Windows, but that requires Win32 calls beyond the standard library.
}

// startWithUmask ignores umask on Windows; the concept does not exist there.
func startWithUmask(cmd *exec.Cmd, umask int) error {
	return cmd.Start()
}

// killGroup terminates the child process. Without Job Objects grandchildren
// are not reached.
func killGroup(pid int) {
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Kill()
	}
}
