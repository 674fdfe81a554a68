//go:build unix

package local

import (
	"os/exec"
	"syscall"
)

// configureProcess runs the job in its own process group so cancellation
// reaches every process the shell started.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
}
