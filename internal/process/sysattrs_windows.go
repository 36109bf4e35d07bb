//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr sets Windows-specific attributes for worker processes.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
