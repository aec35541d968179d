//go:build windows

package main

import (
	"os/exec"
	"syscall"
)

// detachDaemon starts drilld in a new process group, away from the CLI console
func detachDaemon(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
