//go:build windows

package gateway

import (
	"os/exec"
	"syscall"
)

// hideWindow keeps console tools from flashing a window on every poll.
func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}
