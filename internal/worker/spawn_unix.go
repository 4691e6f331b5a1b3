//go:build !windows

package worker

import "syscall"

// sysProcAttr puts the worker in its own session so it survives the parent's terminal.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true,
	}
}
