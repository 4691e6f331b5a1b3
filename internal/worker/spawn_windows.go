//go:build windows

package worker

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// sysProcAttr detaches the worker from the parent's console.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
	}
}
