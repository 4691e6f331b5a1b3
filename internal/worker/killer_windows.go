//go:build windows

package worker

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sys/windows"
)

// DefaultKillers returns the Windows strategies in escalating order:
// netstat + taskkill, then PowerShell, then WMIC by command line.
func DefaultKillers() []PortKiller {
	return []PortKiller{
		NewNetstatKiller(ExecRunner),
		NewPowerShellKiller(ExecRunner),
		NewWMICKiller(ExecRunner),
	}
}

// NewNetstatKiller finds listeners with `netstat -ano` and kills the tree with taskkill.
func NewNetstatKiller(run CommandRunner) PortKiller {
	return &commandKiller{
		name: "netstat",
		run:  run,
		lookup: func(int) (string, []string) {
			return "netstat", []string{"-ano", "-p", "TCP"}
		},
		parse: parseNetstatListeners,
		terminate: func(ctx context.Context, pid int) error {
			_, err := run(ctx, "taskkill", "/F", "/PID", strconv.Itoa(pid), "/T")
			return err
		},
	}
}

// NewPowerShellKiller uses Get-NetTCPConnection and Stop-Process.
func NewPowerShellKiller(run CommandRunner) PortKiller {
	return &commandKiller{
		name: "powershell",
		run:  run,
		lookup: func(port int) (string, []string) {
			script := fmt.Sprintf("Get-NetTCPConnection -LocalPort %d -State Listen | Select-Object -ExpandProperty OwningProcess", port)
			return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", script}
		},
		parse: pidsFromOutput,
		terminate: func(ctx context.Context, pid int) error {
			script := fmt.Sprintf("Stop-Process -Id %d -Force -ErrorAction Stop", pid)
			_, err := run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
			return err
		},
	}
}

// NewWMICKiller targets processes whose command line mentions claude-mem,
// for when the port owner can't be resolved directly.
func NewWMICKiller(run CommandRunner) PortKiller {
	return &commandKiller{
		name: "wmic",
		run:  run,
		lookup: func(int) (string, []string) {
			return "wmic", []string{"process", "where", "commandline like '%claude-mem%'", "get", "processid"}
		},
		parse:     pidsFromOutput,
		terminate: terminateProcess,
	}
}

func terminateProcess(_ context.Context, pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)

	return windows.TerminateProcess(h, 1)
}
