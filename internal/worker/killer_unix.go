//go:build !windows

package worker

import (
	"context"
	"strconv"

	"golang.org/x/sys/unix"
)

// DefaultKillers returns the POSIX strategies: lsof first, fuser as a fallback.
func DefaultKillers() []PortKiller {
	return []PortKiller{
		NewLsofKiller(ExecRunner),
		NewFuserKiller(ExecRunner),
	}
}

// NewLsofKiller finds listeners with lsof and sends SIGKILL.
func NewLsofKiller(run CommandRunner) PortKiller {
	return &commandKiller{
		name: "lsof",
		run:  run,
		lookup: func(port int) (string, []string) {
			return "lsof", []string{"-t", "-iTCP:" + strconv.Itoa(port), "-sTCP:LISTEN"}
		},
		parse:     pidsFromOutput,
		terminate: sigkill,
	}
}

// NewFuserKiller finds listeners with fuser and sends SIGKILL.
func NewFuserKiller(run CommandRunner) PortKiller {
	return &commandKiller{
		name: "fuser",
		run:  run,
		lookup: func(port int) (string, []string) {
			return "fuser", []string{strconv.Itoa(port) + "/tcp"}
		},
		parse:     pidsFromOutput,
		terminate: sigkill,
	}
}

func sigkill(_ context.Context, pid int) error {
	err := unix.Kill(pid, unix.SIGKILL)
	if err == unix.ESRCH {
		return nil
	}
	return err
}
