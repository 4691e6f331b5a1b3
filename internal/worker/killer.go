package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// PortKiller frees a TCP port by terminating whatever process listens on it.
// Implementations are platform-specific; several are tried in order.
type PortKiller interface {
	Name() string
	FindOwningProcess(ctx context.Context, port int) ([]int, error)
	Terminate(ctx context.Context, pid int) error
}

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output() // #nosec G204 -- fixed tool names, numeric arguments
}

// FreePort tries each killer in order until one terminates at least one owning process.
// Returns the name of the killer that succeeded.
func FreePort(ctx context.Context, killers []PortKiller, port int) (string, bool) {
	self := os.Getpid()

	for _, k := range killers {
		pids, err := k.FindOwningProcess(ctx, port)
		if err != nil {
			log.Debug().Err(err).Str("strategy", k.Name()).Int("port", port).Msg("Port owner lookup failed")
			continue
		}

		killed := 0
		for _, pid := range pids {
			if pid <= 0 || pid == self {
				continue
			}
			if err := k.Terminate(ctx, pid); err != nil {
				log.Debug().Err(err).Str("strategy", k.Name()).Int("pid", pid).Msg("Terminate failed")
				continue
			}
			log.Info().Str("strategy", k.Name()).Int("pid", pid).Int("port", port).Msg("Killed process holding worker port")
			killed++
		}
		if killed > 0 {
			return k.Name(), true
		}
	}
	return "", false
}

// parsePIDList extracts every positive integer token from command output.
// Non-numeric tokens such as headers or "37777/tcp:" are skipped.
func parsePIDList(out []byte) []int {
	var pids []int
	seen := make(map[int]bool)
	for _, field := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	return pids
}

// parseNetstatListeners reads `netstat -ano` output and returns the PIDs listening on port.
func parseNetstatListeners(out []byte, port int) []int {
	suffix := ":" + strconv.Itoa(port)
	var pids []int
	seen := make(map[int]bool)

	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		// Proto  Local Address  Foreign Address  State  PID
		if len(fields) < 5 || !strings.EqualFold(fields[0], "TCP") {
			continue
		}
		if !strings.HasSuffix(fields[1], suffix) || !strings.EqualFold(fields[3], "LISTENING") {
			continue
		}
		pid, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	return pids
}

// noMatch reports whether err is a lookup tool's "nothing found" exit (status 1 with no output).
func noMatch(err error, out []byte) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(strings.TrimSpace(string(out))) == 0
}

// commandKiller looks up PIDs with one command and terminates them with another.
type commandKiller struct {
	run       CommandRunner
	terminate func(ctx context.Context, pid int) error
	lookup    func(port int) (string, []string)
	parse     func(out []byte, port int) []int
	name      string
}

func (c *commandKiller) Name() string { return c.name }

func (c *commandKiller) FindOwningProcess(ctx context.Context, port int) ([]int, error) {
	name, args := c.lookup(port)
	out, err := c.run(ctx, name, args...)
	if err != nil {
		if noMatch(err, out) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c.parse(out, port), nil
}

func (c *commandKiller) Terminate(ctx context.Context, pid int) error {
	return c.terminate(ctx, pid)
}

func pidsFromOutput(out []byte, _ int) []int {
	return parsePIDList(out)
}
