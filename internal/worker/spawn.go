package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/claude-mem-bridge/internal/config"
)

// ErrRuntimeMissing is returned when the worker's runtime is not installed.
var ErrRuntimeMissing = errors.New("worker runtime not available")

// runtimeCheckTimeout bounds the `<runtime> --version` probe.
const runtimeCheckTimeout = 5 * time.Second

// Spawner launches a worker bound to a port. Start must not wait for the worker to become ready.
type Spawner interface {
	Start(ctx context.Context, host string, port int) error
}

// ProcessSpawner starts the worker as a detached child process.
type ProcessSpawner struct {
	run     CommandRunner
	start   func(cmd *exec.Cmd) error
	Command []string
	// Env is appended to the current environment.
	Env []string
}

// NewProcessSpawner creates a spawner for command, e.g. ["bun", "/path/worker-service.cjs"].
func NewProcessSpawner(command []string) *ProcessSpawner {
	return &ProcessSpawner{
		Command: command,
		run:     ExecRunner,
		start:   startDetached,
	}
}

// Start verifies the runtime answers --version, then launches the worker in the background.
// The child is reaped in a goroutine and outlives any caller context.
func (s *ProcessSpawner) Start(ctx context.Context, host string, port int) error {
	if len(s.Command) == 0 {
		return fmt.Errorf("%w: empty worker command", ErrRuntimeMissing)
	}

	runtime, err := exec.LookPath(s.Command[0])
	if err != nil {
		return fmt.Errorf("%w: %s not found in PATH: %v", ErrRuntimeMissing, s.Command[0], err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, runtimeCheckTimeout)
	defer cancel()
	if _, err := s.run(checkCtx, runtime, "--version"); err != nil {
		return fmt.Errorf("%w: %s --version: %v", ErrRuntimeMissing, s.Command[0], err)
	}

	cmd := exec.Command(runtime, s.Command[1:]...) // #nosec G204 -- command comes from user configuration
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env,
		config.EnvWorkerPort+"="+strconv.Itoa(port),
		config.EnvWorkerHost+"="+host,
		config.EnvManaged+"=true",
	)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = sysProcAttr()

	if err := s.start(cmd); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	return nil
}

func startDetached(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	pid := cmd.Process.Pid
	log.Info().Int("pid", pid).Str("command", cmd.Path).Msg("Worker process started")

	go func() {
		err := cmd.Wait()
		log.Debug().Err(err).Int("pid", pid).Msg("Worker process exited")
	}()
	return nil
}
