//go:build !darwin && !windows

package sandbox

import (
	"context"
	"fmt"
	"os/exec"
)

// ConfigurationInference is the sandbox configuration for inference runner
// processes.
const ConfigurationInference = ``

// sandbox is the non-Darwin POSIX sandbox implementation.
type sandbox struct {
	// cancel cancels the context associated with the process.
	cancel context.CancelFunc
	// command is the sandboxed process handle.
	command *exec.Cmd
}

// Command implements Sandbox.Command.
func (s *sandbox) Command() *exec.Cmd {
	return s.command
}

// Close implements Sandbox.Close.
func (s *sandbox) Close() error {
	s.cancel()
	return nil
}

// Create creates a sandbox containing a single process that has been
// started. The ctx, name, and arg arguments correspond to their
// counterparts in os/exec.CommandContext. The configuration and binDir
// arguments are accepted for parity with the platforms that constrain the
// process; no confinement mechanism is applied here. The modifier function
// allows an optional callback (which may be nil) to configure the command
// before it is started.
func Create(ctx context.Context, configuration string, modifier func(*exec.Cmd), binDir, name string, arg ...string) (Sandbox, error) {
	ctx, cancel := context.WithCancel(ctx)

	command := exec.CommandContext(ctx, name, arg...)
	if modifier != nil {
		modifier(command)
	}

	if err := command.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("unable to start process: %w", err)
	}
	return &sandbox{
		cancel:  cancel,
		command: command,
	}, nil
}
