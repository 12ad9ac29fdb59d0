package supervisor

import (
	"context"
	"os/exec"
)

// Executor creates the exec.Cmd instances behind the spawn and git probes,
// so tests can substitute a stub binary for the opencode server without
// touching production paths.
type Executor interface {
	Command(name string, args ...string) *exec.Cmd
	CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd
}

// RealExecutor backs Executor with os/exec.
type RealExecutor struct{}

func (e *RealExecutor) Command(name string, args ...string) *exec.Cmd {
	return exec.Command(name, args...)
}

func (e *RealExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}
