// Package launcher abstracts how the backend spawns the ACP child process,
// so the same Backend code drives either a direct host exec or a
// sandboxed container exec without knowing which.
package launcher

import (
	"context"
	"io"
)

// Spec describes the child process to launch.
type Spec struct {
	Command string
	Args    []string
	// Env holds the full "KEY=VALUE" environment to give the child
	// (inherited environment plus any hook-supplied additions).
	Env []string
	Dir string
	// Image names the container image to run Command in, when launched
	// through Sandboxed. Direct ignores it.
	Image string
}

// Handle is a running child process with piped stdio. Implementations wrap
// either *os/exec.Cmd (direct) or a container attach session (sandboxed).
type Handle interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader

	// Terminate asks the process to exit gracefully (SIGTERM on POSIX).
	Terminate() error
	// Kill forces termination (SIGKILL on POSIX).
	Kill() error
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
}

// Launcher spawns a Spec and returns a running Handle.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}
