package launcher

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Sandboxed runs the child inside a short-lived, auto-removed Docker
// container instead of execing it on the host. A transport-hook policy
// opts into this by returning transport.LauncherSandboxed; the Backend
// itself never knows which Launcher produced its Handle.
type Sandboxed struct {
	cli *client.Client
}

// NewSandboxed connects to the Docker daemon using the ambient environment
// (DOCKER_HOST and friends).
func NewSandboxed() (*Sandboxed, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandboxed launcher: docker client: %w", err)
	}
	return &Sandboxed{cli: cli}, nil
}

func (s *Sandboxed) Launch(ctx context.Context, spec Spec) (Handle, error) {
	image := spec.Image
	if image == "" {
		return nil, fmt.Errorf("sandboxed launcher: spec.Image is required")
	}

	resp, err := s.cli.ContainerCreate(ctx, &container.Config{
		Image:        image,
		Cmd:          append([]string{spec.Command}, spec.Args...),
		Env:          spec.Env,
		WorkingDir:   spec.Dir,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		StdinOnce:    true,
		Tty:          false,
	}, &container.HostConfig{
		AutoRemove: true,
	}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("sandboxed launcher: create: %w", err)
	}

	attach, err := s.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sandboxed launcher: attach: %w", err)
	}

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attach.Close()
		return nil, fmt.Errorf("sandboxed launcher: start: %w", err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		defer stdoutW.Close()
		defer stderrW.Close()
		_, _ = stdcopy.StdCopy(stdoutW, stderrW, attach.Reader)
	}()

	return &sandboxHandle{
		cli:         s.cli,
		containerID: resp.ID,
		stdin:       &hijackedWriteCloser{conn: attach},
		stdout:      stdoutR,
		stderr:      stderrR,
	}, nil
}

type sandboxHandle struct {
	cli         *client.Client
	containerID string
	stdin       io.WriteCloser
	stdout      io.Reader
	stderr      io.Reader
}

func (h *sandboxHandle) Stdin() io.WriteCloser { return h.stdin }
func (h *sandboxHandle) Stdout() io.Reader     { return h.stdout }
func (h *sandboxHandle) Stderr() io.Reader     { return h.stderr }

func (h *sandboxHandle) Terminate() error {
	timeout := int(GraceTimeout.Seconds())
	return h.cli.ContainerStop(context.Background(), h.containerID, container.StopOptions{Timeout: &timeout})
}

func (h *sandboxHandle) Kill() error {
	return h.cli.ContainerKill(context.Background(), h.containerID, "SIGKILL")
}

func (h *sandboxHandle) Wait() (int, error) {
	statusCh, errCh := h.cli.ContainerWait(context.Background(), h.containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		return int(status.StatusCode), nil
	}
}

// hijackedWriteCloser wraps a HijackedResponse to implement io.WriteCloser.
type hijackedWriteCloser struct {
	conn types.HijackedResponse
}

func (h *hijackedWriteCloser) Write(p []byte) (int, error) {
	return h.conn.Conn.Write(p)
}

func (h *hijackedWriteCloser) Close() error {
	h.conn.Close()
	return nil
}
