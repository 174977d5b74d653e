package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/happyhq/happy-acp/internal/launcher"
	"github.com/happyhq/happy-acp/internal/transport"
)

type launcherKindHooks struct {
	transport.DefaultHooks
	kind  transport.LauncherKind
	image string
}

func (h launcherKindHooks) Launcher() transport.LauncherKind { return h.kind }
func (h launcherKindHooks) SandboxImage() string             { return h.image }

func TestSelectLauncher_DefaultIsDirect(t *testing.T) {
	direct := launcher.NewDirect()
	b := New(direct, launcher.Spec{Command: "gemini"}, transport.DefaultHooks{}, func(Message) {}, nil)
	b.newSandboxed = func() (launcher.Launcher, error) {
		t.Fatal("newSandboxed should not be called for the direct policy")
		return nil, nil
	}

	got, spec, err := b.selectLauncher()
	if err != nil {
		t.Fatalf("selectLauncher: %v", err)
	}
	if got != direct {
		t.Errorf("selectLauncher returned %v, want the injected direct launcher", got)
	}
	if spec.Image != "" {
		t.Errorf("spec.Image = %q, want empty for a direct launch", spec.Image)
	}
}

func TestSelectLauncher_SandboxedConstructsAndFillsImage(t *testing.T) {
	direct := launcher.NewDirect()
	hooks := launcherKindHooks{kind: transport.LauncherSandboxed, image: "ghcr.io/example/agent:latest"}
	b := New(direct, launcher.Spec{Command: "gemini"}, hooks, func(Message) {}, nil)

	called := false
	sandboxed := &fakeSandboxLauncher{}
	b.newSandboxed = func() (launcher.Launcher, error) {
		called = true
		return sandboxed, nil
	}

	got, spec, err := b.selectLauncher()
	if err != nil {
		t.Fatalf("selectLauncher: %v", err)
	}
	if !called {
		t.Fatal("newSandboxed was never called for the sandboxed policy")
	}
	if got != sandboxed {
		t.Errorf("selectLauncher returned %v, want the constructed sandboxed launcher", got)
	}
	if spec.Image != "ghcr.io/example/agent:latest" {
		t.Errorf("spec.Image = %q, want the hook-supplied default", spec.Image)
	}
}

func TestSelectLauncher_SandboxedKeepsExplicitImage(t *testing.T) {
	hooks := launcherKindHooks{kind: transport.LauncherSandboxed, image: "should-not-be-used"}
	b := New(launcher.NewDirect(), launcher.Spec{Command: "gemini", Image: "explicit:tag"}, hooks, func(Message) {}, nil)
	b.newSandboxed = func() (launcher.Launcher, error) { return &fakeSandboxLauncher{}, nil }

	_, spec, err := b.selectLauncher()
	if err != nil {
		t.Fatalf("selectLauncher: %v", err)
	}
	if spec.Image != "explicit:tag" {
		t.Errorf("spec.Image = %q, want the caller's explicit image preserved", spec.Image)
	}
}

func TestSelectLauncher_SandboxedWithNoImageIsAnError(t *testing.T) {
	hooks := launcherKindHooks{kind: transport.LauncherSandboxed}
	b := New(launcher.NewDirect(), launcher.Spec{Command: "unknown-agent"}, hooks, func(Message) {}, nil)
	b.newSandboxed = func() (launcher.Launcher, error) { return &fakeSandboxLauncher{}, nil }

	if _, _, err := b.selectLauncher(); err == nil {
		t.Fatal("selectLauncher() error = nil, want an error for a missing image")
	}
}

func TestSelectLauncher_SandboxedConstructionFailurePropagates(t *testing.T) {
	hooks := launcherKindHooks{kind: transport.LauncherSandboxed, image: "img:tag"}
	b := New(launcher.NewDirect(), launcher.Spec{Command: "gemini"}, hooks, func(Message) {}, nil)
	wantErr := errors.New("no docker daemon")
	b.newSandboxed = func() (launcher.Launcher, error) { return nil, wantErr }

	if _, _, err := b.selectLauncher(); err == nil {
		t.Fatal("selectLauncher() error = nil, want the wrapped construction error")
	}
}

type fakeSandboxLauncher struct{}

func (f *fakeSandboxLauncher) Launch(_ context.Context, _ launcher.Spec) (launcher.Handle, error) {
	return nil, nil
}
