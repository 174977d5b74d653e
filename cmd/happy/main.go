// Command happy is the CLI front end for the ACP runner (spec.md §6): it
// resolves an agent preset or a literal command line, wires the local
// stdio relay, and blocks until the session ends.
package main

import (
	"fmt"
	"os"

	"github.com/happyhq/happy-acp/internal/agentpresets"
	"github.com/happyhq/happy-acp/internal/clirelay"
	"github.com/happyhq/happy-acp/internal/launcher"
	"github.com/happyhq/happy-acp/internal/logger"
	"github.com/happyhq/happy-acp/internal/runner"
	"github.com/happyhq/happy-acp/internal/transport"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "acp":
		os.Exit(cmdACP(os.Args[2:]))
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "happy: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  happy acp [--verbose] [--sandbox] <name> [args...]
  happy acp [--verbose] [--sandbox] -- <cmd> [args...]

<name> is resolved against the built-in agent presets (gemini, opencode);
an unrecognized name is spawned literally with [args...] appended. "--"
always forces a literal spawn of <cmd> [args...], bypassing preset lookup.

Flags:
  --verbose   log raw backend traffic to stdout and emit the structured
              envelope stream as ndJSON instead of a plain transcript
  --sandbox   spawn the child inside a short-lived Docker container
              instead of execing it on the host; requires a resolvable
              preset image or a literal command run through a preset name`)
}

// cmdACP implements `happy acp ...`. It returns the process exit code:
// 0 on clean shutdown, 1 on startup failure, or the child's own exit code
// when it terminates abnormally (spec.md §6).
func cmdACP(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	parsed, err := parseACPArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "happy acp: %v\n", err)
		return 1
	}

	logger.InitConsole(parsed.verbose)

	relay := clirelay.New(parsed.verbose)
	go relay.Run()
	defer relay.Close()

	var hooks transport.Hooks = transport.DefaultHooks{}
	if parsed.sandbox {
		hooks = sandboxHooks{image: agentpresets.SandboxImage(parsed.presetName)}
	}

	r := runner.New(runner.Config{
		Command:  parsed.command,
		Args:     parsed.cmdArgs,
		Cwd:      workingDir(),
		Hooks:    hooks,
		Launcher: launcher.NewDirect(),
		Relay:    relay,
	})

	code, runErr := r.Run()
	if runErr != nil {
		logger.Error("happy acp: %v", runErr)
	}
	return code
}

// acpArgs is the decoded form of `happy acp`'s argument vector.
type acpArgs struct {
	verbose bool
	sandbox bool
	command string
	cmdArgs []string
	// presetName is the name resolved against agentpresets, used to look
	// up a default sandbox image; empty for a literal "--" spawn.
	presetName string
}

// parseACPArgs splits args into the --verbose/--sandbox flags and either a
// preset name with pass-through args or, when "--" is present, a literal
// command line, per spec.md §6's two invocation forms.
func parseACPArgs(args []string) (acpArgs, error) {
	sepIdx := -1
	for i, a := range args {
		if a == "--" {
			sepIdx = i
			break
		}
	}

	var head, rest []string
	literal := sepIdx >= 0
	if literal {
		head, rest = args[:sepIdx], args[sepIdx+1:]
	} else {
		head, rest = args, nil
	}

	var verbose, sandbox bool
	var positional []string
	for _, a := range head {
		switch a {
		case "--verbose":
			verbose = true
		case "--sandbox":
			sandbox = true
		default:
			positional = append(positional, a)
		}
	}

	if literal {
		if len(rest) == 0 {
			return acpArgs{}, fmt.Errorf("missing <cmd> after --")
		}
		return acpArgs{verbose: verbose, sandbox: sandbox, command: rest[0], cmdArgs: rest[1:]}, nil
	}

	if len(positional) == 0 {
		return acpArgs{}, fmt.Errorf("no agent name given")
	}
	command, cmdArgs := agentpresets.ResolveAgent(positional[0], positional[1:])
	return acpArgs{
		verbose:    verbose,
		sandbox:    sandbox,
		command:    command,
		cmdArgs:    cmdArgs,
		presetName: positional[0],
	}, nil
}

// sandboxHooks opts into the sandboxed launcher (spec.md §4.1 getLauncher)
// with a fixed image, leaving every other hook at its documented default.
type sandboxHooks struct {
	transport.DefaultHooks
	image string
}

func (h sandboxHooks) Launcher() transport.LauncherKind { return transport.LauncherSandboxed }
func (h sandboxHooks) SandboxImage() string             { return h.image }

func workingDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}
