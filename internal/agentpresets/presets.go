// Package agentpresets resolves the CLI's `happy acp <name>` shorthand
// into a concrete {command, args} pair, per spec.md §6.
package agentpresets

import "strings"

// preset is a known agent's ACP invocation.
type preset struct {
	command string
	args    []string
	// image is the default container image used when the caller opts
	// into the sandboxed launcher (transport.LauncherSandboxed) for this
	// preset; direct launches ignore it.
	image string
}

// presets is the {gemini, opencode} lookup table from spec.md §6.
var presets = map[string]preset{
	"gemini":   {command: "gemini", args: []string{"--experimental-acp"}, image: "ghcr.io/google-gemini/gemini-cli:latest"},
	"opencode": {command: "opencode", args: []string{"acp"}, image: "ghcr.io/sst/opencode:latest"},
}

// ResolveAgent maps name to its ACP command line. Unknown names are
// treated as the command itself, with passThroughArgs appended verbatim.
// For opencode, a legacy --acp flag in passThroughArgs is stripped since
// the preset already appends the acp subcommand.
func ResolveAgent(name string, passThroughArgs []string) (command string, args []string) {
	p, known := presets[name]
	if !known {
		return name, passThroughArgs
	}

	args = append([]string(nil), p.args...)
	if name == "opencode" {
		passThroughArgs = stripLegacyACPFlag(passThroughArgs)
	}
	args = append(args, passThroughArgs...)
	return p.command, args
}

// SandboxImage returns the default container image for a known preset
// name, or "" for a literal/unknown command, which has no default image
// and must supply one explicitly to use the sandboxed launcher.
func SandboxImage(name string) string {
	return presets[name].image
}

func stripLegacyACPFlag(args []string) []string {
	filtered := make([]string, 0, len(args))
	for _, a := range args {
		if strings.TrimSpace(a) == "--acp" {
			continue
		}
		filtered = append(filtered, a)
	}
	return filtered
}
