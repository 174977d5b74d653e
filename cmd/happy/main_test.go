package main

import (
	"reflect"
	"testing"
)

func TestParseACPArgs_PresetName(t *testing.T) {
	got, err := parseACPArgs([]string{"gemini"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.verbose || got.sandbox || got.command != "gemini" || !reflect.DeepEqual(got.cmdArgs, []string{"--experimental-acp"}) {
		t.Errorf("got %+v", got)
	}
	if got.presetName != "gemini" {
		t.Errorf("presetName = %q, want %q", got.presetName, "gemini")
	}
}

func TestParseACPArgs_VerboseBeforePreset(t *testing.T) {
	got, err := parseACPArgs([]string{"--verbose", "opencode"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.verbose || got.command != "opencode" || !reflect.DeepEqual(got.cmdArgs, []string{"acp"}) {
		t.Errorf("got %+v", got)
	}
}

func TestParseACPArgs_SandboxFlag(t *testing.T) {
	got, err := parseACPArgs([]string{"--sandbox", "gemini"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.sandbox || got.verbose {
		t.Errorf("got %+v, want sandbox=true verbose=false", got)
	}
}

func TestParseACPArgs_UnknownNamePassesArgsThrough(t *testing.T) {
	got, err := parseACPArgs([]string{"my-custom-agent", "--flag", "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.command != "my-custom-agent" || !reflect.DeepEqual(got.cmdArgs, []string{"--flag", "x"}) {
		t.Errorf("got %+v", got)
	}
}

func TestParseACPArgs_LiteralSpawnAfterDoubleDash(t *testing.T) {
	got, err := parseACPArgs([]string{"--verbose", "--", "./my-agent", "--foo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.verbose || got.command != "./my-agent" || !reflect.DeepEqual(got.cmdArgs, []string{"--foo"}) {
		t.Errorf("got %+v", got)
	}
	if got.presetName != "" {
		t.Errorf("presetName = %q, want empty for a literal spawn", got.presetName)
	}
}

func TestParseACPArgs_FlagLikeTokenAfterDoubleDashIsLiteral(t *testing.T) {
	got, err := parseACPArgs([]string{"--", "./my-agent", "--sandbox"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.sandbox {
		t.Error("sandbox should only be recognized before --, not passed through to the child")
	}
	if !reflect.DeepEqual(got.cmdArgs, []string{"--sandbox"}) {
		t.Errorf("cmdArgs = %v, want [--sandbox] passed through literally", got.cmdArgs)
	}
}

func TestParseACPArgs_MissingCmdAfterDoubleDashIsAnError(t *testing.T) {
	if _, err := parseACPArgs([]string{"--"}); err == nil {
		t.Fatal("expected an error for missing <cmd> after --")
	}
}

func TestParseACPArgs_OnlyVerboseIsAnError(t *testing.T) {
	if _, err := parseACPArgs([]string{"--verbose"}); err == nil {
		t.Fatal("expected an error when no agent name is given")
	}
}

func TestCmdACP_NoArgsIsAUsageError(t *testing.T) {
	if code := cmdACP(nil); code != 1 {
		t.Errorf("cmdACP(nil) = %d, want 1", code)
	}
}
