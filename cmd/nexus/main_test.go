package main

import (
	"bytes"
	"testing"
)

func TestBuildRootCmdHasExpectedSubcommands(t *testing.T) {
	root := buildRootCmd()
	want := []string{"run", "sessions", "setup", "service"}
	for _, name := range want {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("expected subcommand %q, got error %v", name, err)
		}
	}
}

func TestRunCmdRequiresExactlyOneArg(t *testing.T) {
	root := buildRootCmd()
	root.SetArgs([]string{"run"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an error when no message is given")
	}
}

func TestResolveConfigPathDefaultsToNexusYAML(t *testing.T) {
	t.Setenv("NEXUS_CONFIG", "")
	if got := resolveConfigPath(""); got != "nexus.yaml" {
		t.Errorf("resolveConfigPath(\"\") = %q, want nexus.yaml", got)
	}
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Errorf("resolveConfigPath(custom.yaml) = %q, want custom.yaml", got)
	}
}

func TestResolveConfigPathHonorsEnv(t *testing.T) {
	t.Setenv("NEXUS_CONFIG", "/tmp/env-config.yaml")
	if got := resolveConfigPath(""); got != "/tmp/env-config.yaml" {
		t.Errorf("resolveConfigPath(\"\") = %q, want env override", got)
	}
}
