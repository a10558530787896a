package main

import (
	"context"
	"os"
	"testing"
)

const minimalConfig = "telegram:\n  token: \"test-token\"\n  authorized_users: [1]\n"

func TestRunDoctorCommand_TextOutput(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ARIABOT_HOME", home)
	if err := os.WriteFile(home+"/config.yaml", []byte(minimalConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	code := runDoctorCommand(context.Background(), nil)
	// aria2 is unreachable in this environment, so the engine check fails.
	if code != 1 {
		t.Fatalf("got exit code %d, want 1 (aria2 unreachable)", code)
	}
}

func TestRunDoctorCommand_JSONOutput(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ARIABOT_HOME", home)
	if err := os.WriteFile(home+"/config.yaml", []byte(minimalConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	code := runDoctorCommand(context.Background(), []string{"-json"})
	if code != 1 {
		t.Fatalf("got exit code %d, want 1 (aria2 unreachable)", code)
	}
}

func TestRunDoctorCommand_DoubleDashJSON(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ARIABOT_HOME", home)
	if err := os.WriteFile(home+"/config.yaml", []byte(minimalConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	code := runDoctorCommand(context.Background(), []string{"--json"})
	if code != 1 {
		t.Fatalf("got exit code %d, want 1 (aria2 unreachable)", code)
	}
}

func TestRunDoctorCommand_NeedsGenesis(t *testing.T) {
	home := t.TempDir()
	t.Setenv("ARIABOT_HOME", home)
	// No config.yaml at all triggers the NeedsGenesis path: every check
	// reports WARN/SKIP rather than FAIL, so overall status is healthy.

	code := runDoctorCommand(context.Background(), nil)
	if code != 0 {
		t.Fatalf("got exit code %d, want 0 when config is missing (genesis WARN, not FAIL)", code)
	}
}
