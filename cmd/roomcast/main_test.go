package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FUNCTIONAL VALIDATION TEST: configuration errors stop startup
func TestRun_InvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomcast.yaml")
	if err := os.WriteFile(path, []byte("http:\n  port: 99999\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := run([]string{"-config", path})
	if err == nil {
		t.Fatal("run should fail on invalid configuration")
	}
	if !strings.Contains(err.Error(), "configuration") {
		t.Errorf("error = %v", err)
	}
}

func TestRun_MissingConfigFile(t *testing.T) {
	err := run([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatal("run should fail when the config file is missing")
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	if err := run([]string{"-no-such-flag"}); err == nil {
		t.Error("unknown flags should fail")
	}
}
