package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSimSecretCreatesAuthFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth", "gui_rpc_auth.cfg")

	secret, err := simSecret(path)
	if err != nil {
		t.Fatalf("simSecret: %v", err)
	}
	if secret == "" {
		t.Fatal("expected a generated secret")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read auth file: %v", err)
	}
	if strings.TrimSpace(string(data)) != secret {
		t.Fatalf("auth file = %q, want %q", data, secret)
	}

	again, err := simSecret(path)
	if err != nil || again != secret {
		t.Fatalf("second simSecret = %q, %v; want existing secret", again, err)
	}
}

func TestSimSecretKeepsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gui_rpc_auth.cfg")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	secret, err := simSecret(path)
	if err != nil || secret != "" {
		t.Fatalf("simSecret = %q, %v; want empty secret", secret, err)
	}
}
