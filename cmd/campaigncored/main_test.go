package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "campaigncore.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const memoryConfig = `listen: 127.0.0.1:0
storage:
  driver: memory
blob:
  driver: memory
schedule:
  reconcile_cron: "*/5 * * * *"
`

func TestCheckConfigPrintsRedactedYAML(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: postgres\n  postgres_dsn: postgres://campaign:hunter2@db/campaigns\nblob:\n  driver: memory\n")
	env := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(env, []byte("CAMPAIGNCORE_MAX_REPEATS=7\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("CAMPAIGNCORE_MAX_REPEATS", "")
	if err := os.Unsetenv("CAMPAIGNCORE_MAX_REPEATS"); err != nil {
		t.Fatalf("unsetenv: %v", err)
	}

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"-c", path, "--env-file", env, "--check-config"}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v (stderr %s)", err, stderr.String())
	}
	out := stdout.String()
	if strings.Contains(out, "hunter2") {
		t.Fatalf("dsn leaked into output:\n%s", out)
	}
	for _, want := range []string{"postgres_dsn: REDACTED", "max_repeats: 7", "driver: memory"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: postgres\n")
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--config", path, "--env-file", ""}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "postgres_dsn") {
		t.Fatalf("expected postgres_dsn validation error, got %v", err)
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"--bogus"}, &stdout, &stderr); err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if err := run(context.Background(), []string{"extra"}, &stdout, &stderr); err == nil {
		t.Fatal("expected error for positional argument")
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	path := writeConfig(t, memoryConfig)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	if err := run(ctx, []string{"-c", path, "--env-file", ""}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	logs := stderr.String()
	for _, want := range []string{"scheduler started", "listening", "stopped"} {
		if !strings.Contains(logs, want) {
			t.Fatalf("expected %q in logs:\n%s", want, logs)
		}
	}
}

func TestMainExitCodes(t *testing.T) {
	var codes []int
	old := exitFunc
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc = old }()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"campaigncored", "--help"}
	main()
	os.Args = []string{"campaigncored", "--bogus"}
	main()
	if len(codes) != 2 || codes[0] != 0 || codes[1] != 1 {
		t.Fatalf("unexpected exit codes: %v", codes)
	}
}
