package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"campaigncore/internal/blob"
	"campaigncore/internal/core"
)

func noEnv(string) (string, bool) { return "", false }

func mapEnv(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "campaigncore.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != DefaultListen || cfg.Schedule.ReconcileCron != DefaultReconcileCron {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected config written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Recurrence.MaxRepeats != 5 || again.Recurrence.MaxAdHocRepeats != 10 {
		t.Fatalf("unexpected limits after reload %+v", again.Recurrence)
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	body := "listen: \":9090\"\nstorage:\n  driver: memory\nrecurrence:\n  max_repeats: 7\nlog:\n  level: DEBUG\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9090" || cfg.Storage.Driver != core.StorageMemory || cfg.Storage.SQLitePath != "" {
		t.Fatalf("unexpected storage/listen %+v", cfg)
	}
	if cfg.Recurrence.MaxRepeats != 7 || cfg.Recurrence.MaxAdHocRepeats != 10 {
		t.Fatalf("unexpected limits %+v", cfg.Recurrence)
	}
	if cfg.Log.Level != "debug" || cfg.Blob.Driver != blob.DriverFilesystem || cfg.Batch.QueueSize != DefaultQueueSize {
		t.Fatalf("expected normalized defaults, got %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("listen: [unterminated"), 0o600)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected empty path error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(mapEnv(map[string]string{
		"CAMPAIGNCORE_STORAGE_DRIVER":     "postgres",
		"CAMPAIGNCORE_POSTGRES_DSN":       "postgres://localhost/campaigns",
		"CAMPAIGNCORE_BLOB_DRIVER":        "s3",
		"CAMPAIGNCORE_BLOB_S3_BUCKET":     "campaign-artifacts",
		"CAMPAIGNCORE_BLOB_S3_PATH_STYLE": "true",
		"CAMPAIGNCORE_MAX_ADHOC_REPEATS":  "12",
		"CAMPAIGNCORE_RECONCILE_CRON":     "@hourly",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Storage.Driver != core.StoragePostgres || cfg.Storage.PostgresDSN == "" {
		t.Fatalf("storage override missing %+v", cfg.Storage)
	}
	if cfg.Blob.Driver != blob.DriverS3 || cfg.Blob.S3.Bucket != "campaign-artifacts" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("blob override missing %+v", cfg.Blob)
	}
	if cfg.Recurrence.MaxAdHocRepeats != 12 || cfg.Schedule.ReconcileCron != "@hourly" {
		t.Fatalf("unexpected overrides %+v %+v", cfg.Recurrence, cfg.Schedule)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	bad := Default()
	if err := bad.ApplyEnv(mapEnv(map[string]string{"CAMPAIGNCORE_MAX_REPEATS": "five"})); err == nil {
		t.Fatalf("expected error for non-numeric override")
	}
	if err := Default().ApplyEnv(noEnv); err != nil {
		t.Fatalf("empty env should not fail: %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = core.StoragePostgres
	cfg.Blob.Driver = blob.DriverS3
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"postgres_dsn", "bucket", "log format"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	key := "CAMPAIGNCORE_TEST_DOTENV_VALUE"
	t.Cleanup(func() { _ = os.Unsetenv(key) })
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte(key+"=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := LoadEnvFiles(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("load env files: %v", err)
	}
	if got := os.Getenv(key); got != "from-dotenv" {
		t.Fatalf("expected dotenv value, got %q", got)
	}
	if err := LoadEnvFiles(filepath.Join(dir, "none")); err != nil {
		t.Fatalf("missing files should be skipped: %v", err)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept", "job", "j1")
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected one json record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "kept" || rec["job"] != "j1" {
		t.Fatalf("unexpected record %v", rec)
	}
	if _, err := (LogConfig{Level: "loud"}).NewLogger(&buf); err == nil {
		t.Fatalf("expected level error")
	}
}
