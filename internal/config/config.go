// Package config loads the campaigncored configuration from a YAML file,
// optional .env files and CAMPAIGNCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"campaigncore/internal/blob"
	"campaigncore/internal/core"
	"campaigncore/internal/recurrence"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CAMPAIGNCORE_"

// Defaults applied by Normalize.
const (
	DefaultListen        = "127.0.0.1:8080"
	DefaultReconcileCron = "*/15 * * * *"
	DefaultSQLitePath    = "campaigncore.db"
	DefaultBlobRoot      = "./blobdata"
	DefaultQueueSize     = 64
)

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// ScheduleConfig drives the periodic maintenance tick.
type ScheduleConfig struct {
	// ReconcileCron is a five-field cron expression. Empty disables the tick.
	ReconcileCron string `yaml:"reconcile_cron"`
	// CalendarSnapshots writes every published group's feed to blob storage on each tick.
	CalendarSnapshots bool `yaml:"calendar_snapshots"`
}

// BatchConfig tunes the background job runner.
type BatchConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// Config is the top-level service configuration.
type Config struct {
	Listen     string             `yaml:"listen"`
	Log        LogConfig          `yaml:"log"`
	Storage    core.StorageConfig `yaml:"storage"`
	Blob       blob.Config        `yaml:"blob"`
	Recurrence recurrence.Limits  `yaml:"recurrence"`
	Schedule   ScheduleConfig     `yaml:"schedule"`
	Batch      BatchConfig        `yaml:"batch"`
}

// Default returns a fully populated configuration.
func Default() *Config {
	cfg := &Config{
		Schedule: ScheduleConfig{ReconcileCron: DefaultReconcileCron},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = core.StorageSQLite
	}
	if c.Storage.Driver == core.StorageSQLite && c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = DefaultSQLitePath
	}
	if c.Blob.Driver == "" {
		c.Blob.Driver = blob.DriverFilesystem
	}
	if c.Blob.Driver == blob.DriverFilesystem && c.Blob.Root == "" {
		c.Blob.Root = DefaultBlobRoot
	}
	if c.Recurrence.MaxRepeats <= 0 {
		c.Recurrence.MaxRepeats = recurrence.DefaultLimits().MaxRepeats
	}
	if c.Recurrence.MaxAdHocRepeats <= 0 {
		c.Recurrence.MaxAdHocRepeats = recurrence.DefaultLimits().MaxAdHocRepeats
	}
	if c.Batch.QueueSize <= 0 {
		c.Batch.QueueSize = DefaultQueueSize
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn required for postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if !c.Blob.Driver.Valid() {
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.Blob.Driver == blob.DriverS3 && c.Blob.S3.Bucket == "" {
		errs = append(errs, errors.New("blob.s3.bucket required for s3 driver"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Load reads the YAML file at path. A missing file is created with defaults.
// Environment overrides are applied after the file is read.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg := Default()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return nil, err
		}
		cfg.Normalize()
		return cfg, nil
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".campaigncore-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadEnvFiles loads KEY=VALUE pairs from the given .env files into the
// process environment. Missing files are skipped; existing variables win.
func LoadEnvFiles(paths ...string) error {
	var present []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays CAMPAIGNCORE_* variables onto the configuration.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	var storageDriver, blobDriver string
	str("LISTEN", &c.Listen)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("STORAGE_DRIVER", &storageDriver)
	str("SQLITE_PATH", &c.Storage.SQLitePath)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("BLOB_DRIVER", &blobDriver)
	str("BLOB_ROOT", &c.Blob.Root)
	str("BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("BLOB_S3_REGION", &c.Blob.S3.Region)
	str("BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	str("BLOB_S3_PREFIX", &c.Blob.S3.Prefix)
	str("BLOB_S3_ACCESS_KEY_ID", &c.Blob.S3.AccessKeyID)
	str("BLOB_S3_SECRET_ACCESS_KEY", &c.Blob.S3.SecretAccessKey)
	flag("BLOB_S3_PATH_STYLE", &c.Blob.S3.PathStyle)
	str("RECONCILE_CRON", &c.Schedule.ReconcileCron)
	flag("CALENDAR_SNAPSHOTS", &c.Schedule.CalendarSnapshots)
	num("MAX_REPEATS", &c.Recurrence.MaxRepeats)
	num("MAX_ADHOC_REPEATS", &c.Recurrence.MaxAdHocRepeats)
	num("BATCH_QUEUE_SIZE", &c.Batch.QueueSize)
	if storageDriver != "" {
		c.Storage.Driver = core.StorageDriver(storageDriver)
	}
	if blobDriver != "" {
		c.Blob.Driver = blob.Driver(blobDriver)
	}
	return errors.Join(errs...)
}

// NewLogger builds the slog logger described by the log section.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", l.Format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
