// Command campaigncored serves the campaign hierarchy over HTTP, runs the
// publication job runner and sweeps repeating events on a cron schedule.
package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"campaigncore/internal/adapters/httpapi"
	"campaigncore/internal/batch"
	"campaigncore/internal/blob"
	"campaigncore/internal/config"
	"campaigncore/internal/core"
	"campaigncore/internal/schedule"
)

const (
	expvarName      = "campaigncore_service"
	redactedValue   = "REDACTED"
	shutdownTimeout = 15 * time.Second
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			exitFunc(0)
			return
		}
		fmt.Fprintf(os.Stderr, "campaigncored: %v\n", err)
		exitFunc(1)
	}
}

type options struct {
	configPath  string
	envFiles    []string
	listen      string
	checkConfig bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("campaigncored", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.configPath, "config", "c", "campaigncore.yaml", "path to the YAML configuration file")
	fs.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the configuration")
	fs.StringVar(&opts.listen, "listen", "", "override the listen address")
	fs.BoolVar(&opts.checkConfig, "check-config", false, "print the effective configuration and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func loadConfig(opts options) (*config.Config, error) {
	if err := config.LoadEnvFiles(opts.envFiles...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// redacted returns a copy of cfg with credentials blanked.
func redacted(cfg config.Config) config.Config {
	if cfg.Storage.PostgresDSN != "" {
		cfg.Storage.PostgresDSN = redactedValue
	}
	if cfg.Blob.S3.SecretAccessKey != "" {
		cfg.Blob.S3.SecretAccessKey = redactedValue
	}
	if cfg.Blob.S3.SessionToken != "" {
		cfg.Blob.S3.SessionToken = redactedValue
	}
	return cfg
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if opts.checkConfig {
		out, err := yaml.Marshal(redacted(*cfg))
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	}

	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return err
	}

	store, closeStore, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close storage", "error", err)
		}
	}()

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return err
	}
	name := expvarName
	if expvar.Get(name) != nil {
		name = ""
	}

	svc := core.NewService(store,
		core.WithLogger(logger),
		core.WithMetricsRecorder(core.MultiMetricsRecorder{prom, core.NewExpvarMetricsRecorder(name)}),
		core.WithAuditRecorder(core.SlogAuditRecorder{Logger: logger.With("component", "audit")}),
		core.WithLimits(cfg.Recurrence),
		core.WithBlobStore(blobs),
		core.WithRunnerOptions(
			batch.WithCheckpointer(batch.NewBlobCheckpointer(blobs)),
			batch.WithQueueSize(cfg.Batch.QueueSize),
		),
	)

	resumed, err := svc.ResumeJobs(ctx)
	if err != nil {
		return fmt.Errorf("resume jobs: %w", err)
	}
	if resumed > 0 {
		logger.Info("resumed publication jobs", "count", resumed)
	}
	runner := svc.Runner()
	runner.Start()

	var sched *schedule.Scheduler
	if cfg.Schedule.ReconcileCron != "" {
		sched, err = schedule.New(cfg.Schedule.ReconcileCron, svc,
			schedule.WithLogger(logger.With("component", "scheduler")),
			schedule.WithCalendarSnapshots(cfg.Schedule.CalendarSnapshots),
		)
		if err != nil {
			_ = runner.Stop(context.Background())
			return err
		}
		sched.Start()
		logger.Info("scheduler started", "spec", cfg.Schedule.ReconcileCron, "next", sched.Next())
	}

	mux := http.NewServeMux()
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.Handle("/", httpapi.NewHandler(svc, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger))

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		if sched != nil {
			_ = sched.Stop(context.Background())
		}
		_ = runner.Stop(context.Background())
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
	logger.Info("listening", "addr", ln.Addr().String(), "storage", string(cfg.Storage.Driver), "blob", string(cfg.Blob.Driver))

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("runner shutdown: %w", err))
	}
	logger.Info("stopped")
	return errors.Join(append([]error{runErr}, errs...)...)
}
