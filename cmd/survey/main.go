// Command survey runs the scan processing service: the HTTP API, the
// processing workers and the stuck-scan reconciler.
//
// Settings come from SURVEY_* environment variables; flags override them.
// "survey migrate <cmd>" manages the database schema instead of serving.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/survey.report/internal/api"
	"github.com/banshee-data/survey.report/internal/config"
	"github.com/banshee-data/survey.report/internal/db"
	"github.com/banshee-data/survey.report/internal/monitoring"
	"github.com/banshee-data/survey.report/internal/objectstore"
	"github.com/banshee-data/survey.report/internal/survey/pipeline"
	"github.com/banshee-data/survey.report/internal/survey/storage/sqlite"
	"github.com/banshee-data/survey.report/internal/timeutil"
	"github.com/banshee-data/survey.report/internal/version"
)

type options struct {
	cfg         *config.ServiceConfig
	logMode     string
	showVersion bool
	args        []string
}

// parseOptions layers flags over cfg. Flag defaults are the values already
// in cfg, so an unset flag keeps the environment setting.
func parseOptions(args []string, cfg *config.ServiceConfig, out io.Writer) (*options, error) {
	fs := flag.NewFlagSet("survey", flag.ContinueOnError)
	fs.SetOutput(out)
	o := &options{cfg: cfg}

	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.TuningPath, "tuning", cfg.TuningPath, "tuning JSON file (empty uses built-in defaults)")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "object store backend: fs, minio or gcs")
	fs.StringVar(&cfg.StoreDir, "store-dir", cfg.StoreDir, "root directory for the fs object store")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent processing workers")
	fs.Int64Var(&cfg.MaxUploadBytes, "max-upload-bytes", cfg.MaxUploadBytes, "largest accepted upload")
	fs.DurationVar(&cfg.StuckAfter, "stuck-after", cfg.StuckAfter, "requeue scans idle in an active status this long")
	fs.StringVar(&o.logMode, "log", "prod", "log preset: prod or dev")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: survey [flags]\n       survey migrate <command>\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	o.args = fs.Args()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func main() {
	cfg, err := config.LoadServiceConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	opts, err := parseOptions(os.Args[1:], cfg, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
	if opts.showVersion {
		fmt.Printf("survey %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if len(opts.args) > 0 && opts.args[0] == "migrate" {
		if err := db.RunMigrateCommand(opts.args[1:], cfg.DBPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if len(opts.args) > 0 {
		log.Fatalf("unknown command %q", opts.args[0])
	}

	logger, err := monitoring.NewZapLogger(opts.logMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	monitoring.SetLogger(monitoring.NewZapLogf(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		monitoring.Logf("[survey] %v", err)
		os.Exit(1)
	}
	monitoring.Logf("[survey] graceful shutdown complete")
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func run(ctx context.Context, cfg *config.ServiceConfig) error {
	shutdownTracing, err := monitoring.InitTracing(ctx, "survey", version.Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			monitoring.Logf("[survey] tracing shutdown: %v", err)
		}
	}()

	tuning, err := loadTuning(cfg.TuningPath)
	if err != nil {
		return fmt.Errorf("tuning: %w", err)
	}

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer database.Close()

	objects, err := objectstore.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}
	if c, ok := objects.(io.Closer); ok {
		defer c.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := monitoring.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	clock := timeutil.RealClock{}
	store := sqlite.NewStore(database.DB)
	dispatcher := pipeline.NewDispatcher(&pipeline.Processor{
		Scans:          store,
		Objects:        objects,
		Tuning:         tuning,
		Clock:          clock,
		Metrics:        metrics,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, cfg.Workers, cfg.QueueSize)
	reconciler := &pipeline.Reconciler{
		Scans:      store,
		Queue:      dispatcher,
		Clock:      clock,
		StuckAfter: cfg.StuckAfter,
		Every:      cfg.ReconcileEvery,
	}

	srv := api.NewServer(api.Config{
		Store:   store,
		Objects: objects,
		Queue:   dispatcher,
		Exporter: &pipeline.Exporter{
			Plans: store, Objects: objects, Clock: clock, Metrics: metrics,
		},
		Clock:          clock,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Gatherer:       reg,
	})
	mux := srv.ServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return reconciler.Start(gctx) })
	g.Go(func() error {
		monitoring.Logf("[survey] listening on %s (store %s, %d workers)", cfg.Listen, cfg.Store, cfg.Workers)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		monitoring.Logf("[survey] shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("[survey] HTTP server shutdown error: %v", err)
			return server.Close()
		}
		return nil
	})
	return g.Wait()
}
