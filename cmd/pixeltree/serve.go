package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/pixeltree/internal/config"
	"github.com/vango-dev/pixeltree/internal/errors"
	"github.com/vango-dev/pixeltree/pkg/canvas"
	"github.com/vango-dev/pixeltree/pkg/middleware"
	"github.com/vango-dev/pixeltree/pkg/persist"
	"github.com/vango-dev/pixeltree/pkg/server"
)

type serveOptions struct {
	configPath string
	addr       string
	cooldown   time.Duration
	data       string
	logLevel   string

	// cooldownSet distinguishes --cooldown=0s from an absent flag.
	cooldownSet bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the canvas server",
		Long: `Run the pixel tree server.

The grid is restored from the newest usable snapshot, checkpointed
periodically while running, and saved once more on SIGINT or SIGTERM.

Examples:
  pixeltree serve
  pixeltree serve --config pixeltree.toml
  pixeltree serve --addr :9000 --cooldown 1s --data /var/lib/pixeltree/grid.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.cooldownSet = cmd.Flags().Changed("cooldown")
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "", "Listen address (default from config, :8080)")
	cmd.Flags().DurationVar(&opts.cooldown, "cooldown", 0, "Minimum interval between paints per participant")
	cmd.Flags().StringVar(&opts.data, "data", "", "Primary snapshot file (default from config)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	return cmd
}

// loadServeConfig loads the config file and applies flag overrides.
func loadServeConfig(opts serveOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.addr != "" {
		cfg.Server.Address = opts.addr
	}
	if opts.cooldownSet {
		cfg.RateLimit.Cooldown.Duration = opts.cooldown
	}
	if opts.data != "" {
		cfg.Persistence.Path = opts.data
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the [log] section.
func newLogger(c config.LogConfig, w io.Writer) *slog.Logger {
	level, err := config.ParseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// openStores opens the primary file store and any configured mirrors. On
// error every store opened so far is closed.
func openStores(ctx context.Context, cfg *config.Config) (primary persist.Store, mirrors []persist.Store, err error) {
	file, err := persist.NewFileStore(cfg.Persistence.Path)
	if err != nil {
		return nil, nil, errors.New("P202").WithDetail(cfg.Persistence.Path).Wrap(err)
	}
	primary = file

	if p := cfg.Persistence.SQLite.Path; p != "" {
		db, err := persist.OpenSQLiteStore(ctx, p, cfg.Persistence.SQLite.Retain)
		if err != nil {
			primary.Close()
			return nil, nil, errors.New("P202").WithDetail(p).Wrap(err)
		}
		mirrors = append(mirrors, db)
	}

	if s3c := cfg.Persistence.S3; s3c.Enabled() {
		client := persist.NewS3Client(persist.S3Options{
			Region:    s3c.Region,
			Endpoint:  s3c.Endpoint,
			PathStyle: s3c.PathStyle,
			AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		})
		mirrors = append(mirrors, persist.NewS3Store(client, s3c.Bucket, s3c.Key))
	}
	return primary, mirrors, nil
}

// untracedPaths are excluded from request spans.
var untracedPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

func runServe(ctx context.Context, opts serveOptions, stderr io.Writer) error {
	cfg, err := loadServeConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, stderr)
	slog.SetDefault(logger)
	for _, key := range cfg.UnknownKeys() {
		logger.Warn("unknown config key ignored", "key", key, "file", cfg.Path())
	}

	grid := canvas.New(cfg.Grid.Width, cfg.Grid.Height, cfg.Grid.Background)

	primary, mirrors, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}

	var reg *prometheus.Registry
	if cfg.MetricsEnabled() {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	pcfg := persist.Config{
		Primary:    primary,
		Mirrors:    mirrors,
		Interval:   cfg.Persistence.Interval.Duration,
		Background: cfg.Grid.Background,
		TracerName: cfg.Telemetry.TracerName,
		Logger:     logger,
	}
	if reg != nil {
		pcfg.Metrics = persist.NewMetrics(reg, "pixeltree")
	}
	manager := persist.NewManager(grid, pcfg)
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error("closing stores", "error", err)
		}
	}()

	pixels, degraded := manager.Load(ctx)
	if err := grid.Restore(pixels); err != nil {
		return errors.New("P201").Wrap(err)
	}
	if degraded {
		logger.Warn("starting from an empty tree", "path", cfg.Persistence.Path)
	}

	scfg := cfg.ServerConfig()
	scfg.Registry = reg
	scfg.Logger = logger
	scfg.Middleware = append(scfg.Middleware, middleware.OpenTelemetry(
		middleware.WithTracerName(cfg.Telemetry.TracerName),
		middleware.WithRequestFilter(func(r *http.Request) bool {
			return !untracedPaths[r.URL.Path]
		}),
	))
	if reg != nil {
		scfg.Middleware = append(scfg.Middleware, middleware.Prometheus(middleware.WithRegistry(reg)))
	}
	srv, err := server.New(grid, scfg)
	if err != nil {
		return errors.New("P102").Wrap(err)
	}

	// The checkpoint loop outlives the server so the final checkpoint sees
	// every paint accepted before shutdown.
	persistCtx, stopPersist := context.WithCancel(context.Background())
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		manager.Run(persistCtx, cfg.Server.ShutdownTimeout.Duration)
	}()

	logger.Info("pixeltree starting",
		"version", version,
		"address", cfg.Server.Address,
		"grid", fmt.Sprintf("%dx%d", grid.Width(), grid.Height()),
		"cooldown", cfg.RateLimit.Cooldown.Duration,
		"checkpoint_interval", manager.Interval(),
		"mirrors", len(mirrors),
	)

	// Run returns after every websocket handler has finished, so the final
	// checkpoint below sees the last committed paint.
	runErr := srv.Run(ctx)
	stopPersist()
	<-persistDone

	if runErr != nil {
		return errors.FromError(runErr, "P300")
	}
	success(stderr, "Stopped cleanly")
	return nil
}
