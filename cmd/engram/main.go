// Package main is the entry point for the engram CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/cron"
	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/gateway"
	"github.com/engramdev/engram/internal/memory"
	"github.com/engramdev/engram/internal/store/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "engram",
		Short:         "Long-term conversational memory for AI assistants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), serveCmd(), compressCmd(), configCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("engram %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the memory gateway and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log)

			shutdownTracing, err := initTracing(cfg.Tracing)
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(cfg.Store, logger)
			if err != nil {
				return err
			}

			eng, err := engine.New(store, nil, nil, cfg.Engine, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var gw *gateway.Gateway
			if cfg.Gateway.Addr != "" {
				gw = gateway.New(eng, gateway.Config{
					Addr:         cfg.Gateway.Addr,
					AuthToken:    cfg.Gateway.AuthToken,
					ReadTimeout:  cfg.Gateway.ReadTimeout,
					WriteTimeout: cfg.Gateway.WriteTimeout,
				}, logger)
				if err := gw.Start(); err != nil {
					return err
				}
			} else {
				logger.Warn("gateway disabled: no listen address configured")
			}

			var sched *cron.Scheduler
			if cfg.Cron.Enabled {
				sched = cron.NewScheduler(logger)
				jobs := []cron.Job{
					&cron.CompressionSweepJob{
						Users:        store,
						Compressor:   eng,
						Logger:       logger,
						ScheduleExpr: cfg.Cron.CompressionSchedule,
					},
					&cron.AccessRecordCleanupJob{
						Store:        store,
						Retention:    cfg.Cron.AccessRetention,
						Logger:       logger,
						ScheduleExpr: cfg.Cron.CleanupSchedule,
					},
				}
				for _, j := range jobs {
					if err := sched.RegisterJob(j); err != nil {
						return err
					}
				}
				if err := sched.Start(); err != nil {
					return err
				}
			}

			logger.Info("engram started", "version", version)
			<-ctx.Done()
			logger.Info("shutting down")

			graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if sched != nil {
				if err := sched.Stop(graceCtx); err != nil {
					logger.Error("scheduler shutdown failed", "error", err)
				}
			}
			if gw != nil {
				if err := gw.Stop(graceCtx); err != nil {
					logger.Error("gateway shutdown failed", "error", err)
				}
			}
			if shutdownTracing != nil {
				if err := shutdownTracing(graceCtx); err != nil {
					logger.Error("trace exporter shutdown failed", "error", err)
				}
			}
			if err := closeStore(); err != nil {
				logger.Error("store close failed", "error", err)
			}
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

func compressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress",
		Short: "Run a one-shot compression pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			sessionID, _ := cmd.Flags().GetString("session")
			if (userID == "") == (sessionID == "") {
				return fmt.Errorf("exactly one of --user or --session is required")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log)

			store, closeStore, err := openStore(cfg.Store, logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			eng, err := engine.New(store, nil, nil, cfg.Engine, logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if sessionID != "" {
				sum, err := eng.CompressSession(ctx, sessionID)
				if err != nil {
					return err
				}
				if sum == nil {
					fmt.Println("Nothing old enough to compress.")
					return nil
				}
				fmt.Printf("Compressed %d tokens into %d (summary %s)\n",
					sum.OriginalTokens, sum.TokenCount, sum.ID)
				return nil
			}

			sums, err := eng.CompressUserMemories(ctx, userID)
			if err != nil {
				return err
			}
			if len(sums) == 0 {
				fmt.Println("Nothing old enough to compress.")
				return nil
			}
			for _, sum := range sums {
				fmt.Printf("session %s: %d tokens -> %d (summary %s)\n",
					sum.SessionID, sum.OriginalTokens, sum.TokenCount, sum.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	cmd.Flags().String("user", "", "Compress every session of this user")
	cmd.Flags().String("session", "", "Compress one session")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := config.Load(args[0]); err != nil {
				return err
			}
			fmt.Println("Configuration OK")
			return nil
		},
	})
	return cmd
}

// loadConfig reads the --config flag, falling back to the standard search
// path. A .env file next to the working directory is loaded first so that
// ${VAR} references in the YAML can resolve against it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_ = godotenv.Load() // optional

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		resolved, err := resolveConfigPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	return config.Load(path)
}

// resolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/engram/engram.yaml → ./engram.yaml
func resolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "engram", "engram.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "engram", "engram.yaml"))
	}

	candidates = append(candidates, "engram.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (memory.Store, func() error, error) {
	if cfg.Path == "" {
		logger.Warn("no store path configured, using in-memory store")
		return memory.NewMemStore(), func() error { return nil }, nil
	}
	st, err := sqlite.Open(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("opened store", "path", cfg.Path)
	return st, st.Close, nil
}

// initTracing wires the global OTLP trace exporter. The returned shutdown
// func flushes buffered spans; it is nil when tracing is disabled.
func initTracing(cfg config.TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("engram"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
