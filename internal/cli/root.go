package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/oybaeko/HubSpotPipeline/internal/control"
	"github.com/oybaeko/HubSpotPipeline/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "hubspot-pipeline",
	Short: "CRM snapshot pipeline service",
	Long:  `Ingests periodic CRM snapshots into the warehouse and triggers idempotent scoring per completed snapshot.`,
	Run:   runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// setup loads config and initializes logging; shared by all subcommands.
func setup() (*config.AppConfig, *slog.LevelVar) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	if isDebug || cfg.Logging.Level == "debug" {
		level.Set(slog.LevelDebug)
	}

	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})

	return cfg, level
}

func buildPipeline(cfg *config.AppConfig, level *slog.LevelVar) *control.Pipeline {
	env, err := config.ParseEnvironment(cfg.Environment)
	if err != nil {
		slog.Error("Invalid environment", "error", err)
		os.Exit(1)
	}

	app, err := control.New(control.Config{
		Environment: env,
		Port:        cfg.Server.Port,
		Database:    cfg.Database,
		Redis:       cfg.Redis,
		Ingest:      cfg.Ingest,
		Retry:       cfg.Retry,
		Retention:   cfg.Retention,
		LogLevel:    level,
	})
	if err != nil {
		slog.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}
	return app
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, level := setup()
	app := buildPipeline(cfg, level)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	slog.Info("Pipeline started", "config", cfgPath)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
	case err := <-errChan:
		if err != nil {
			slog.Error("Pipeline failed", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}
