// Package control assembles the pipeline: storage, event channel, ingest
// writer, scoring orchestrator and the HTTP surface.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/oybaeko/HubSpotPipeline/internal/api"
	"github.com/oybaeko/HubSpotPipeline/internal/core/config"
	"github.com/oybaeko/HubSpotPipeline/internal/core/retry"
	"github.com/oybaeko/HubSpotPipeline/internal/core/worker"
	"github.com/oybaeko/HubSpotPipeline/internal/infra/storage"
	"github.com/oybaeko/HubSpotPipeline/internal/infra/storage/memory"
	"github.com/oybaeko/HubSpotPipeline/internal/infra/storage/postgres"
	"github.com/oybaeko/HubSpotPipeline/internal/ingest"
	"github.com/oybaeko/HubSpotPipeline/internal/scoring"

	redisclient "github.com/oybaeko/HubSpotPipeline/internal/infra/redis"
)

// Config holds the assembled application configuration.
type Config struct {
	Environment config.Environment
	Port        int
	Database    postgres.Config
	Redis       redisclient.Config
	Ingest      config.IngestConfig
	Retry       config.RetryConfig
	Retention   config.RetentionConfig
	LogLevel    *slog.LevelVar
	Source      ingest.Source
}

// Pipeline is the running application.
type Pipeline struct {
	cfg          Config
	db           *postgres.DB
	redisClient  *redisclient.Client
	consumer     *redisclient.Consumer
	orchestrator *scoring.Orchestrator
	writer       *ingest.Writer
	registry     storage.RegistryRepository
	pruner       *worker.Pruner
	server       *api.Server
	log          *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Pipeline with all dependencies initialized. With no database
// URL configured it falls back to in-memory storage; with no Redis URL the
// event channel is disabled and scoring must be triggered over HTTP.
func New(cfg Config) (*Pipeline, error) {
	log := slog.Default()

	var (
		registryRepo storage.RegistryRepository
		recordRepo   storage.RecordRepository
		scoringRepo  storage.ScoringRepository
		db           *postgres.DB
		health       []api.HealthChecker
	)

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		registryRepo = postgres.NewRegistryRepo(db)
		recordRepo = postgres.NewRecordRepo(db)
		scoringRepo = postgres.NewScoringRepo(db)
		health = append(health, db.Health)
		log.Info("using PostgreSQL storage")
	} else {
		store := memory.NewStore()
		registryRepo = memory.NewRegistryRepo(store)
		recordRepo = memory.NewRecordRepo(store)
		scoringRepo = memory.NewScoringRepo(store)
		log.Info("using in-memory storage")
	}

	var (
		redisCli  *redisclient.Client
		publisher *redisclient.Publisher
		consumer  *redisclient.Consumer
	)
	if cfg.Redis.URL != "" {
		var err error
		redisCli, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		publisher = redisclient.NewPublisher(redisCli, cfg.Redis.Stream)
		consumer = redisclient.NewConsumer(redisCli, cfg.Redis, log)
		log.Info("event channel enabled", "stream", cfg.Redis.Stream)
	} else {
		log.Warn("no redis configured, completion events disabled")
	}

	exec := retry.NewExecutor(retry.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
	}, log)

	var events ingest.EventPublisher
	if publisher != nil {
		events = publisher
	}
	writer := ingest.NewWriter(registryRepo, recordRepo, exec, events, log)
	orchestrator := scoring.NewOrchestrator(registryRepo, recordRepo, scoringRepo, exec, log)

	source := cfg.Source
	if source == nil {
		source = &ingest.StaticSource{}
	}

	pruner := worker.NewPruner(cfg.Retention.Period,
		registryRepo, recordRepo, scoringRepo, log)

	server := api.NewServer(api.Config{
		Port:           cfg.Port,
		DefaultLimit:   cfg.Ingest.DefaultLimit,
		IngestDeadline: cfg.Ingest.Deadline,
	}, writer, orchestrator, registryRepo, source, health, cfg.LogLevel, log)

	return &Pipeline{
		cfg:          cfg,
		db:           db,
		redisClient:  redisCli,
		consumer:     consumer,
		orchestrator: orchestrator,
		writer:       writer,
		registry:     registryRepo,
		pruner:       pruner,
		server:       server,
		log:          log,
		done:         make(chan struct{}),
	}, nil
}

// Writer exposes the snapshot writer for CLI use.
func (p *Pipeline) Writer() *ingest.Writer { return p.writer }

// Orchestrator exposes the scoring orchestrator for CLI use.
func (p *Pipeline) Orchestrator() *scoring.Orchestrator { return p.orchestrator }

// Registry exposes the snapshot registry for CLI use.
func (p *Pipeline) Registry() storage.RegistryRepository { return p.registry }

// Start runs the event consumer and the HTTP server until Stop is called.
func (p *Pipeline) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	if p.db != nil {
		p.db.StartMetricsCollector(ctx)
	}

	go p.pruner.Start(ctx)

	if p.consumer != nil {
		go func() {
			defer close(p.done)
			if err := p.consumer.Run(ctx, p.orchestrator.HandleEvent); err != nil &&
				ctx.Err() == nil {
				p.log.Error("event consumer stopped", "error", err)
			}
		}()
	} else {
		close(p.done)
	}

	p.log.Info("pipeline started", "port", p.cfg.Port, "environment", p.cfg.Environment)
	if err := p.server.Start(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the pipeline down, waiting for the consumer to drain.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	if err := p.server.Stop(ctx); err != nil {
		p.log.Warn("http shutdown error", "error", err)
	}

	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		p.log.Warn("event consumer did not drain in time")
	case <-ctx.Done():
	}

	if p.redisClient != nil {
		_ = p.redisClient.Close()
	}
	if p.db != nil {
		_ = p.db.Close()
	}
	p.log.Info("pipeline stopped")
	return nil
}
