// @title build-orchestrator API
// @version 1.0
// @description Submits build jobs, reports their state and approves paused jobs.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"build-orchestrator/internal/callback"
	"build-orchestrator/internal/clock"
	"build-orchestrator/internal/config"
	"build-orchestrator/internal/generator"
	"build-orchestrator/internal/github"
	"build-orchestrator/internal/owner"
	"build-orchestrator/internal/planner"
	"build-orchestrator/internal/repository/postgresql"
	"build-orchestrator/internal/safety"
	"build-orchestrator/internal/service"
	httptransport "build-orchestrator/internal/transport/http"
	"build-orchestrator/internal/worker"
)

const (
	reapInterval    = 30 * time.Second
	reapPerLane     = 100
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestrator:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		httpAddr   string
		workers    int
	)
	pflag.StringVar(&configPath, "config", os.Getenv("ORCHESTRATOR_CONFIG"), "path to YAML config file")
	pflag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides config)")
	pflag.IntVar(&workers, "workers", 0, "queue workers (overrides config)")
	pflag.Parse()

	cfg, err := config.Load(configPath, os.Getenv)
	if err != nil {
		return err
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if workers > 0 {
		cfg.Workers = workers
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting orchestrator",
		"http_addr", cfg.HTTPAddr,
		"workers", cfg.Workers,
		"redis_addr", cfg.RedisAddr,
		"queue_key", cfg.RedisQueueKey,
		"processing_key", cfg.RedisProcessingKey,
		"postgres_dsn", config.RedactDSN(cfg.PostgresDSN),
		"generation", cfg.AnthropicAPIKey != "",
	)

	// Postgres
	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("pg: %w", err)
	}
	defer pool.Close()
	if err := postgresql.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	// DI
	clk := clock.Real()
	states := postgresql.NewJobStateRepository(pool)
	deadLetters := postgresql.NewDeadLetterRepository(pool)
	queue := service.NewRedisPriorityQueue(rdb, service.QueueConfigFor(cfg.RedisQueueKey, cfg.RedisProcessingKey, cfg.VisibilityTimeout))
	wakes := service.NewRedisWakeQueue(rdb, cfg.RedisWakeKey)

	notifier := callback.New(callback.Config{
		Secret:    cfg.CallbackSecret,
		Timeout:   cfg.CallbackTimeout,
		Attempts:  cfg.CallbackAttempts,
		BaseDelay: cfg.CallbackBaseDelay,
		Clock:     clk,
		Logger:    logger,
	})

	ghClient, err := github.NewClient(github.Config{BaseURL: cfg.GitHubAPIURL, Token: cfg.GitHubToken})
	if err != nil {
		return err
	}

	deps := owner.Deps{
		Store:     states,
		Scheduler: wakes,
		Notifier:  notifier,
		Planner:   planner.New(),
		Writer:    github.NewWriter(ghClient),
		Gate:      safety.NewGate(cfg.ProtectedBranches),
		Clock:     clk,
		Logger:    logger,
		Config: owner.Config{
			StallThreshold: cfg.StallThreshold,
			MaxWakeDrives:  cfg.MaxWakeDrives,
			Pricing: owner.Pricing{
				InputPerMTok:  cfg.PriceInputPerMTok,
				OutputPerMTok: cfg.PriceOutputPerMTok,
			},
		},
	}
	if cfg.AnthropicAPIKey != "" {
		deps.Generator = generator.NewAnthropic(generator.Config{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			BaseURL: cfg.AnthropicBaseURL,
		})
	}
	registry := owner.NewRegistry(deps)

	watchdog := owner.NewWatchdog(registry, wakes, states, clk, logger, owner.WatchdogConfig{
		PollInterval:  cfg.WakePollInterval,
		SweepInterval: cfg.WatchdogInterval,
		Concurrency:   cfg.WatchdogConcurrency,
	})
	dispatcher := worker.NewDispatcher(registry, deadLetters, clk, logger, worker.DispatcherConfig{
		MaxRetries:   cfg.MaxRetries,
		StartTimeout: cfg.StartTimeout,
	})
	workerPool := worker.NewPool(queue, dispatcher, cfg.Workers, logger)

	svc := service.NewBuildService(states, deadLetters, registry, queue)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Routes(httptransport.NewHandler(svc, logger), []byte(cfg.JWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		workerPool.Run(gctx)
		return nil
	})

	g.Go(func() error {
		watchdog.Run(gctx)
		return nil
	})

	// Reaper: returns messages whose worker died mid-delivery to their lane.
	g.Go(func() error {
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := queue.RequeueStale(gctx, reapPerLane)
				if err != nil {
					logger.Warn("requeue stale", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("requeued stale messages", "count", n)
				}
			}
		}
	})

	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	watchdog.Wait()
	notifier.Wait()
	logger.Info("orchestrator stopped")
	return err
}
