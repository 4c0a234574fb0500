// Harvest Orchestrator — выполняет решения workflow.
//
// Orchestrator:
//   - Принимает решения через HTTP API и очередь workflows.decisions
//   - Сериализует выполнение одного решения распределённой блокировкой
//   - Вызывает scrapers с классифицированным retry и circuit breaker
//   - Сохраняет агрегат и публикует workflow.completed
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/Harvest/internal/api"
	"github.com/shaiso/Harvest/internal/breaker"
	"github.com/shaiso/Harvest/internal/config"
	"github.com/shaiso/Harvest/internal/executor"
	"github.com/shaiso/Harvest/internal/lock"
	"github.com/shaiso/Harvest/internal/mq"
	"github.com/shaiso/Harvest/internal/orchestrator"
	"github.com/shaiso/Harvest/internal/repo"
	"github.com/shaiso/Harvest/internal/scraper"
	"github.com/shaiso/Harvest/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting harvest-orchestrator")

	if err := run(logger); err != nil {
		logger.Error("harvest-orchestrator failed", "error", err)
		os.Exit(1)
	}
	logger.Info("harvest-orchestrator stopped")
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("database connected")

	executionRepo := repo.NewExecutionRepo(pool)
	processedDates := repo.NewProcessedDateRepo(pool)

	// Хранилище блокировок
	var store lock.Store
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		store = lock.NewRedisStore(client, "")
		logger.Info("redis connected")
	case config.LockBackendMemory:
		logger.Warn("in-memory lock store: locks are not shared between processes")
		store = lock.NewMemoryStore()
	default:
		store = repo.NewLockRepo(pool)
	}

	locker := lock.New(lock.Config{
		Store:         store,
		LockType:      cfg.LockType,
		Lease:         cfg.LockLease,
		PollInterval:  cfg.LockPollInterval,
		RenewInterval: cfg.LockRenewInterval,
		Logger:        logger,
	})
	// очистка истёкших записей (postgres, memory)
	go locker.SweepLoop(ctx, cfg.LockLease)

	breakers := breaker.NewManager(breaker.ManagerConfig{
		Disabled: !cfg.BreakerEnabled,
		Breaker: breaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			CoolDown:         cfg.BreakerCoolDown,
			Logger:           logger,
		},
		Logger: logger,
	})

	// RabbitMQ
	var (
		mqConn    *mq.Connection
		publisher *mq.Publisher
	)
	mqConn, err = mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, decisions run in-process", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher = mq.NewPublisher(mqConn, logger)
	}

	execCfg := executor.Config{
		Store:              executionRepo,
		Invoker:            scraper.New(scraper.Config{BaseURL: cfg.ScraperBaseURL, Logger: logger}),
		Breakers:           breakers,
		Policies:           &cfg.Retry,
		PoolSize:           cfg.PoolSize,
		DefaultTimeout:     cfg.ScraperDefaultTimeout,
		Timeouts:           cfg.ScraperTimeouts,
		SchedulingOverhead: cfg.SchedulingOverhead,
		Logger:             logger,
	}
	orchCfg := orchestrator.Config{
		Locker:         locker,
		ProcessedDates: processedDates,
		LockMaxWait:    cfg.LockMaxWait,
		Logger:         logger,
	}
	if publisher != nil {
		execCfg.Unpersisted = publisher
		orchCfg.Publisher = publisher
		orchCfg.Conn = mqConn
	}
	orchCfg.Executor = executor.New(execCfg)

	orch := orchestrator.New(orchCfg)
	if err := orch.Start(ctx); err != nil {
		return err
	}

	handler := api.NewHandler(api.Config{
		Submitter:  orch,
		Executions: executionRepo,
		Breakers:   breakers,
		Locker:     locker,
		Logger:     logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Ожидаем сигнал завершения
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		orch.Stop()
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Останавливаем orchestrator: ждёт решения в работе
	orch.Stop()
	return nil
}
