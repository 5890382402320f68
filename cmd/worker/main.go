package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chainworker/chainworker/internal/admin"
	"github.com/chainworker/chainworker/internal/config"
	"github.com/chainworker/chainworker/internal/controller"
	"github.com/chainworker/chainworker/internal/cot"
	"github.com/chainworker/chainworker/internal/events"
	"github.com/chainworker/chainworker/internal/logger"
	"github.com/chainworker/chainworker/internal/queueclient"
	"github.com/chainworker/chainworker/internal/shutdown"
	"github.com/chainworker/chainworker/internal/telemetry"
	"github.com/chainworker/chainworker/internal/uploader"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")

	log := logger.Get()
	log.Info().Msg("Starting chainworker...")

	if len(cfg.Run.TaskScript) == 0 {
		log.Fatal().Msg("run.taskscript must be configured")
	}
	// A marker left by a crashed run is never recovered, only noted.
	if _, err := os.Stat(filepath.Join(cfg.Run.WorkDir, "current_task_info.json")); err == nil {
		log.Warn().Msg("Stale current_task_info.json found from a previous run; it will not be recovered")
	}

	if cfg.Run.WorkerID == "" {
		host, _ := os.Hostname()
		cfg.Run.WorkerID = fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
	}

	// Redis backs telemetry heartbeats and the lifecycle event bus
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis unreachable, telemetry and event fan-out will be degraded")
	}
	pingCancel()

	bus := events.NewRedisPubSub(redisClient)

	queueClient := queueclient.New(cfg.Queue)
	verifier := cot.NewJWTVerifier([]byte(cfg.Run.CotSigningKey))
	artifactUploader := uploader.New(cfg.Queue.BaseURL, cfg.Queue.Timeout)

	// The telemetry publisher polls the controller's snapshot on every
	// heartbeat tick; the closure resolves ctrl after it is built below.
	var ctrl *controller.Controller
	publisher := telemetry.New(
		redisClient, bus,
		cfg.Run.WorkerID, cfg.Run.WorkerType,
		cfg.Run.ReclaimInterval, cfg.Run.ReclaimInterval*3,
		func() controller.Snapshot { return ctrl.Snapshot() },
	)

	ctrl = controller.New(&cfg.Run, queueClient, verifier, artifactUploader, publisher)

	coord := shutdown.New(ctrl)
	coord.Start()

	// os.Exit below skips deferred calls, so teardown past this point is
	// explicit and ordered rather than deferred.
	ctx, cancel := context.WithCancel(context.Background())

	publisher.Start(ctx)

	// Admin surface: healthz/status/metrics/ws on its own port
	var loopAlive atomic.Bool
	loopAlive.Store(true)

	adminSrv := admin.NewServer(cfg.Admin, cfg.Auth, ctrl, bus, loopAlive.Load)
	adminErr := adminSrv.Start(ctx)
	go func() {
		if err, ok := <-adminErr; ok && err != nil {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()

	log.Info().
		Str("worker_id", cfg.Run.WorkerID).
		Str("worker_type", cfg.Run.WorkerType).
		Str("queue", cfg.Queue.BaseURL).
		Msg("Worker started, entering run loop")

	ctrl.Run(coord.Drain)
	loopAlive.Store(false)

	log.Info().Msg("Run loop drained, shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminSrv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Admin server shutdown error")
	}

	publisher.Stop()
	coord.Stop()
	cancel()
	bus.Close()
	redisClient.Close()

	// The worker's own exit status is the last executed task's status, or
	// zero when it drained without running one.
	exitCode := ctrl.LastExitCode()
	log.Info().Int("exit_code", exitCode).Msg("Worker stopped")
	os.Exit(exitCode)
}
