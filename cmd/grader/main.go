package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"labyrinth/internal/common/cache"
	"labyrinth/internal/common/db"
	"labyrinth/internal/common/http/middleware"
	"labyrinth/internal/common/mq"
	"labyrinth/internal/common/storage"
	"labyrinth/internal/grading/controller"
	"labyrinth/internal/grading/repository"
	"labyrinth/internal/grading/service"
	"labyrinth/internal/maze"
	"labyrinth/internal/metrics"
	"labyrinth/internal/sandbox"
	"labyrinth/internal/sandbox/docker"
	"labyrinth/internal/sandbox/engine"
	"labyrinth/internal/validator"
	"labyrinth/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/grader.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "grader stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()
	gin.SetMode(gin.ReleaseMode)

	if appCfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	mysqlDB, err := db.NewMySQLWithConfig(appCfg.Database.toMySQLConfig())
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	var cacheClient cache.Cache
	var submitLimiter *cache.FixedWindowLimiter
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(appCfg.Redis.toCacheConfig())
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		cacheClient = redisCache
		submitLimiter = cache.NewFixedWindowLimiter(redisCache, appCfg.Grading.SubmitWindow, time.Second)
	} else {
		logger.Warn(ctx, "redis not configured, status cache and submit limits disabled")
	}

	var objStorage storage.ObjectStorage
	bucket := appCfg.MinIO.Bucket
	if appCfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio failed: %w", err)
		}
		objStorage = minioStorage
	} else {
		logger.Warn(ctx, "minio not configured, artifacts are kept in memory")
		objStorage = storage.NewMemoryStorage()
		bucket = "labyrinth"
	}
	if err := objStorage.EnsureBucket(ctx, bucket); err != nil {
		return fmt.Errorf("ensure bucket failed: %w", err)
	}
	artifacts, err := repository.NewArtifactRepository(objStorage, bucket)
	if err != nil {
		return fmt.Errorf("init artifact repository failed: %w", err)
	}

	var mqClient *mq.KafkaQueue
	if len(appCfg.Kafka.Brokers) > 0 {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
	} else {
		logger.Warn(ctx, "kafka not configured, intake topic and status events disabled")
	}

	extra, err := loadMazes(appCfg.Maze.Dir)
	if err != nil {
		return err
	}
	catalog := maze.NewCatalog(extra...)

	collector := metrics.NewCollector()
	mazeEngine := maze.NewEngine(maze.WithTTL(appCfg.Maze.SessionTTL), maze.WithObserver(collector))
	sessionLimiter := middleware.NewSessionLimiter(appCfg.Grading.SessionRPS, appCfg.Grading.SessionBurst)

	deps := service.Deps{
		Submissions: repository.NewSubmissionRepository(mysqlDB),
		Mazes:       repository.NewMazeRepository(mysqlDB, cacheClient, catalog),
		Artifacts:   artifacts,
		Engine:      mazeEngine,
		Validator:   validator.New(),
		Recorder:    collector,
	}
	if cacheClient != nil {
		deps.Status = repository.NewStatusRepository(cacheClient, appCfg.Grading.StatusTTL)
	}
	if mqClient != nil {
		deps.Events = repository.NewMQStatusEventPublisher(mqClient, appCfg.Kafka.StatusTopic)
	}

	queue := service.NewQueue()
	svc := service.NewService(queue, deps, submitLimiter, service.Config{
		SubmitLimit:  appCfg.Grading.SubmitLimit,
		SubmitWindow: appCfg.Grading.SubmitWindow,
	})
	router := controller.NewRouter(controller.RouterConfig{
		Engine:  mazeEngine,
		Service: svc,
		Limiter: sessionLimiter,
		Metrics: collector,
	})

	provider, err := buildProvider(ctx, appCfg.Sandbox, router)
	if err != nil {
		return err
	}
	deps.Provider = provider
	pool := service.NewPool(queue, appCfg.Grading.Workers, deps, service.WorkerConfig{
		CallbackURL:     appCfg.Grading.CallbackURL,
		Limits:          appCfg.Sandbox.Limits,
		PersistTimeout:  appCfg.Grading.PersistTimeout,
		OnSessionClosed: sessionLimiter.Forget,
	})

	if mqClient != nil {
		intake := service.NewIntakeHandler(svc)
		if err := mqClient.SubscribeWithOptions(ctx, appCfg.Kafka.IntakeTopic, intake.HandleMessage, appCfg.Kafka.subscribeOptions()); err != nil {
			return fmt.Errorf("subscribe kafka failed: %w", err)
		}
		if err := mqClient.Start(); err != nil {
			return fmt.Errorf("start kafka consumer failed: %w", err)
		}
		defer func() {
			_ = mqClient.Stop()
		}()
	}

	httpServer := &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(shutdownCtx)
	g.Go(func() error {
		logger.Info(ctx, "grader http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("provider", provider.Name()),
			zap.Int("workers", pool.Size()),
		)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return pool.Run(gctx)
	})
	g.Go(func() error {
		mazeEngine.Janitor(gctx, appCfg.Maze.JanitorInterval)
		return nil
	})
	g.Go(func() error {
		pruneLimiter(gctx, sessionLimiter, appCfg.Maze.JanitorInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "shutdown signal received")
		queue.Close()
		sctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			logger.Error(ctx, "http server shutdown failed", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// buildProvider returns the configured sandbox. The namespace provider serves
// look/move callbacks straight from handler.
func buildProvider(ctx context.Context, cfg SandboxConfig, handler http.Handler) (sandbox.Provider, error) {
	switch cfg.Provider {
	case providerDocker:
		p, err := docker.New(cfg.toDockerConfig())
		if err != nil {
			return nil, fmt.Errorf("init docker provider failed: %w", err)
		}
		if err := p.EnsureNetwork(ctx); err != nil {
			return nil, fmt.Errorf("ensure docker network failed: %w", err)
		}
		return p, nil
	default:
		engineCfg := cfg.toEngineConfig()
		engineCfg.Upstream = handler
		p, err := engine.NewProvider(engineCfg)
		if err != nil {
			return nil, fmt.Errorf("init sandbox engine failed: %w", err)
		}
		return p, nil
	}
}

func loadMazes(dir string) ([]*maze.Definition, error) {
	if dir == "" {
		return nil, nil
	}
	defs, err := maze.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load mazes from %s failed: %w", dir, err)
	}
	logger.Info(context.Background(), "mazes loaded", zap.String("dir", dir), zap.Int("count", len(defs)))
	return defs, nil
}

func pruneLimiter(ctx context.Context, limiter *middleware.SessionLimiter, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Prune(defaultLimiterIdle); n > 0 {
				logger.Debug(ctx, "session limiters pruned", zap.Int("count", n))
			}
		}
	}
}
