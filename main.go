package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/facemoji/internal/config"
	"github.com/example/facemoji/internal/crop"
	"github.com/example/facemoji/internal/facelocator"
	"github.com/example/facemoji/internal/generation"
	"github.com/example/facemoji/internal/grpcclient"
	"github.com/example/facemoji/internal/handlers"
	"github.com/example/facemoji/internal/httpclient"
	"github.com/example/facemoji/internal/janitor"
	"github.com/example/facemoji/internal/logging"
	"github.com/example/facemoji/internal/replicate"
	"github.com/example/facemoji/internal/repository"
	"github.com/example/facemoji/internal/taskstore"
	"github.com/example/facemoji/internal/usecase"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "facemoji",
		Short:        "Turns uploaded portraits into background-free emoji images",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Remove stale temporary files from the upload directory once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return sweep(cmd, cfg)
		},
	})
	return root
}

func run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	store, sweeper, closeStore, err := initStore(startCtx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	detector, conn, err := grpcclient.DialFaceDetector(startCtx, cfg.Detector.Addr, cfg.Detector.Timeout, logger)
	if err != nil {
		return fmt.Errorf("connect to face detector: %w", err)
	}
	defer conn.Close()

	replicateClient := replicate.NewClient(replicate.Config{
		BaseURL:        cfg.Replicate.BaseURL,
		APIToken:       cfg.Replicate.APIToken,
		StylizeModel:   cfg.Replicate.StylizeModel,
		RemoveBGModel:  cfg.Replicate.RemoveBGModel,
		PollInterval:   cfg.Replicate.PollInterval,
		RequestTimeout: cfg.Replicate.RequestTimeout,
	}, httpclient.NewHTTPClient(), logger)
	generator := generation.NewAdapter(replicateClient, replicateClient, generation.StyleParams{
		Style:             cfg.Replicate.Style,
		Prompt:            cfg.Replicate.Prompt,
		InstantIDStrength: cfg.Replicate.InstantIDStrength,
		Width:             cfg.Replicate.Width,
	}, logger)

	deps := usecase.Dependencies{
		Store:     store,
		Locator:   facelocator.NewLocator(detector, cfg.Detector.MinConfidence),
		Planner:   crop.NewPlanner(cfg.Crop.Margin),
		Generator: generator,
	}
	if cfg.Database.DSN != "" {
		db, err := initDatabase(startCtx, cfg.Database.DSN, logger)
		if err != nil {
			return err
		}
		repo := repository.NewTaskLogRepository(db, logger)
		if err := repo.AutoMigrate(startCtx); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		deps.Logs = repo
	}

	orchestrator, err := usecase.NewOrchestrator(deps, usecase.Options{
		UploadDir:      cfg.Storage.UploadDir,
		OutputSize:     uint(cfg.Crop.OutputSize),
		TaskTimeout:    cfg.Worker.TaskTimeout,
		MaxImagePixels: cfg.Server.MaxImagePixels,
		Pool: usecase.WorkerPoolConfig{
			WorkerCount: cfg.Worker.Count,
			QueueSize:   cfg.Worker.QueueSize,
		},
	}, logger)
	if err != nil {
		return err
	}
	orchestrator.Start()

	sweeperJob, err := janitor.New(cfg.Janitor.Schedule, sweeper, cfg.Storage.UploadDir, cfg.Janitor.MaxAge, logger)
	if err != nil {
		return err
	}
	sweeperJob.Start()

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: newRouter(cfg, orchestrator, logger),
	}

	logger.Info("facemoji API listening", zap.String("addr", cfg.Server.Addr))
	serveErr := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer drainCancel()
	if err := sweeperJob.Stop(drainCtx); err != nil {
		logger.Warn("janitor did not stop cleanly", zap.Error(err))
	}
	if err := orchestrator.Shutdown(drainCtx); err != nil {
		logger.Warn("workers did not drain before shutdown timeout", zap.Error(err))
	}
	return serveErr
}

func sweep(cmd *cobra.Command, cfg *config.Config) error {
	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	j, err := janitor.New(cfg.Janitor.Schedule, nil, cfg.Storage.UploadDir, cfg.Janitor.MaxAge, logger)
	if err != nil {
		return err
	}
	report := j.RunOnce()
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale files from %s\n", report.RemovedFiles, cfg.Storage.UploadDir)
	return nil
}

func newRouter(cfg *config.Config, svc handlers.TaskService, logger *zap.Logger) *gin.Engine {
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestLogger(logger), cors.New(corsConfig(cfg.Server.CORSOrigins)))
	r.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	handlers.RegisterRoutes(r, svc, handlers.Options{MaxUploadBytes: cfg.Server.MaxUploadBytes}, logger)
	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowHeaders = append(c.AllowHeaders, logging.RequestIDHeader)
	c.ExposeHeaders = []string{logging.RequestIDHeader}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	return c
}

// initStore returns the task store, its sweeper when it needs one, and a
// close func.
func initStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (taskstore.Store, taskstore.Sweeper, func(), error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			logger.Error("redis connection failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("using redis task store", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.ResultTTL))
		return taskstore.NewRedisStore(client, cfg.ResultTTL), nil, func() { client.Close() }, nil
	default:
		logger.Info("using in-memory task store")
		store := taskstore.NewMemoryStore()
		return store, store, func() {}, nil
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Error("failed to connect to database", zap.Error(err))
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Error("database ping failed", zap.Error(err))
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
