package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flow-runner/internal/archive"
	"flow-runner/internal/config"
	"flow-runner/internal/db"
	"flow-runner/internal/handlers"
	"flow-runner/internal/log"
	"flow-runner/internal/runner"
	"flow-runner/internal/transport"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	startupTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}
	if err := log.InitLogger(cfg.LogLevel); err != nil {
		panic(err)
	}
	defer log.Sync()

	logger := log.Component("Server")
	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	database, err := db.NewConnection(cfg.DatabaseURL())
	if err != nil {
		return err
	}
	defer database.Close()
	logger.Info("Connected to database", zap.String("host", cfg.DBHost), zap.String("name", cfg.DBName))

	if err := db.Migrate(ctx, database); err != nil {
		return err
	}

	var counter transport.DemoCounter = db.NewDemoCounter(database)
	if cfg.RedisURL != "" {
		redisCounter, err := transport.NewRedisDemoCounter(ctx, cfg.RedisURL, cfg.DemoCounterKey)
		if err != nil {
			return err
		}
		defer redisCounter.Close()
		counter = redisCounter
		logger.Info("Demo usage counted in Redis", zap.String("key", cfg.DemoCounterKey))
	}
	client := transport.NewClient(cfg, counter)

	runStores := []runner.RunStore{db.NewRunStore(database)}
	if cfg.RunArchiveURL != "" {
		runArchive, err := archive.NewBlobArchive(ctx, cfg.RunArchiveURL, cfg.RunArchivePrefix)
		if err != nil {
			return err
		}
		defer runArchive.Close()
		runStores = append(runStores, runArchive)
		logger.Info("Archiving runs", zap.String("bucket", cfg.RunArchiveURL))
	}
	manager := runner.NewManager(client, runner.Tee(runStores...), cfg.FallbackURL)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.Dependencies{
		Flows:        db.NewFlowStore(database),
		Environments: db.NewEnvironmentStore(database),
		Runs:         db.NewRunStore(database),
		Service:      client,
		Manager:      manager,
		Config:       cfg,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	// stop active runs before their next block so in-flight requests can finish
	for _, runID := range manager.Active() {
		manager.Stop(runID)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
