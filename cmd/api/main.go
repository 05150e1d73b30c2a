package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/timmy/portalflow/internal/api"
	"github.com/timmy/portalflow/internal/api/middleware"
	"github.com/timmy/portalflow/internal/app"
	"github.com/timmy/portalflow/internal/config"
	"github.com/timmy/portalflow/internal/logger"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if cfg.Solver.APIKey == "" {
		appLogger.Warn("SOLVER_API_KEY is not set; challenge solving will fail")
	}
	if cfg.Solver.BaseURL == "" {
		appLogger.Warn("SOLVER_BASE_URL is not set; challenge solving will fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize engine")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.WithError(err).Error("Executor pool stopped")
		}
	}()

	router := api.SetupRouter(engine.Registry, engine.Pool, appLogger, api.RouterConfig{
		Mode:    cfg.Server.Mode,
		Service: app.ServiceName,
		Version: app.Version,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":    cfg.Server.Port,
			"mode":    cfg.Server.Mode,
			"workers": cfg.Workers.Count,
			"driver":  cfg.Browser.Driver,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// Executors stop at the next item boundary.
	cancel()
	wg.Wait()

	if err := engine.Snapshots.Flush(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Failed to write final snapshot")
	}

	appLogger.Info("Server exited")
}
