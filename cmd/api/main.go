package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/config"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/database"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/handlers"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/logging"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/middleware"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/pipeline"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/scoring"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/services"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	logger := logging.New(cfg.Log)

	// Connect to database
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close(db)

	// Redis is optional: without it results are not cached and live events are off
	cache, err := services.NewCacheService(cfg.Redis, logger)
	if err != nil {
		logger.WithError(err).Error("Redis unavailable, continuing without cache")
	}
	defer cache.Close()

	archive, err := services.NewArchive(ctx, cfg.Archive)
	if err != nil {
		logger.WithError(err).Fatal("Failed to set up upload archive")
	}

	provider, err := scoring.New(cfg.Scoring)
	if err != nil {
		logger.WithError(err).Fatal("Failed to set up prediction provider")
	}

	uploadStore := store.NewGormStore(db)
	p, err := pipeline.New(cfg.Scoring, pipeline.Deps{
		Provider: provider,
		Store:    uploadStore,
		Archive:  archive,
		Events:   cache,
		Logger:   logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to build upload pipeline")
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.RouterDeps{
		Pipeline:       p,
		Store:          uploadStore,
		Cache:          cache,
		Logger:         logger,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	}, middleware.RequestLogger(logger), middleware.SetupCORS(cfg.CORS))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":     server.Addr,
			"provider": cfg.Scoring.Provider,
			"db":       cfg.Database.Driver,
			"archive":  cfg.Archive.Backend,
			"cache":    cache.Available(),
		}).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
}
