package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nougatpkg/nougat/internal/config"
	"github.com/nougatpkg/nougat/internal/content"
	"github.com/nougatpkg/nougat/internal/handler"
	"github.com/nougatpkg/nougat/internal/logger"
	"github.com/nougatpkg/nougat/internal/search"
	"github.com/nougatpkg/nougat/internal/service"
	"github.com/nougatpkg/nougat/internal/store"
	"github.com/nougatpkg/nougat/internal/upstream"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.Init(cfg.Log)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Initialize stores
	meta, err := store.New(cfg.Database.Backend, cfg.Database.Path, log)
	if err != nil {
		log.Fatal("failed to create metadata store", zap.Error(err))
	}
	defer meta.Close()

	contentStore, err := content.NewStore(cfg.Storage.Backend, cfg.Storage.Path, cfg.Storage.S3, log)
	if err != nil {
		log.Fatal("failed to create content store", zap.Error(err))
	}

	indexer, err := search.New(cfg.Search.Backend)
	if err != nil {
		log.Fatal("failed to create search indexer", zap.Error(err))
	}

	deleteBehavior, err := service.ParseDeleteBehavior(cfg.Packages.DeleteBehavior)
	if err != nil {
		log.Fatal("invalid delete behavior", zap.Error(err))
	}

	// Initialize services
	ingestor := service.NewIngestor(meta, contentStore, indexer, cfg.Packages.AllowOverwrite, log)

	var source upstream.Source
	if cfg.Mirror.Enabled {
		source = upstream.NewClient(cfg.Mirror.UpstreamURL, cfg.Mirror.Timeout, log)
		log.Info("mirroring enabled", zap.String("upstream", cfg.Mirror.UpstreamURL))
	}
	packages := service.NewPackageService(meta, source, ingestor, log)
	deleter := service.NewDeletionService(meta, contentStore, deleteBehavior, log)

	// Initialize API handler
	api := handler.NewAPI(cfg, log, meta, contentStore, packages, ingestor, deleter)
	defer api.Close()

	// Create router
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	// Create server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		log.Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	log.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited properly")
}
