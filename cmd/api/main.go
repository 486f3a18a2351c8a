//	@title			Image Vault API
//	@version		1.0
//	@description	Uploads images to a managed media store and lists them back.
//
//	@host		localhost:5000
//	@BasePath	/

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imagevault/service/internal/config"
	"github.com/imagevault/service/internal/image"
	"github.com/imagevault/service/internal/logging"
	"github.com/imagevault/service/internal/metrics"
	"github.com/imagevault/service/internal/storage"

	_ "github.com/imagevault/service/docs/swagger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("invalid configuration", "err", err)
	}
	logging.Setup("api", cfg.LogLevel)
	log := logging.Default()

	media := storage.MediaConfig{
		Folder:         cfg.MediaFolder,
		AllowedFormats: cfg.MediaAllowedFormats,
		MaxWidth:       cfg.MediaMaxWidth,
		ListLimit:      cfg.MediaListLimit,
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), cfg.UpstreamTimeout)
	store, local, err := newStore(initCtx, cfg, media)
	cancelInit()
	if err != nil {
		log.Fatal("media store init failed", "backend", cfg.MediaBackend, "err", err)
	}

	obs, err := metrics.NewObserver("imagevault", prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal("metrics init failed", "err", err)
	}

	// Wire dependencies: store → service → handler
	imageSvc := image.NewService(store, media,
		image.WithTimeout(cfg.UpstreamTimeout),
		image.WithObserver(obs),
		image.WithLogger(log),
	)
	imageHandler := image.NewHandler(imageSvc, cfg.UploadMaxBytes)

	deps := routerDeps{
		allowedOrigins: cfg.AllowedOrigins,
		images:         imageHandler,
		metrics:        promhttp.Handler(),
		log:            log,
	}
	if local != nil {
		deps.media = local.Handler()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(deps),
		ReadTimeout:  cfg.UpstreamTimeout + 15*time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("server listening", "port", cfg.Port, "env", cfg.AppEnv, "backend", cfg.MediaBackend, "folder", cfg.MediaFolder)
		log.Info("swagger UI", "url", fmt.Sprintf("http://localhost:%s/swagger/", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", "err", err)
		}
	}()

	<-quit
	log.Info("shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("forced shutdown", "err", err)
	}

	log.Info("server stopped")
}

// newStore builds the configured media store. local is non-nil only for the
// local backend, whose files the API serves itself.
func newStore(ctx context.Context, cfg *config.Config, media storage.MediaConfig) (storage.MediaStore, *storage.Local, error) {
	switch cfg.MediaBackend {
	case config.BackendCloudinary:
		store, err := storage.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, media)
		return store, nil, err
	case config.BackendMinio:
		store, err := storage.NewMinio(ctx,
			cfg.StorageEndpoint,
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			cfg.StorageBucket,
			cfg.StoragePublicBase,
			cfg.StorageUseSSL,
			media,
		)
		return store, nil, err
	case config.BackendLocal:
		store, err := storage.NewLocal(cfg.LocalMediaDir, cfg.LocalPublicBase, media)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown media backend %q", cfg.MediaBackend)
	}
}
