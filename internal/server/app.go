// Package server initializes and runs the hako server: it selects the
// storage engine, wires the services, starts the HTTP endpoint and the
// cleanup sweep, and handles graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/skystar-p/hako/internal/logging"
	"github.com/skystar-p/hako/internal/server/config"
	"github.com/skystar-p/hako/internal/server/httpapi"
	"github.com/skystar-p/hako/internal/server/repositories/chunks"
	"github.com/skystar-p/hako/internal/server/repositories/repomanager"
	"github.com/skystar-p/hako/internal/server/services"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	manager  repomanager.RepositoryManager
	upload   *services.UploadService
	download *services.DownloadService
	cleanup  *services.CleanupWorker
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	manager, err := newRepositoryManager(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	us := services.NewUploadService(manager, logger, c.ChunkSize, c.ChunkCountLimit)
	ds := services.NewDownloadService(manager.Files(), manager.Chunks(), logger)
	cw := services.NewCleanupWorker(manager.Files(), manager.Chunks(), logger, c.CleanupInterval, c.IncompleteRetention)

	return &App{
		config:   c,
		logger:   logger,
		manager:  manager,
		upload:   us,
		download: ds,
		cleanup:  cw,
	}, nil
}

func newRepositoryManager(ctx context.Context, c *config.Config) (repomanager.RepositoryManager, error) {
	switch c.Engine {
	case config.EngineBolt:
		return repomanager.NewBoltRepositoryManager(c.BoltPath)
	case config.EnginePostgres:
		var s3Settings *chunks.S3Settings
		if c.S3Bucket != "" {
			s3Settings = &chunks.S3Settings{
				RootUser:     c.S3RootUser,
				RootPassword: c.S3RootPassword,
				Bucket:       c.S3Bucket,
				Region:       c.S3Region,
				BaseEndpoint: c.S3BaseEndpoint,
			}
		}
		return repomanager.NewPostgresRepositoryManager(ctx, c.DatabaseDSN, s3Settings)
	default:
		return nil, fmt.Errorf("unknown storage engine: %q", c.Engine)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.EndpointAddr, app.logger, app.upload, app.download, app.config.ChunkSize)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.cleanup.Run(ctx)
	}()

	wg.Wait()

	if err := app.manager.Close(); err != nil {
		app.logger.Error(ctx, "storage close error", "error", err)
	}
}
