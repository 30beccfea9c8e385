// Package httpapi exposes the upload/download protocol over HTTP. It is a
// thin shell around the services: multipart in, ciphertext out, no crypto.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/skystar-p/hako/internal/logging"
	"github.com/skystar-p/hako/internal/server/services"
)

type Server struct {
	address   string
	upload    *services.UploadService
	download  *services.DownloadService
	logger    logging.Logger
	chunkSize int64
}

func NewServer(address string, logger logging.Logger, us *services.UploadService, ds *services.DownloadService, chunkSize int64) *Server {
	return &Server{
		address:   address,
		upload:    us,
		download:  ds,
		logger:    logger.With("module", "http_server"),
		chunkSize: chunkSize,
	}
}

// NewRouter wires all routes and middleware.
func (s *Server) NewRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/api/ping", s.Ping)
	r.Post("/api/prepare_upload", s.PrepareUpload)
	r.Post("/api/upload", s.UploadChunk)
	r.Post("/api/finalize", s.Finalize)
	r.Post("/api/abort", s.Abort)
	r.Get("/api/metadata", s.Metadata)
	r.Get("/api/download", s.Download)

	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.address,
		Handler: s.NewRouter(),
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
