package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/config"
	"github.com/amankumarsingh77/media-downloader/internal/worker"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	maxHeaderBytes = 1 << 20
	ctxTimeout     = 5
	bodyLimit      = "64K"
)

type Server struct {
	echo       *echo.Echo
	cfg        *config.Config
	db         *sqlx.DB
	components *Components
	fetcher    worker.Fetcher
	logger     logger.Logger
}

// NewServer builds the API process. With the memory store the server also
// runs the worker pool through fetcher, since no other process can see its
// jobs; fetcher may be nil otherwise.
func NewServer(cfg *config.Config, db *sqlx.DB, components *Components, fetcher worker.Fetcher, logger logger.Logger) *Server {
	return &Server{
		echo:       echo.New(),
		cfg:        cfg,
		db:         db,
		components: components,
		fetcher:    fetcher,
		logger:     logger,
	}
}

func (s *Server) Run() error {
	s.echo.HideBanner = true
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.BodyLimit(bodyLimit))
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.cfg.Server.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "Last-Event-ID"},
		MaxAge:       300,
	}))
	if err := s.MapHandlers(s.echo); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.components.Broker.Run(ctx, s.components.Notifier); err != nil {
		return err
	}
	if err := s.components.Scheduler.Listen(ctx); err != nil {
		return err
	}
	go s.components.Scheduler.RunReaper(ctx)

	var pool *worker.Worker
	if s.cfg.Store.Driver == "memory" && s.fetcher != nil {
		pool = worker.NewWorker(s.cfg, s.logger, s.components.Scheduler, s.components.UseCase, s.fetcher, s.components.Artifacts, s.components.Notifier)
		pool.Start(ctx)
	}

	server := &http.Server{
		Addr:           s.cfg.Server.Port,
		ReadTimeout:    time.Second * time.Duration(s.cfg.Server.ReadTimeout),
		IdleTimeout:    time.Second * time.Duration(s.cfg.Server.IdleTimeout),
		WriteTimeout:   time.Second * time.Duration(s.cfg.Server.WriteTimeout),
		MaxHeaderBytes: maxHeaderBytes,
	}
	go func() {
		s.logger.Infof("Server is listening on PORT: %s", s.cfg.Server.Port)
		if err := s.echo.StartServer(server); err != nil && err != http.ErrServerClosed {
			s.logger.Fatalf("error starting Server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, os.Interrupt)
	<-quit

	shutdownCtx, shutdown := context.WithTimeout(context.Background(), time.Second*ctxTimeout)
	defer shutdown()
	s.logger.Infof("shutting down server")
	err := s.echo.Server.Shutdown(shutdownCtx)
	cancel()
	if pool != nil {
		pool.Wait()
	}
	return err
}
