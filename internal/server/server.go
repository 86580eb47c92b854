package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"

	"github.com/muliwe/botmon/internal/engine"
	"github.com/muliwe/botmon/internal/fingerprint"
	"github.com/muliwe/botmon/internal/ingest"
	"github.com/muliwe/botmon/internal/logger"
	"github.com/muliwe/botmon/internal/logrecord"
)

// Config holds server configuration
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableDebug  bool

	// LogDir receives the daily srv/log/tck files
	LogDir         string
	CookieName     string
	TrustForwarded bool

	// Engine configures /api/report. Logs defaults to LogDir.
	Engine engine.Options

	// Results enables the JSONL results log
	ResultsEnabled bool
	LoggerConfig   logger.Config

	Logger *pterm.Logger

	// TLS configuration
	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		EnableDebug:  false,
		LogDir:       "logs",
		CookieName:   fingerprint.DefaultCookieName,
		LoggerConfig: logger.DefaultConfig(),
		TLSEnabled:   false,
	}
}

// Server represents the HTTP server
type Server struct {
	cfg        Config
	httpServer *http.Server
	handler    *Handler
	results    *logger.Logger
	log        *pterm.Logger
	listener   net.Listener
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	l := cfg.Logger
	if l == nil {
		l = pterm.DefaultLogger.WithLevel(pterm.LogLevelInfo)
	}

	var results *logger.Logger
	if cfg.ResultsEnabled {
		var err error
		results, err = logger.New(cfg.LoggerConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize results log: %w", err)
		}
	}

	opts := cfg.Engine
	if opts.Logs == nil {
		opts.Logs = ingest.FSSource{FS: os.DirFS(cfg.LogDir)}
	}
	if opts.Logger == nil {
		opts.Logger = l
	}
	opts.Results = results

	collector := fingerprint.NewCollector(
		fingerprint.WithCookieName(cfg.CookieName),
		fingerprint.WithForwardedFor(cfg.TrustForwarded),
	)
	handler := NewHandler(collector, logrecord.NewWriter(cfg.LogDir), engine.New(opts), l)

	if !cfg.EnableDebug && gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), handler.accessLog())
	handler.Register(router, cfg.EnableDebug)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		cfg:        cfg,
		httpServer: httpServer,
		handler:    handler,
		results:    results,
		log:        l,
	}, nil
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the server and blocks until SIGINT or SIGTERM
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		protocol := "HTTP"
		if s.cfg.TLSEnabled {
			protocol = "HTTPS"
		}
		s.log.Info("BotMon server starting", s.log.Args("addr", s.cfg.Addr, "protocol", protocol))
		s.log.Info("Endpoints: /hit, /pview, /tick (logging), /api/report, /health")
		if s.cfg.EnableDebug {
			s.log.Info("Debug endpoint enabled: /debug/visitors")
		}
		s.log.Info("Logs", s.log.Args("dir", s.cfg.LogDir))
		if s.results != nil {
			s.log.Info("Results", s.log.Args("path", s.results.LogPath()))
		}

		var err error
		if s.cfg.TLSEnabled {
			s.log.Info("TLS Certificate", s.log.Args("file", s.cfg.TLSCertFile))
			err = s.startTLS()
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.closeResults()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Server shutting down...")
	if err := s.Close(); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("Server stopped")
	return nil
}

// startTLS starts the server with TLS
func (s *Server) startTLS() error {
	cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to create TCP listener: %w", err)
	}
	s.listener = listener

	s.httpServer.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"h2", "http/1.1"},
	}

	return s.httpServer.ServeTLS(listener, "", "")
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	if s.listener != nil {
		_ = s.listener.Close()
	}

	return s.closeResults()
}

func (s *Server) closeResults() error {
	if s.results == nil {
		return nil
	}
	if err := s.results.Close(); err != nil {
		s.log.Warn("Error closing results log", s.log.Args("error", err))
		return err
	}
	return nil
}
