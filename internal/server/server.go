// Package server wires the config into the agent's subsystems and runs the
// HTTP surface until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leshsec/lesh/internal/agent"
	"github.com/leshsec/lesh/internal/analytics"
	"github.com/leshsec/lesh/internal/api"
	"github.com/leshsec/lesh/internal/config"
	"github.com/leshsec/lesh/internal/metrics"
)

type Server struct {
	orch     *agent.Orchestrator
	recorder *analytics.Recorder

	httpServer *http.Server
	httpLn     net.Listener

	pprofServer *http.Server
	pprofLn     net.Listener

	cfgStore *config.Store
	logLevel *slog.LevelVar
	logger   *slog.Logger
}

// New builds a server from one loaded config snapshot. configPath may be
// empty, in which case live reload is disabled.
func New(cfg *config.Config, configPath string, logger *slog.Logger, logLevel *slog.LevelVar) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger, logLevel = config.NewLogger(cfg.Logging)
	}

	collector := metrics.New()

	var recorder *analytics.Recorder
	if cfg.Analytics.DBPath != "" {
		var err error
		recorder, err = analytics.Open(cfg.Analytics.DBPath, cfg.Analytics.RetentionDays, logger)
		if err != nil {
			return nil, fmt.Errorf("open analytics store: %w", err)
		}
	}

	orch := agent.New(cfg, recorder, collector, logger)
	app := api.NewApp(cfg, orch, collector)

	ln, err := net.Listen("tcp", cfg.Server.HTTP.Addr)
	if err != nil {
		if recorder != nil {
			_ = recorder.Close()
		}
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.HTTP.Addr, err)
	}

	s := &Server{
		orch:     orch,
		recorder: recorder,
		httpLn:   ln,
		httpServer: &http.Server{
			Handler:      app.Router(),
			ReadTimeout:  cfg.Server.HTTP.ReadTimeoutDuration(),
			WriteTimeout: cfg.Server.HTTP.WriteTimeoutDuration(),
		},
		logLevel: logLevel,
		logger:   logger.With("component", "server"),
	}

	if cfg.Development.PProf.Enabled {
		pprofLn, err := net.Listen("tcp", cfg.Development.PProf.Addr)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("pprof listen: %w", err)
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		s.pprofLn = pprofLn
		s.pprofServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	if configPath != "" {
		s.cfgStore = config.NewStore(configPath, cfg, logger)
		s.cfgStore.OnReload(func(next *config.Config) {
			// Most settings apply at construction; verbosity follows the
			// file live.
			if s.logLevel != nil {
				s.logLevel.Set(config.ParseLevel(next.Logging.Level))
			}
			s.logger.Info("configuration reloaded", "log_level", next.Logging.Level)
		})
	}

	return s, nil
}

// Addr returns the bound HTTP address.
func (s *Server) Addr() string { return s.httpLn.Addr().String() }

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down the HTTP surface and the agent loops.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.orch.Start()
	defer s.orch.Stop()

	if s.cfgStore != nil {
		go s.cfgStore.Watch(ctx)
	}
	if s.pprofServer != nil && s.pprofLn != nil {
		go func() { _ = s.pprofServer.Serve(s.pprofLn) }()
	}

	s.logger.Info("http server listening", "addr", s.Addr())
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if s.pprofServer != nil {
			_ = s.pprofServer.Shutdown(shutdownCtx)
		}
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if s.pprofServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.pprofServer.Shutdown(shutdownCtx)
		}
		return fmt.Errorf("server: %w", err)
	}
}

// Close releases listeners and the analytics store. Safe after Run returns.
func (s *Server) Close() error {
	var firstErr error
	if s.httpLn != nil {
		if err := s.httpLn.Close(); err != nil && !errors.Is(err, net.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	if s.pprofLn != nil {
		_ = s.pprofLn.Close()
	}
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
