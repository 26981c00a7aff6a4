// Package webserver is sockhubd's HTTP front door: it terminates TLS (or
// ACME autocert), serves HTTP/2 (h2c in cleartext, native under TLS), and
// routes Engine.IO long-poll and WebSocket-upgrade requests into an
// internal/sioserver.Server. It is adapted from the teacher's
// internal/server package, which did the same job in front of an embedded
// PHP worker pool.
package webserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sadewadee/sockhub/internal/config"
	"github.com/sadewadee/sockhub/internal/sioserver"
)

// Server wraps the http.Server fronting one sioserver.Server.
type Server struct {
	cfg    *config.Config
	sio    *sioserver.Server
	logger *slog.Logger

	http     *http.Server
	router   *Router
	redirect *http.Server
}

// New builds a Server. The caller is responsible for registering
// namespaces on sio before calling Start.
func New(cfg *config.Config, sio *sioserver.Server, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := NewRouter(cfg, sio, logger)
	handler := buildMiddleware(cfg, logger)(router)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-poll GETs legitimately park for a while
		IdleTimeout:  120 * time.Second,
	}

	if cfg.Server.HTTP2 {
		useTLS := cfg.Server.TLS.Auto || cfg.Server.TLS.Cert != ""
		_ = EnableHTTP2(httpSrv, useTLS)
	}

	return &Server{
		cfg:    cfg,
		sio:    sio,
		logger: logger,
		router: router,
		http:   httpSrv,
	}
}

// Start begins serving. It blocks until the listener stops.
func (s *Server) Start() error {
	if s.cfg.Server.TLS.Auto || s.cfg.Server.TLS.Cert != "" {
		return s.startTLS()
	}
	s.logger.Info("webserver listening", "address", s.cfg.Server.Address, "tls", false)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listening: %w", err)
	}
	return nil
}

func (s *Server) startTLS() error {
	var tlsConfig *tls.Config

	if s.cfg.Server.TLS.Auto {
		cfg, redirect, err := SetupACME(s.cfg, s.logger)
		if err != nil {
			return fmt.Errorf("configuring ACME: %w", err)
		}
		tlsConfig = cfg
		s.redirect = redirect
	} else {
		cert, err := tls.LoadX509KeyPair(s.cfg.Server.TLS.Cert, s.cfg.Server.TLS.Key)
		if err != nil {
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	s.http.TLSConfig = tlsConfig
	s.logger.Info("webserver listening", "address", s.cfg.Server.Address, "tls", true)
	if err := s.http.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listening: %w", err)
	}
	return nil
}

// Stop gracefully drains in-flight requests (including parked long-poll
// GETs, which return once ctx's deadline elapses) and stops the
// sioserver.Server's broadcast pool.
func (s *Server) Stop(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if s.redirect != nil {
		_ = s.redirect.Shutdown(ctx)
	}
	s.sio.Shutdown()
	return err
}
