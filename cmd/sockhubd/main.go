package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sadewadee/sockhub/internal/config"
	"github.com/sadewadee/sockhub/internal/rawsocket"
	"github.com/sadewadee/sockhub/internal/sioserver"
	"github.com/sadewadee/sockhub/internal/webserver"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve", "start":
		serve()
	case "version":
		fmt.Printf("sockhubd v%s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func serve() {
	cfgPath := "sockhubd.yaml"
	if len(os.Args) > 2 {
		cfgPath = os.Args[2]
	}

	logger, startupCloser := setupLogger("info", "json", "stdout")
	if startupCloser != nil {
		defer startupCloser.Close()
	}
	logger.Info("sockhubd starting", "version", version)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if startupCloser != nil {
		_ = startupCloser.Close()
		startupCloser = nil
	}
	logger, logCloser := setupLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if logCloser != nil {
		defer logCloser.Close()
	}

	pingInterval, pingTimeout := cfg.HeartbeatParams()
	sio := sioserver.New(rawsocket.Config{PingInterval: pingInterval, PingTimeout: pingTimeout}, cfg.Rooms.BroadcastWorkers, logger)

	if err := sio.Namespace("/", func(ctx context.Context, h *sioserver.Handle, auth json.RawMessage) {
		logger.Info("socket connected", "sid", h.Sid(), "namespace", h.Namespace())
		go func() {
			<-h.Done()
			logger.Info("socket disconnected", "sid", h.Sid(), "namespace", h.Namespace())
		}()
	}); err != nil {
		logger.Error("failed to register default namespace", "error", err)
		os.Exit(1)
	}

	srv := webserver.New(cfg, sio, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	logger.Info("sockhubd ready", "address", cfg.Server.Address, "path", cfg.EngineIO.Path)

	<-quit
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("sockhubd stopped")
}

func setupLogger(level, format, output string) (*slog.Logger, io.Closer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	writer, closer := resolveLogOutput(output)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	return slog.New(handler), closer
}

func resolveLogOutput(output string) (io.Writer, io.Closer) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return os.Stdout, nil
		}
		return f, f
	}
}

func printUsage() {
	fmt.Println(`sockhubd - Socket.IO-protocol messaging server

Usage:
  sockhubd <command> [options]

Commands:
  serve [config]   Start the server (default config: sockhubd.yaml)
  start [config]   Alias for serve
  version          Show version
  help             Show this help

Signals:
  SIGINT/SIGTERM   Graceful shutdown

Examples:
  sockhubd serve
  sockhubd serve /etc/sockhubd/sockhubd.yaml
  sockhubd version`)
}
