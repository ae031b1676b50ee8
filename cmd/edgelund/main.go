// Package main is the entry point for edgelund, the EdgeLUN iSCSI volume
// driver daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgelun/edgelun/internal/backend"
	"github.com/edgelun/edgelun/internal/config"
	"github.com/edgelun/edgelun/internal/driver"
	"github.com/edgelun/edgelun/internal/lifecycle"
	"github.com/edgelun/edgelun/internal/logging"
	"github.com/edgelun/edgelun/internal/metrics"
	"github.com/edgelun/edgelun/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 9800)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	backendMode := flag.String("backend-mode", "", "backend mode: rest, memory (default: from config or rest)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *backendMode != "" {
		cfg.Backend.Mode = *backendMode
	}

	// Initialize structured logging.
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	metrics.Register()

	// Initialize the management API client based on config.
	var client backend.Client
	switch cfg.Backend.Mode {
	case "memory":
		mem, memErr := backend.NewMemoryBackend(cfg.Backend.Bucket)
		if memErr != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize memory backend: %v\n", memErr)
			os.Exit(1)
		}
		client = mem
		slog.Info("Backend client initialized", "mode", "memory", "bucket", cfg.Backend.Bucket)
	default:
		client = backend.NewRESTClient(backend.RESTOptions{
			Protocol: cfg.Backend.Protocol,
			Host:     cfg.Backend.Host,
			Port:     cfg.Backend.Port,
			Username: cfg.Backend.Username,
			Password: cfg.Backend.Password,
			Timeout:  time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
			RetryMax: cfg.Backend.RetryMax,
		})
		slog.Info("Backend client initialized",
			"mode", "rest", "host", cfg.Backend.Host, "port", cfg.Backend.Port, "bucket", cfg.Backend.Bucket)
	}

	mgr, err := lifecycle.New(client, cfg.Backend.Bucket, cfg.Backend.Host, cfg.ISCSI.TargetPortalPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create lifecycle manager: %v\n", err)
		os.Exit(1)
	}
	drv := driver.New(mgr, cfg.Driver.BackendName)

	// Discover the iSCSI target identity and load the bucket name map before
	// accepting any requests.
	setupCtx, cancelSetup := context.WithTimeout(context.Background(),
		time.Duration(cfg.Backend.TimeoutSeconds)*time.Second)
	defer cancelSetup()
	if err := drv.Setup(setupCtx); err != nil {
		fmt.Fprintf(os.Stderr, "driver setup failed: %v\n", err)
		os.Exit(1)
	}
	if err := drv.CheckSetup(setupCtx); err != nil {
		fmt.Fprintf(os.Stderr, "driver setup check failed: %v\n", err)
		os.Exit(1)
	}

	srv := server.New(cfg, drv)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("EdgeLUN listening", "addr", addr, "bucket", cfg.Backend.Bucket)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// SIGTERM/SIGINT handler: stop accepting connections and wait for
	// in-flight requests with a timeout. There is no local state to flush;
	// the name map lives in the bucket's metadata.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
			os.Exit(1)
		}
		slog.Info("Shutdown complete")
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}
