// Package main is the entry point for the chunkstore live-tail object server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/bleepstore/chunkstore/internal/archive"
	"github.com/bleepstore/chunkstore/internal/config"
	"github.com/bleepstore/chunkstore/internal/logging"
	"github.com/bleepstore/chunkstore/internal/metrics"
	"github.com/bleepstore/chunkstore/internal/server"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to configuration file (default: built-in defaults)")
	port := flag.IntP("port", "p", 0, "override listening port (default: from config or 8080)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file and environment values.
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
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	if cfg.Observability.Metrics {
		metrics.Register()
	}

	var opts []server.ServerOption
	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		sink, err := archive.NewSink(context.Background(), cfg.Archive)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize archive sink: %v\n", err)
			os.Exit(1)
		}
		aopts := archive.OptionsFromConfig(cfg.Archive)
		aopts.Logger = slog.Default()
		archiver, err = archive.New(sink, aopts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start archiver: %v\n", err)
			os.Exit(1)
		}
		opts = append(opts, server.WithArchiver(archiver))
		slog.Info("Archive enabled", "backend", sink.Name(), "prefix", cfg.Archive.Prefix, "compression", cfg.Archive.Compression)
	}

	srv, err := server.New(cfg, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	addr := cfg.Server.Addr()

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("chunkstore listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownDuration())

		// Open uploads and tailing readers hold their connections until the
		// deadline; whatever is left is dropped.
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		cancel()

		// Uploads finished during shutdown queue archive jobs; drain them on
		// a separate deadline.
		if archiver != nil {
			drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Archive.DrainDuration())
			if err := archiver.Close(drainCtx); err != nil {
				slog.Error("Archiver shutdown error", "error", err)
			}
			drainCancel()
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}
