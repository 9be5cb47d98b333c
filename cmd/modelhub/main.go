package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yachtie/modelhub/internal/app"
)

// version is set at build time via -ldflags.
var version = "dev"

const shutdownGrace = 30 * time.Second

// runHealthCheck probes /healthz on localhost at addr (":port"). Container
// images have no curl.
func runHealthCheck(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost" + addr + "/healthz")
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	healthcheck := flag.Bool("healthcheck", false, "probe the local /healthz endpoint and exit")
	flag.Parse()

	loaded := app.LoadEnvFiles(".env.local", ".env")

	if *healthcheck {
		addr := os.Getenv("MODELHUB_LISTEN_ADDR")
		if addr == "" {
			addr = ":8090"
		}
		if err := runHealthCheck(addr); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, loaded); err != nil {
		slog.Error("modelhub exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg app.Config, envFiles []string) error {
	app.Version = version
	srv, err := app.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}
	slog.Info("modelhub starting",
		slog.String("version", version),
		slog.Any("env_files", envFiles),
	)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// Covers provider calls made through /v1/invoke and SSE streams.
		WriteTimeout: 300 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				next, err := app.LoadConfig()
				if err != nil {
					slog.Warn("config reload rejected", slog.String("error", err.Error()))
					continue
				}
				srv.Reload(next)
			}
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("listening", slog.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = srv.Close()
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down", slog.Duration("grace", shutdownGrace))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := srv.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	return errors.Join(errs...)
}
