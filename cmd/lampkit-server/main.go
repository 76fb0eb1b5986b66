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
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := BuildApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := run(ctx, app); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, app *App) error {
	cfg := app.Config
	log := app.Logger

	log.Info("starting lampkit server",
		"environment", cfg.Environment,
		"profile", cfg.Profile,
		"address", cfg.Server.Address,
		"storage_adapter", cfg.Storage.Adapter,
		"contract", cfg.Chain.ContractAddress)

	if err := app.Service.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer app.Service.Close()

	errc := make(chan error, 2)
	servers := []*http.Server{app.Server}
	go serve(app.Server, "api", log, errc)

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, app.Metrics.Handler())
		msrv := &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		}
		servers = append(servers, msrv)
		go serve(msrv, "metrics", log, errc)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	log.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("error during server shutdown", "addr", srv.Addr, "error", err)
		}
	}

	log.Info("server stopped")
	return runErr
}

func serve(srv *http.Server, name string, log *slog.Logger, errc chan<- error) {
	log.Info("server listening", "server", name, "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errc <- fmt.Errorf("%s server: %w", name, err)
	}
}
