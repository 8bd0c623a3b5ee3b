package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/value-model-agent/internal/app"
	"github.com/joelkehle/value-model-agent/internal/config"
	"github.com/joelkehle/value-model-agent/internal/telemetry"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("VALUE_AGENT_CONFIG"), "path to YAML config file (overrides VALUE_AGENT_CONFIG env var)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := cfg.Log.Logger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}

	srv, err := app.NewServer(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("init server: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.Hub.Run()
		return nil
	})
	g.Go(func() error {
		logger.Info("value-agent listening", "addr", cfg.Server.Addr, "db", cfg.Store.DBPath, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		return errors.Join(err, srv.Close(shutdownCtx), shutdownTracing(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		logger.Error("value-agent stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("value-agent stopped")
}
