// Command htcpd runs the HTCP server with a small set of demonstration
// transactions and subscriptions registered (spec §8's S1-S5 scenarios),
// plus a debug HTTP server exposing Prometheus metrics and a health
// check. Its startup/shutdown sequencing is grounded on
// go-server-3/cmd/odin-ws/main.go.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"htcp/internal/config"
	"htcp/internal/logging"
	"htcp/internal/metrics"
	"htcp/registry"
	"htcp/server"
	"htcp/value"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	metricsRegistry := metrics.NewRegistry()

	sampler, err := metrics.NewSystemSampler(metricsRegistry, 5*time.Second)
	if err != nil {
		logger.Warn("system sampler unavailable", zap.Error(err))
	}
	samplerDone := make(chan struct{})
	if sampler != nil {
		go sampler.Run(samplerDone)
	}

	txRegistry := registry.NewTransactionRegistry()
	subRegistry := registry.NewSubscriptionRegistry()
	registerDemoHandlers(txRegistry, subRegistry)

	srv := server.New(server.Config{
		ServerName:         "htcpd",
		ExposeTransactions: cfg.Server.ExposeTransactions,
		MaxConnections:     cfg.Server.MaxConnections,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		MaxPayloadSize:     uint32(cfg.Server.MaxPayloadSize),
	}, logger, metricsRegistry, txRegistry, subRegistry)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := srv.Start(addr); err != nil {
		logger.Fatal("server start failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var httpErrCh chan error
	if cfg.Metrics.Enabled {
		httpErrCh = make(chan error, 1)
		go func() {
			httpErrCh <- runDebugHTTPServer(ctx, cfg, srv, metricsRegistry, logger)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("debug http server error", zap.Error(err))
		}
		stop()
	}

	srv.Stop()
	close(samplerDone)
	logger.Info("server stopped")
}

// registerDemoHandlers installs the "echo" transaction and "ticks"
// subscription used by spec §8's worked scenarios S2, S3, S5. The "ticks"
// producer yields 1, 2, 3 and then ends.
func registerDemoHandlers(txRegistry *registry.TransactionRegistry, subRegistry *registry.SubscriptionRegistry) {
	txRegistry.RegisterWithSchema("echo", map[string]value.Schema{
		"x": {Kind: value.KindAny},
	}, func(args value.Mapping) (value.Value, error) {
		v, ok := args.Get("x")
		if !ok {
			return nil, fmt.Errorf("missing argument x")
		}
		return v, nil
	})

	subRegistry.Register("ticks", func(ctx context.Context, args value.Mapping) (<-chan value.Value, <-chan error) {
		dataCh := make(chan value.Value)
		errCh := make(chan error, 1)
		go func() {
			defer close(dataCh)
			for i := int64(1); i <= 3; i++ {
				select {
				case dataCh <- value.NewIntFromInt64(i):
				case <-ctx.Done():
					return
				}
			}
		}()
		return dataCh, errCh
	})
}

func runDebugHTTPServer(ctx context.Context, cfg config.Config, srv *server.Server, metricsRegistry *metrics.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"state":     srv.State().String(),
		})
	})

	mux.Handle("/metrics", metricsRegistry.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("debug http server starting", zap.String("addr", cfg.Metrics.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("debug http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
