package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skillchain/gateway"
	"skillchain/observability/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := gateway.LoadConfigFromEnv()
	if err != nil {
		slog.Error("load config failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.Setup("skillchain-gateway", cfg.Environment)

	store, err := gateway.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Error("open sqlite store failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	auth := gateway.NewAuthenticator(gateway.AuthConfig{
		HMACSecret: cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		ClockSkew:  cfg.ClockSkew,
	}, logger)
	limits := gateway.NewRateLimiter(cfg.RequestsPerMinute, cfg.Burst)
	node := gateway.NewRPCNodeClient(cfg.NodeURL, cfg.NodeAuthToken)
	server := gateway.NewServer(auth, limits, node, store, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddress, "node_url", cfg.NodeURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down gateway")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}
