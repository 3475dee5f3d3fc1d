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

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sid-stack/aris-registry/internal/api"
	"github.com/sid-stack/aris-registry/internal/artifact"
	"github.com/sid-stack/aris-registry/internal/config"
	"github.com/sid-stack/aris-registry/internal/discovery"
	"github.com/sid-stack/aris-registry/internal/domain"
	"github.com/sid-stack/aris-registry/internal/escrow"
	"github.com/sid-stack/aris-registry/internal/ledger"
	"github.com/sid-stack/aris-registry/internal/reaper"
	"github.com/sid-stack/aris-registry/internal/token"
	"github.com/sid-stack/aris-registry/internal/webhook"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DBSource)
	if err != nil {
		log.Error("unable to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Error("unable to reach database", "error", err)
		os.Exit(1)
	}

	handshakeCost, err := domain.ParseAmount(cfg.HandshakeCost)
	if err != nil {
		log.Error("invalid HANDSHAKE_COST", "value", cfg.HandshakeCost, "error", err)
		os.Exit(1)
	}

	books := ledger.New(pool)
	tokens := token.NewService([]byte(cfg.SigningKey))

	artifacts := artifact.NewLocalStore(cfg.ArtifactDir, cfg.ArtifactBaseURL, []byte(cfg.ArtifactSignKey))

	processor := escrow.NewStripeProcessor(cfg.StripeSecretKey)
	holds := escrow.NewPgStore(pool)
	flow := escrow.NewFlow(processor, artifacts, escrow.TextRenderer{}, holds, log)

	ingestor := webhook.NewIngestor(books, flow, cfg.WebhookSecret, log)
	sweeper := reaper.New(holds, flow, processor, log)
	index := discovery.NewClient(cfg.DiscoveryURL)

	handler := api.NewHandler(books, flow, ingestor, sweeper, tokens, index,
		cfg.CronSecret, cfg.HoldTTL, handshakeCost, log)

	router := mux.NewRouter()
	handler.Register(router)
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("settlement API listening", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
