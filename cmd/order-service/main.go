package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/furniture-store/internal/cache"
	"github.com/vasiliy-maslov/furniture-store/internal/cart"
	"github.com/vasiliy-maslov/furniture-store/internal/config"
	"github.com/vasiliy-maslov/furniture-store/internal/db"
	"github.com/vasiliy-maslov/furniture-store/internal/inventory"
	"github.com/vasiliy-maslov/furniture-store/internal/metrics"
	"github.com/vasiliy-maslov/furniture-store/internal/notify"
	"github.com/vasiliy-maslov/furniture-store/internal/order"
	"github.com/vasiliy-maslov/furniture-store/internal/payment/momo"
	"github.com/vasiliy-maslov/furniture-store/internal/product"
	"github.com/vasiliy-maslov/furniture-store/internal/transport"
	"github.com/vasiliy-maslov/furniture-store/internal/voucher"
)

const serviceName = "order-service"

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	setupLogger(cfg.App)
	log.Info().Msg("Order service starting...")

	ctx := context.Background()

	if cfg.Postgres.AutoMigrate {
		if err := db.ApplyMigrations(cfg.Postgres); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	postgres, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer postgres.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var dedupe cache.Cache
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisCache(cfg.Redis.Addr, serviceName)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisCache.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, webhook dedupe cache disabled")
			_ = redisCache.Close()
		} else {
			dedupe = redisCache
			defer redisCache.Close()
		}
		cancel()
	}

	vouchers := voucher.NewRepository(postgres.Pool)
	carts := cart.NewRepository(postgres.Pool)
	orders := order.NewRepository(postgres.Pool, inventory.NewLedger(), vouchers, carts)

	svc := order.NewService(order.Dependencies{
		Orders:      orders,
		Products:    product.NewRepository(postgres.Pool),
		Vouchers:    voucher.NewEvaluator(vouchers, time.Now),
		Carts:       carts,
		Gateway:     momo.NewClient(cfg.Momo, nil),
		Notifier:    notify.NewAsync(notify.LogNotifier{}, 10*time.Second),
		Cache:       dedupe,
		Metrics:     m,
		ShopAddress: cfg.Shop.Address,
	})

	router := transport.NewRouter(svc, m, transport.Options{
		JWTSecret:    cfg.Auth.JWTSecret,
		SweepTimeout: cfg.Momo.PaymentTimeout,
		HealthCheck:  postgres.Pool.Ping,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Momo.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
		return
	}
	log.Info().Msg("Server stopped")
}

func setupLogger(app config.AppConfig) {
	level, err := zerolog.ParseLevel(app.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if app.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", serviceName).Logger()
}
