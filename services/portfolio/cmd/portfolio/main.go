package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AfshinJalili/kryptbroker/libs/health"
	"github.com/AfshinJalili/kryptbroker/libs/httpmiddleware"
	"github.com/AfshinJalili/kryptbroker/libs/kafka"
	"github.com/AfshinJalili/kryptbroker/libs/logging"
	"github.com/AfshinJalili/kryptbroker/libs/metrics"
	"github.com/AfshinJalili/kryptbroker/libs/trace"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/config"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/handlers"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/oracle"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/service"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type accountStore interface {
	service.Store
	health.Pinger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	serviceMetrics := service.NewMetrics(registry)
	oracleMetrics := oracle.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	store, closeStore, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()
	ready.AddCheck("store", store)

	prices, closeCache, err := buildOracle(cfg, logger, oracleMetrics, ready)
	if err != nil {
		logger.Error("oracle init failed", "error", err)
		os.Exit(1)
	}
	defer closeCache()

	publisher, err := buildPublisher(cfg, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	opts := service.Options{
		ReferenceSymbol: cfg.Ledger.ReferenceSymbol,
		PriceTimeout:    cfg.Oracle.CallTimeout,
		MaxAttempts:     cfg.Ledger.MaxAttempts,
		Topics: service.Topics{
			Conversions: cfg.Kafka.Topics.Conversions,
			Transfers:   cfg.Kafka.Topics.Transfers,
			Executions:  cfg.Kafka.Topics.Executions,
		},
	}
	ledgerService := service.NewLedgerService(store, prices, publisher, logger, serviceMetrics, opts)
	strategyService := service.NewStrategyService(store, prices, publisher, logger, serviceMetrics, opts)

	httpServer := buildHTTPServer(cfg, ready, registry, logger, handlers.New(ledgerService, strategyService, logger))

	ready.SetReady(true)

	go func() {
		logger.Info("portfolio http starting", "addr", httpServer.Addr, "store", cfg.StoreDriver)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, logger)
}

func buildStore(cfg *config.Config, logger *slog.Logger) (accountStore, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory account store")
		return storage.NewMemory(), func() {}, nil
	}
	pool, err := connectDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	return storage.New(pool, logger), pool.Close, nil
}

// buildOracle layers pegs and a cache over the upstream source. Static prices
// replace the HTTP source entirely.
func buildOracle(cfg *config.Config, logger *slog.Logger, m *oracle.Metrics, ready *health.Manager) (oracle.Oracle, func(), error) {
	var upstream oracle.Oracle
	if len(cfg.Oracle.StaticPrices) > 0 {
		logger.Warn("using static price table", "symbols", len(cfg.Oracle.StaticPrices))
		upstream = oracle.Static(cfg.Oracle.StaticPrices)
	} else {
		httpOracle, err := oracle.NewHTTP(oracle.HTTPConfig{
			BaseURL:        cfg.Oracle.BaseURL,
			APIKey:         cfg.Oracle.APIKey,
			VsCurrency:     cfg.Oracle.VsCurrency,
			CoinIDs:        cfg.Oracle.CoinIDs,
			AttemptTimeout: cfg.Oracle.AttemptTimeout,
			MaxAttempts:    cfg.Oracle.MaxAttempts,
		}, &http.Client{}, logger, m)
		if err != nil {
			return nil, nil, err
		}
		upstream = httpOracle
	}

	pegs := oracle.DefaultPegs()
	for sym, price := range cfg.Oracle.Pegs {
		pegs[sym] = price
	}

	cache, closeCache, err := buildPriceCache(cfg, logger, ready)
	if err != nil {
		return nil, nil, err
	}
	cached := oracle.NewCached(upstream, cache, cfg.Oracle.CacheTTL, logger, m)
	return oracle.NewPegged(cached, pegs), closeCache, nil
}

func buildPriceCache(cfg *config.Config, logger *slog.Logger, ready *health.Manager) (oracle.PriceCache, func(), error) {
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		if !cfg.App.IsDevLike() {
			logger.Warn("redis not configured, using in-process price cache")
		}
		return oracle.NewMemoryCache(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if cfg.App.IsDevLike() {
			logger.Warn("redis unavailable, using in-process price cache", "error", err)
			return oracle.NewMemoryCache(), func() {}, nil
		}
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	ready.AddCheck("redis", redisPinger{client})
	return oracle.NewRedisCache(client, cfg.Redis.Prefix), func() { _ = client.Close() }, nil
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func buildPublisher(cfg *config.Config, logger *slog.Logger, m *kafka.ProducerMetrics) (kafka.Publisher, error) {
	if !cfg.Kafka.Enabled {
		logger.Info("kafka disabled, events will not be published")
		return kafka.NopPublisher{}, nil
	}
	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, m)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Kafka.Topics.DeadLetter) != "" {
		return kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger), nil
	}
	return producer, nil
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func buildHTTPServer(cfg *config.Config, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger, h *handlers.Handler) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	h.Register(router, []byte(cfg.JWTSecret))

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
