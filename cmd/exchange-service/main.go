package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	excache "github.com/radieske/exchange-bet-platform/internal/exchange/cache"
	"github.com/radieske/exchange-bet-platform/internal/exchange/engine"
	"github.com/radieske/exchange-bet-platform/internal/exchange/httpapi"
	"github.com/radieske/exchange-bet-platform/internal/exchange/notify"
	exrepo "github.com/radieske/exchange-bet-platform/internal/exchange/repo"
	"github.com/radieske/exchange-bet-platform/internal/exchange/strategy"
	sharedcache "github.com/radieske/exchange-bet-platform/internal/shared/cache"
	"github.com/radieske/exchange-bet-platform/internal/shared/config"
	"github.com/radieske/exchange-bet-platform/internal/shared/db"
	"github.com/radieske/exchange-bet-platform/internal/shared/kafka"
	"github.com/radieske/exchange-bet-platform/internal/shared/logger"
	"github.com/radieske/exchange-bet-platform/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("exchange-service", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "exchange-service"), zap.String("env", cfg.Env))

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// Estratégia de matching configurável por ambiente
	topFraction, err := decimal.NewFromString(cfg.HybridTopFraction)
	if err != nil {
		log.Fatal("invalid HYBRID_TOP_FRACTION", zap.Error(err))
	}
	alloc, err := strategy.FromConfig(cfg.MatchStrategy, cfg.HybridTopN, topFraction)
	if err != nil {
		log.Fatal("invalid MATCH_STRATEGY", zap.Error(err))
	}
	log.Info("matching strategy", zap.String("name", alloc.Name()))

	matchWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMatchCreated)
	defer matchWriter.Close()

	// Métricas Prometheus do matching
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{Name: "exchange_orders_placed_total", Help: "ordens colocadas"})
	matchesCreated := prometheus.NewCounter(prometheus.CounterOpts{Name: "exchange_matches_created_total", Help: "matches criados"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "exchange_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(ordersPlaced, matchesCreated, errorsBy)

	eng := engine.New(log,
		exrepo.NewPostgres(pg),
		alloc,
		notify.NewRedisBroadcaster(redisClient),
		excache.NewRedisCache(redisClient, 30*time.Second),
		kafka.JSONWriter{W: matchWriter},
		cfg.Currency)
	eng.OnOrderPlaced = func() { ordersPlaced.Inc() }
	eng.OnMatch = func() { matchesCreated.Inc() }
	eng.OnError = func(stage string) { errorsBy.WithLabelValues(stage).Inc() }

	api := &httpapi.API{Log: log, Engine: eng, Currency: cfg.Currency}
	apiSrv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: api.Router()}

	// Servidor de métricas e health check
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return err
		}
		return redisClient.Ping(ctx).Err()
	})
	log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("api srv", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
