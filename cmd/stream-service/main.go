package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/exchange-bet-platform/internal/shared/cache"
	"github.com/radieske/exchange-bet-platform/internal/shared/config"
	"github.com/radieske/exchange-bet-platform/internal/shared/logger"
	"github.com/radieske/exchange-bet-platform/internal/shared/metrics"
	"github.com/radieske/exchange-bet-platform/internal/stream/ws"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("stream-service", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "stream-service"), zap.String("env", cfg.Env))

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Hub WebSocket alimentado pelo canal de broadcast do exchange
	hub := ws.NewHub(func(*http.Request) bool { return true })
	ws.StartRedisSubscriber(ctx, log, redisClient, hub)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	apiSrv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: mux}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, func(hctx context.Context) error {
		return redisClient.Ping(hctx).Err()
	})
	log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	go func() {
		log.Info("ws listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("ws srv", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
