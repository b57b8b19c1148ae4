package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/exchange-bet-platform/internal/settlement/commission"
	"github.com/radieske/exchange-bet-platform/internal/settlement/engine"
	"github.com/radieske/exchange-bet-platform/internal/shared/config"
	"github.com/radieske/exchange-bet-platform/internal/shared/db"
	"github.com/radieske/exchange-bet-platform/internal/shared/kafka"
	"github.com/radieske/exchange-bet-platform/internal/shared/logger"
	"github.com/radieske/exchange-bet-platform/internal/shared/metrics"
	ev "github.com/radieske/exchange-bet-platform/pkg/contracts/events"
	"github.com/radieske/exchange-bet-platform/pkg/money"
)

func main() {
	cfg := config.Load()
	log, err := logger.New("settlement-worker", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	// Kafka consumer: eventos encerrados aguardando liquidação
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  strings.Split(cfg.KafkaBrokers, ","),
		GroupID:  "settlement",
		Topic:    cfg.TopicEventFinished,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	settledWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicEventSettled)
	defer settledWriter.Close()

	var dlqWriter *kafkago.Writer
	if cfg.TopicEventFinishedDLQ != "" {
		dlqWriter = kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicEventFinishedDLQ)
		defer dlqWriter.Close()
	}

	// Motor de comissão parametrizado por ambiente
	makerDiscount, err := decimal.NewFromString(cfg.MakerDiscount)
	if err != nil {
		log.Fatal("invalid MAKER_DISCOUNT", zap.Error(err))
	}
	minCommission, err := money.FromString(cfg.MinCommission, cfg.Currency)
	if err != nil {
		log.Fatal("invalid MIN_COMMISSION", zap.Error(err))
	}
	comm := commission.New(makerDiscount, minCommission)

	// Métricas Prometheus da liquidação
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_events_consumed_total", Help: "eventos consumidos"})
	matchesSettled := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_matches_settled_total", Help: "matches liquidados"})
	betsSettled := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_bets_settled_total", Help: "apostas liquidadas"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settlement_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, matchesSettled, betsSettled, errorsBy)

	eng := engine.New(log, pg, comm, cfg.Currency)
	eng.OnMatchSettled = func() { matchesSettled.Inc() }
	eng.OnBetSettled = func() { betsSettled.Inc() }
	eng.OnError = func(stage string) { errorsBy.WithLabelValues(stage).Inc() }

	// Servidor HTTP para métricas e health check
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, pg.PingContext)
	log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Varredura periódica de liquidações interrompidas
	sweepEvery, err := time.ParseDuration(cfg.SweepInterval)
	if err != nil {
		log.Fatal("invalid SETTLEMENT_SWEEP_INTERVAL", zap.Error(err))
	}
	go func() {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := eng.SweepUnsettled(ctx); err != nil && ctx.Err() == nil {
					log.Error("sweep", zap.Error(err))
				}
			}
		}
	}()

	log.Info("settlement-worker started",
		zap.String("consume", cfg.TopicEventFinished),
		zap.String("publish", cfg.TopicEventSettled),
		zap.Duration("sweep_interval", sweepEvery))

	// Loop principal: consome event_finished, liquida e publica event_settled
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("settlement-worker stopped")
				return
			}
			log.Warn("kafka read", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		consumed.Inc()

		var finished ev.EventFinished
		if jerr := json.Unmarshal(msg.Value, &finished); jerr != nil {
			log.Error("unmarshal event_finished", zap.Error(jerr))
			if dlqWriter != nil {
				_ = kafka.WriteJSON(ctx, dlqWriter, string(msg.Key), msg.Value)
			}
			continue
		}

		if err := processOne(ctx, log, eng, settledWriter, dlqWriter, &finished); err != nil {
			log.Error("settle event", zap.String("eventId", finished.EventID), zap.Error(err))
			time.Sleep(500 * time.Millisecond)
		}
	}
}

// processOne liquida um evento com retry simples; falha persistente manda o
// evento original para a DLQ
func processOne(ctx context.Context, log *zap.Logger, eng *engine.Engine,
	settledWriter, dlqWriter *kafkago.Writer, finished *ev.EventFinished) error {

	score := engine.FinalScore{
		HomeScore: finished.HomeScore,
		AwayScore: finished.AwayScore,
		Voided:    finished.Voided,
	}

	sum, err := eng.SettleEvent(ctx, finished.EventID, score)
	if err != nil {
		const retries = 3
		for i := 0; i < retries; i++ {
			time.Sleep(time.Duration(300*(i+1)) * time.Millisecond)
			if sum, err = eng.SettleEvent(ctx, finished.EventID, score); err == nil {
				break
			}
		}
		if err != nil {
			if dlqWriter != nil {
				_ = kafka.WriteJSON(ctx, dlqWriter, finished.EventID, mustJSON(finished))
			}
			return err
		}
	}

	settled := ev.EventSettled{
		EventID:        sum.EventID,
		MatchesSettled: sum.MatchesSettled,
		Pushes:         sum.Pushes,
		BetsSettled:    sum.BetsSettled,
		Ts:             time.Now(),
	}
	return kafka.WriteJSON(ctx, settledWriter, settled.EventID, mustJSON(settled))
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
