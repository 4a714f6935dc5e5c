package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"tg-points-bot/internal/app"
	"tg-points-bot/internal/infra/config"
	applog "tg-points-bot/internal/infra/log"
	"tg-points-bot/internal/infra/metrics"
	"tg-points-bot/internal/infra/queue"
	"tg-points-bot/internal/usecase/ingest"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ingester: не удалось инициализировать зависимости")
	}
	defer deps.Close()

	events, err := deps.EventQueue()
	if err != nil {
		logger.Fatal().Err(err).Msg("ingester: очередь событий недоступна")
	}
	if rq, ok := events.(*queue.RedisEventQueue); ok {
		moved, err := rq.Recover(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("ingester: не удалось вернуть незавершённые события")
		} else if moved > 0 {
			logger.Info().Int("events", moved).Msg("ingester: незавершённые события возвращены в очередь")
		}
	}

	worker := ingest.NewWorker(logger, events, deps.Points, deps.Cache)
	logger.Info().Str("backend", cfg.Queues.Backend).Msg("ingester: старт")
	worker.Run(ctx)
	logger.Info().Msg("ingester: остановка")
}
