package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"tg-points-bot/internal/adapters/mtproto"
	"tg-points-bot/internal/app"
	"tg-points-bot/internal/infra/config"
	applog "tg-points-bot/internal/infra/log"
	"tg-points-bot/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.APIID == 0 || cfg.Telegram.APIHash == "" || cfg.Telegram.Token == "" {
		logger.Fatal().Msg("reaction-poller: нужны TG_API_ID, TG_API_HASH и TG_BOT_TOKEN")
	}

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("reaction-poller: не удалось инициализировать зависимости")
	}
	defer deps.Close()

	events, err := deps.EventQueue()
	if err != nil {
		logger.Fatal().Err(err).Msg("reaction-poller: очередь событий недоступна")
	}

	client := mtproto.NewClient(cfg.Telegram.APIID, cfg.Telegram.APIHash, cfg.MTProto.SessionFile, cfg.Telegram.Token, logger)
	poller := mtproto.NewPoller(deps.Points, client, events, cfg.MTProto.LookbackDays, cfg.MTProto.PollInterval, logger)

	logger.Info().Dur("interval", cfg.MTProto.PollInterval).Msg("reaction-poller: старт")
	if err := client.Run(ctx, poller.Run); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("reaction-poller: MTProto клиент остановлен")
	}
	logger.Info().Msg("reaction-poller: остановка")
}
