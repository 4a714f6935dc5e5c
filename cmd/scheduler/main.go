package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"tg-points-bot/internal/adapters/bot"
	"tg-points-bot/internal/app"
	"tg-points-bot/internal/infra/config"
	applog "tg-points-bot/internal/infra/log"
	"tg-points-bot/internal/infra/metrics"
	"tg-points-bot/internal/usecase/leaderboard"
	"tg-points-bot/internal/usecase/schedule"
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
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать зависимости")
	}
	defer deps.Close()

	var publisher schedule.Publisher
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: не удалось создать бота")
		}
		publisher = bot.NewAnnouncer(botAPI, cfg.Telegram.ChatID)
	} else {
		logger.Warn().Msg("scheduler: TG_BOT_TOKEN или TG_CHAT_ID не заданы, таблица лидеров не публикуется")
	}

	boards := leaderboard.NewService(deps.Points, deps.Cache, 10, 6*time.Hour, logger)
	svc := schedule.NewService(deps.Points, boards, publisher, schedule.Specs{
		Leaderboard: cfg.Scheduler.LeaderboardSpec,
		Reconcile:   cfg.Scheduler.ReconcileSpec,
		Purge:       cfg.Scheduler.PurgeSpec,
	}, deps.Location(), logger)

	if err := svc.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректное расписание")
	}
}
