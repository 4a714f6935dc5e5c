package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"tg-points-bot/internal/adapters/bot"
	"tg-points-bot/internal/app"
	"tg-points-bot/internal/infra/config"
	httpinfra "tg-points-bot/internal/infra/http"
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

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось инициализировать зависимости")
	}
	defer deps.Close()

	events, err := deps.EventQueue()
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: очередь событий недоступна")
	}
	if _, inProcess := events.(*queue.MemoryEventQueue); inProcess {
		logger.Warn().Msg("bot-gateway: очередь в памяти, события обрабатываются в этом процессе")
		go ingest.NewWorker(logger, events, deps.Points, deps.Cache).Run(ctx)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать бота")
	}
	h := bot.NewHandler(botAPI, logger, deps.Points, events, deps.Cache, bot.Config{
		ChatID:         cfg.Telegram.ChatID,
		ValueChannelID: cfg.Telegram.ValueChannelID,
		ReviewChatID:   cfg.Telegram.ReviewChatID,
		AdminIDs:       cfg.Telegram.AdminIDs,
	})

	if cfg.Telegram.WebhookPath != "" {
		serveWebhook(ctx, cfg, logger, h)
	} else {
		pollUpdates(ctx, cfg.MetricsAddr, logger, botAPI, h)
	}
	logger.Info().Msg("bot-gateway: остановка")
}

// serveWebhook принимает апдейты на TG_WEBHOOK_PATH. Сам вебхук регистрируется в Telegram отдельно.
func serveWebhook(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger, h *bot.Handler) {
	srv := httpinfra.NewServer(applog.Component(logger, "http"))
	srv.Router.Post(cfg.Telegram.WebhookPath, func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, err)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})
	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("bot-gateway: HTTP сервер остановлен")
		}
	}()
	logger.Info().Str("path", cfg.Telegram.WebhookPath).Msg("bot-gateway: приём апдейтов через вебхук")
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func pollUpdates(ctx context.Context, metricsAddr string, logger zerolog.Logger, botAPI *tgbotapi.BotAPI, h *bot.Handler) {
	metrics.StartServer(ctx, applog.Component(logger, "metrics"), metricsAddr)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}
	updates := botAPI.GetUpdatesChan(u)
	logger.Info().Msg("bot-gateway: long polling")
	for {
		select {
		case <-ctx.Done():
			botAPI.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			h.HandleUpdate(ctx, upd)
		}
	}
}
