package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tg-points-bot/internal/adapters/httpapi"
	"tg-points-bot/internal/app"
	"tg-points-bot/internal/infra/config"
	httpinfra "tg-points-bot/internal/infra/http"
	applog "tg-points-bot/internal/infra/log"
	"tg-points-bot/internal/infra/metrics"
	"tg-points-bot/internal/usecase/leaderboard"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось инициализировать зависимости")
	}
	defer deps.Close()

	if cfg.API.Token == "" {
		logger.Warn().Msg("api: API_TOKEN не задан, авторизация отключена")
	}

	boards := leaderboard.NewService(deps.Points, deps.Cache, 10, 6*time.Hour, logger)
	srv := httpinfra.NewServer(applog.Component(logger, "http"))
	httpapi.NewHandler(deps.Points, boards, logger).Mount(srv.Router, cfg.API.Token)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка остановки сервера")
	}
}
