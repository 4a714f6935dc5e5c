package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-points-bot/internal/adapters/repo"
	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/infra/cache"
	"tg-points-bot/internal/infra/config"
	"tg-points-bot/internal/infra/queue"
)

func devConfig() config.AppConfig {
	var cfg config.AppConfig
	cfg.AppEnv = "dev"
	cfg.TZ = "Europe/Moscow"
	cfg.Queues.Backend = "memory"
	cfg.Queues.Events = "point_events"
	cfg.Points.PointsPerMessage = 1
	cfg.Points.DailyCap = 1
	cfg.Points.MinMessages = 1
	cfg.Points.MaxValuePostsPerDay = 2
	cfg.Points.MaxReferrals = 10
	return cfg
}

func TestNewWithoutInfrastructure(t *testing.T) {
	deps, err := New(context.Background(), devConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	defer deps.Close()

	if _, ok := deps.Store.(*repo.Memory); !ok {
		t.Fatalf("без PG_DSN ожидали хранилище в памяти, получили %T", deps.Store)
	}
	if _, ok := deps.Cache.(*cache.Local); !ok {
		t.Fatalf("без REDIS_ADDR ожидали локальный кэш, получили %T", deps.Cache)
	}
	q, err := deps.EventQueue()
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, ok := q.(*queue.MemoryEventQueue); !ok {
		t.Fatalf("ожидали очередь в памяти, получили %T", q)
	}

	user, err := deps.Points.AdjustPoints(context.Background(), domain.UserRef{ID: 1}, 55, 9, "")
	if err != nil || user.Tier != domain.TierBuilder {
		t.Fatalf("сервис очков должен работать: %+v %v", user, err)
	}
	if loc := deps.Location(); loc.String() != "Europe/Moscow" {
		t.Fatalf("неожиданный часовой пояс: %s", loc)
	}
}

func TestNewRequiresDatabaseInProd(t *testing.T) {
	cfg := devConfig()
	cfg.AppEnv = "prod"
	if _, err := New(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("в prod без PG_DSN ожидали ошибку")
	}
}

func TestEventQueueBackends(t *testing.T) {
	deps, err := New(context.Background(), devConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	defer deps.Close()

	for _, backend := range []string{"redis", "rabbitmq"} {
		deps.Config.Queues.Backend = backend
		if _, err := deps.EventQueue(); !errors.Is(err, ErrNoBroker) {
			t.Fatalf("%s без адреса: ожидали ErrNoBroker, получили %v", backend, err)
		}
	}
	deps.Config.Queues.Backend = "kafka"
	if _, err := deps.EventQueue(); err == nil {
		t.Fatalf("неизвестный вид очереди должен давать ошибку")
	}
	deps.Config.TZ = "Mars/Olympus"
	if deps.Location() != time.UTC {
		t.Fatalf("неизвестный пояс заменяется UTC")
	}
}
