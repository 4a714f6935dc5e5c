// Package app собирает зависимости процессов из конфигурации.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-points-bot/internal/adapters/repo"
	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/infra/cache"
	"tg-points-bot/internal/infra/config"
	"tg-points-bot/internal/infra/db"
	"tg-points-bot/internal/infra/queue"
	"tg-points-bot/internal/usecase/points"
)

const localCacheSize = 10_000

// ErrNoBroker — для выбранного вида очереди не указан адрес брокера.
var ErrNoBroker = errors.New("event queue broker is not configured")

// Deps — общие зависимости процесса. Close освобождает подключения.
type Deps struct {
	Config config.AppConfig
	Log    zerolog.Logger
	Store  domain.PointsStore
	Points *points.Service
	Cache  domain.Cache
	Redis  *redis.Client

	closers []func()
}

// New подключает хранилище и кэш, создаёт сервис очков. Без PG_DSN используется хранилище в памяти,
// в prod это ошибка.
func New(ctx context.Context, cfg config.AppConfig, log zerolog.Logger) (*Deps, error) {
	d := &Deps{Config: cfg, Log: log}
	if err := d.openStore(ctx); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.openCache(ctx); err != nil {
		d.Close()
		return nil, err
	}
	rules, tiers, err := cfg.Rules()
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("правила начисления: %w", err)
	}
	svc, err := points.NewService(d.Store, log, points.Options{
		Rules: rules,
		Tiers: tiers,
		Retry: points.RetryPolicy{
			MaxRetries:      cfg.Retry.MaxRetries,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		},
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("сервис очков: %w", err)
	}
	d.Points = svc
	return d, nil
}

func (d *Deps) openStore(ctx context.Context) error {
	if d.Config.PGDSN == "" {
		if d.Config.AppEnv == "prod" {
			return errors.New("PG_DSN обязателен в prod")
		}
		d.Log.Warn().Msg("app: PG_DSN не задан, журнал хранится в памяти")
		d.Store = repo.NewMemory()
		return nil
	}
	pool, err := db.Connect(d.Config.PGDSN, d.Config.PGMaxConns)
	if err != nil {
		return fmt.Errorf("подключение к БД: %w", err)
	}
	d.closers = append(d.closers, pool.Close)
	if err := db.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	d.Store = repo.NewPostgres(pool)
	return nil
}

func (d *Deps) openCache(ctx context.Context) error {
	if d.Config.RedisAddr == "" {
		local, err := cache.NewLocal(localCacheSize)
		if err != nil {
			return fmt.Errorf("локальный кэш: %w", err)
		}
		d.Log.Warn().Msg("app: REDIS_ADDR не задан, счётчики хранятся в памяти процесса")
		d.Cache = local
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: d.Config.RedisAddr})
	d.closers = append(d.closers, func() { _ = client.Close() })
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	d.Redis = client
	d.Cache = cache.NewRedis(client)
	return nil
}

// EventQueue открывает очередь событий выбранного вида: redis, rabbitmq или memory.
func (d *Deps) EventQueue() (domain.EventQueue, error) {
	switch d.Config.Queues.Backend {
	case "redis":
		if d.Redis == nil {
			return nil, fmt.Errorf("redis: %w", ErrNoBroker)
		}
		return queue.NewRedisEventQueue(d.Redis, d.Config.Queues.Events), nil
	case "rabbitmq":
		if d.Config.RabbitURL == "" {
			return nil, fmt.Errorf("rabbitmq: %w", ErrNoBroker)
		}
		q, err := queue.NewRabbitEventQueue(d.Config.RabbitURL, d.Config.Queues.Events)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() { _ = q.Close() })
		return q, nil
	case "memory":
		return queue.NewMemoryEventQueue(0), nil
	default:
		return nil, fmt.Errorf("неизвестный EVENT_QUEUE_BACKEND %q", d.Config.Queues.Backend)
	}
}

// Location возвращает часовой пояс из TZ.
func (d *Deps) Location() *time.Location {
	loc, err := time.LoadLocation(d.Config.TZ)
	if err != nil {
		d.Log.Warn().Err(err).Str("tz", d.Config.TZ).Msg("app: неизвестный часовой пояс, используем UTC")
		return time.UTC
	}
	return loc
}

// Close закрывает подключения в обратном порядке.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}
