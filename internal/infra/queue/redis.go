package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/infra/metrics"
)

// RedisEventQueue реализует очередь событий на списках Redis. Полученное событие
// переносится в список processing и остаётся там до подтверждения.
type RedisEventQueue struct {
	client     *redis.Client
	key        string
	processing string
}

var _ domain.EventQueue = (*RedisEventQueue)(nil)

// NewRedisEventQueue создаёт очередь по указанному ключу.
func NewRedisEventQueue(client *redis.Client, key string) *RedisEventQueue {
	return &RedisEventQueue{client: client, key: key, processing: key + ":processing"}
}

// Enqueue публикует событие в очередь.
func (q *RedisEventQueue) Enqueue(ctx context.Context, event domain.PointEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Receive блокирующе читает событие. ack(true) удаляет его из processing,
// ack(false) возвращает в конец очереди.
func (q *RedisEventQueue) Receive(ctx context.Context) (domain.PointEvent, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.PointEvent{}, nil, err
		}

		start := time.Now()
		payload, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", time.Second).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		metrics.ObserveNetworkRequest("redis", "blmove", q.key, start, err)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.PointEvent{}, nil, ctx.Err()
				}
				continue
			}
			return domain.PointEvent{}, nil, err
		}

		event, err := decodeEvent([]byte(payload))
		if err != nil {
			// Битое сообщение не вернётся в очередь.
			_ = q.client.LRem(context.Background(), q.processing, 1, payload).Err()
			return domain.PointEvent{}, nil, err
		}
		return event, q.ackFunc(payload), nil
	}
}

func (q *RedisEventQueue) ackFunc(payload string) domain.AckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		start := time.Now()
		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, payload)
			if !success {
				pipe.LPush(ctx, q.key, payload)
			}
			return nil
		})
		metrics.ObserveNetworkRequest("redis", "ack", q.key, start, err)
		return err
	}
}

// Recover возвращает в очередь события, оставшиеся неподтверждёнными после падения обработчика.
func (q *RedisEventQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		start := time.Now()
		err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		metrics.ObserveNetworkRequest("redis", "lmove", q.processing, start, err)
		if err != nil {
			return moved, err
		}
		moved++
	}
}

func encodeEvent(event domain.PointEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}

func decodeEvent(payload []byte) (domain.PointEvent, error) {
	var event domain.PointEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.PointEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if event.Kind == "" {
		return domain.PointEvent{}, errors.New("decode event: не указан вид события")
	}
	return event, nil
}
