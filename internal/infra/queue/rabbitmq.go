package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/infra/metrics"
)

// RabbitEventQueue реализует очередь событий через AMQP. Неподтверждённые сообщения
// RabbitMQ доставит повторно после переподключения.
type RabbitEventQueue struct {
	conn    *amqp.Connection
	publish *amqp.Channel
	queue   string

	mu         sync.Mutex
	consume    *amqp.Channel
	deliveries <-chan amqp.Delivery
}

var _ domain.EventQueue = (*RabbitEventQueue)(nil)

// NewRabbitEventQueue подключается к брокеру и объявляет устойчивую очередь.
func NewRabbitEventQueue(amqpURL, queue string) (*RabbitEventQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitEventQueue{conn: conn, publish: ch, queue: queue}, nil
}

// Enqueue публикует событие как persistent-сообщение.
func (q *RabbitEventQueue) Enqueue(ctx context.Context, event domain.PointEvent) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.publish.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.ObservedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Receive ждёт следующее сообщение. ack(false) возвращает его в очередь.
func (q *RabbitEventQueue) Receive(ctx context.Context) (domain.PointEvent, domain.AckFunc, error) {
	deliveries, err := q.startConsume()
	if err != nil {
		return domain.PointEvent{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.PointEvent{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			q.resetConsume()
			return domain.PointEvent{}, nil, errors.New("rabbitmq: канал доставки закрыт")
		}
		event, err := decodeEvent(d.Body)
		if err != nil {
			_ = d.Nack(false, false)
			return domain.PointEvent{}, nil, err
		}
		return event, func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}, nil
	}
}

func (q *RabbitEventQueue) startConsume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.consume = ch
	q.deliveries = deliveries
	return deliveries, nil
}

func (q *RabbitEventQueue) resetConsume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consume != nil {
		_ = q.consume.Close()
	}
	q.consume = nil
	q.deliveries = nil
}

// Close закрывает каналы и соединение.
func (q *RabbitEventQueue) Close() error {
	q.resetConsume()
	_ = q.publish.Close()
	return q.conn.Close()
}
