package queue

import (
	"context"
	"fmt"

	"tg-points-bot/internal/domain"
)

// MemoryEventQueue — очередь в памяти процесса для запуска без брокера.
// Неподтверждённое событие возвращается в конец очереди.
type MemoryEventQueue struct {
	ch chan domain.PointEvent
}

var _ domain.EventQueue = (*MemoryEventQueue)(nil)

// NewMemoryEventQueue создаёт очередь на size событий.
func NewMemoryEventQueue(size int) *MemoryEventQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryEventQueue{ch: make(chan domain.PointEvent, size)}
}

// Enqueue блокируется, пока в очереди нет места.
func (q *MemoryEventQueue) Enqueue(ctx context.Context, event domain.PointEvent) error {
	select {
	case q.ch <- event:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("memory queue: %w", ctx.Err())
	}
}

// Receive ждёт следующее событие.
func (q *MemoryEventQueue) Receive(ctx context.Context) (domain.PointEvent, domain.AckFunc, error) {
	select {
	case event := <-q.ch:
		ack := func(success bool) error {
			if success {
				return nil
			}
			select {
			case q.ch <- event:
				return nil
			default:
				return fmt.Errorf("memory queue: нет места для повтора события %s", event.ID)
			}
		}
		return event, ack, nil
	case <-ctx.Done():
		return domain.PointEvent{}, nil, ctx.Err()
	}
}

// Len возвращает число ожидающих событий.
func (q *MemoryEventQueue) Len() int {
	return len(q.ch)
}
