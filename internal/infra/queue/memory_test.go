package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"tg-points-bot/internal/domain"
)

func TestMemoryQueueRequeuesOnNack(t *testing.T) {
	q := NewMemoryEventQueue(2)
	ctx := context.Background()
	if err := q.Enqueue(ctx, domain.PointEvent{ID: "a", Kind: domain.EventActivity}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	event, ack, err := q.Receive(ctx)
	if err != nil || event.ID != "a" {
		t.Fatalf("ожидали событие a: %+v %v", event, err)
	}
	if err := ack(false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("событие должно вернуться в очередь")
	}

	_, ack, _ = q.Receive(ctx)
	if err := ack(true); err != nil || q.Len() != 0 {
		t.Fatalf("подтверждённое событие удаляется: %v, осталось %d", err, q.Len())
	}
}

func TestMemoryQueueHonoursContext(t *testing.T) {
	q := NewMemoryEventQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := q.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ожидали DeadlineExceeded, получили %v", err)
	}

	_ = q.Enqueue(context.Background(), domain.PointEvent{ID: "x"})
	if err := q.Enqueue(ctx, domain.PointEvent{ID: "y"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("переполненная очередь ждёт контекст: %v", err)
	}
}

func TestEventCodecRoundTrip(t *testing.T) {
	in := domain.PointEvent{
		ID:         "e1",
		Kind:       domain.EventReactions,
		MessageID:  9,
		Reactions:  &domain.ReactionCounts{Fire: 2, Hundred: 1},
		ObservedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	payload, err := encodeEvent(in)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	out, err := decodeEvent(payload)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if out.ID != in.ID || out.Reactions == nil || *out.Reactions != *in.Reactions || !out.ObservedAt.Equal(in.ObservedAt) {
		t.Fatalf("событие изменилось: %+v", out)
	}
	if _, err := decodeEvent([]byte(`{"kind":""}`)); err == nil {
		t.Fatalf("событие без вида отклоняется")
	}
}
