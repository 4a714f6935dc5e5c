package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-points-bot/internal/adapters/repo"
	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/infra/cache"
	"tg-points-bot/internal/usecase/points"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeQueue struct {
	events chan domain.PointEvent
	acks   []bool
}

func newFakeQueue(events ...domain.PointEvent) *fakeQueue {
	q := &fakeQueue{events: make(chan domain.PointEvent, len(events))}
	for _, e := range events {
		q.events <- e
	}
	return q
}

func (q *fakeQueue) Enqueue(ctx context.Context, event domain.PointEvent) error {
	q.events <- event
	return nil
}

func (q *fakeQueue) Receive(ctx context.Context) (domain.PointEvent, domain.AckFunc, error) {
	select {
	case <-ctx.Done():
		return domain.PointEvent{}, nil, ctx.Err()
	case e := <-q.events:
		return e, q.ack, nil
	}
}

func (q *fakeQueue) ack(success bool) error {
	q.acks = append(q.acks, success)
	return nil
}

func newTestWorker(t *testing.T, queue domain.EventQueue) (*Worker, *repo.Memory, *points.Service) {
	t.Helper()
	store := repo.NewMemory()
	opts := points.DefaultOptions()
	opts.Retry = points.RetryPolicy{MaxRetries: 0, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	opts.Now = func() time.Time { return testNow }
	svc, err := points.NewService(store, zerolog.Nop(), opts)
	if err != nil {
		t.Fatalf("не удалось создать сервис: %v", err)
	}
	attempts, err := cache.NewLocal(64)
	if err != nil {
		t.Fatalf("не удалось создать кэш: %v", err)
	}
	w := NewWorker(zerolog.Nop(), queue, svc, attempts)
	w.backoff = 0
	return w, store, svc
}

func TestProcessActivityIsIdempotent(t *testing.T) {
	q := newFakeQueue()
	w, store, svc := newTestWorker(t, q)
	ctx := testContext(t)

	ev := domain.PointEvent{ID: "a-1", Kind: domain.EventActivity, UserID: 7, DisplayName: "ann", Date: testNow, MessageCount: 4}
	w.Process(ctx, ev, q.ack)
	ev.ID = "a-2"
	w.Process(ctx, ev, q.ack)

	user, err := svc.GetUser(ctx, 7)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if user.TotalPoints != 1 || len(store.History()) != 1 {
		t.Fatalf("повтор не должен начислять дважды: total=%d записей=%d", user.TotalPoints, len(store.History()))
	}
	if len(q.acks) != 2 || !q.acks[0] || !q.acks[1] {
		t.Fatalf("ожидали два подтверждения, получили %v", q.acks)
	}
}

func TestProcessPostLifecycle(t *testing.T) {
	q := newFakeQueue()
	w, _, svc := newTestWorker(t, q)
	ctx := testContext(t)

	w.Process(ctx, domain.PointEvent{ID: "p-1", Kind: domain.EventPostCreated, UserID: 3, MessageID: 100, ChannelID: 9, Date: testNow}, q.ack)
	w.Process(ctx, domain.PointEvent{ID: "p-2", Kind: domain.EventReactions, MessageID: 100, Reactions: &domain.ReactionCounts{Fire: 2, Gem: 1}}, q.ack)
	w.Process(ctx, domain.PointEvent{ID: "p-3", Kind: domain.EventPin, MessageID: 100, Pinned: true}, q.ack)

	user, err := svc.GetUser(ctx, 3)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if user.TotalPoints != 2*3+3+15 {
		t.Fatalf("ожидали %d очков, получили %d", 2*3+3+15, user.TotalPoints)
	}

	w.Process(ctx, domain.PointEvent{ID: "p-4", Kind: domain.EventPostDeleted, MessageID: 100}, q.ack)
	user, _ = svc.GetUser(ctx, 3)
	if user.TotalPoints != 0 {
		t.Fatalf("удаление поста списывает очки, осталось %d", user.TotalPoints)
	}
	for i, ok := range q.acks {
		if !ok {
			t.Fatalf("событие %d не подтверждено", i)
		}
	}
}

func TestProcessDropsPermanentErrors(t *testing.T) {
	q := newFakeQueue()
	w, store, _ := newTestWorker(t, q)
	ctx := testContext(t)

	events := []domain.PointEvent{
		{ID: "", Kind: domain.EventActivity, UserID: 1, Date: testNow, MessageCount: 1},
		{ID: "r-1", Kind: domain.EventReactions, MessageID: 404, Reactions: &domain.ReactionCounts{Fire: 1}},
		{ID: "r-2", Kind: domain.EventReactions, MessageID: 404},
		{ID: "x-1", Kind: "unknown"},
		{ID: "a-1", Kind: domain.EventActivity, UserID: 1, Date: testNow.AddDate(0, 0, 2), MessageCount: 1},
	}
	for _, ev := range events {
		w.Process(ctx, ev, q.ack)
	}
	if len(q.acks) != len(events) {
		t.Fatalf("ожидали %d подтверждений, получили %d", len(events), len(q.acks))
	}
	for i, ok := range q.acks {
		if !ok {
			t.Fatalf("постоянная ошибка не должна возвращать событие %d в очередь", i)
		}
	}
	if n := len(store.History()); n != 0 {
		t.Fatalf("журнал должен быть пуст, записей %d", n)
	}
}

func TestProcessRetriesTransientConflicts(t *testing.T) {
	q := newFakeQueue()
	w, store, _ := newTestWorker(t, q)
	store.InjectConflicts(100)

	ev := domain.PointEvent{ID: "c-1", Kind: domain.EventActivity, UserID: 1, Date: testNow, MessageCount: 2}
	for i := 0; i < MaxDeliveryAttempts; i++ {
		w.Process(testContext(t), ev, q.ack)
	}
	want := []bool{false, false, false, false, true}
	if len(q.acks) != len(want) {
		t.Fatalf("ожидали %d подтверждений, получили %v", len(want), q.acks)
	}
	for i := range want {
		if q.acks[i] != want[i] {
			t.Fatalf("попытка %d: ожидали ack(%v), получили %v", i+1, want[i], q.acks)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	q := newFakeQueue(
		domain.PointEvent{ID: "a-1", Kind: domain.EventActivity, UserID: 5, Date: testNow, MessageCount: 1},
		domain.PointEvent{ID: "a-2", Kind: domain.EventActivity, UserID: 6, Date: testNow, MessageCount: 1},
	)
	w, store, _ := newTestWorker(t, q)

	ctx, cancel := context.WithCancel(testContext(t))
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(store.History()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("события не обработаны за отведённое время")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run не завершился после отмены контекста")
	}
}
