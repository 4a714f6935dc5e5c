package points

import (
	"errors"
	"testing"
	"time"

	"tg-points-bot/internal/adapters/repo"
	"tg-points-bot/internal/domain"
)

func cappedActivity(perMessage, dailyCap int64, minMessages int) func(*Options) {
	return func(o *Options) {
		o.Rules.PointsPerMessage = perMessage
		o.Rules.DailyCap = dailyCap
		o.Rules.MinMessages = minMessages
	}
}

func TestRecordActivityReplayIsIdempotent(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store, cappedActivity(1, 5, 0))
	ctx := testContext(t)

	first, err := svc.RecordActivity(ctx, ref(1), testNow, 3)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.Delta != 3 {
		t.Fatalf("ожидали +3, получили %d", first.Delta)
	}
	second, err := svc.RecordActivity(ctx, ref(1), testNow, 3)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if second.Delta != 0 {
		t.Fatalf("повтор должен давать нулевую разницу, получили %d", second.Delta)
	}
	if n := len(store.History()); n != 1 {
		t.Fatalf("ожидали 1 запись журнала, получили %d", n)
	}
	if second.Activity.ID != first.Activity.ID {
		t.Fatalf("строка за день должна быть одна: %d и %d", first.Activity.ID, second.Activity.ID)
	}
	assertLedgerInvariants(t, store, svc)
}

func TestRecordActivityAppliesOnlyDifference(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store, cappedActivity(1, 5, 0))
	ctx := testContext(t)

	var deltas []int64
	for _, count := range []int{2, 4, 10, 12} {
		res, err := svc.RecordActivity(ctx, ref(1), testNow, count)
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		deltas = append(deltas, res.Delta)
	}
	want := []int64{2, 2, 1, 0}
	for i := range want {
		if deltas[i] != want[i] {
			t.Fatalf("разницы %v, ожидали %v", deltas, want)
		}
	}
	sum, err := svc.SumByReason(ctx, 1, domain.ReasonDailyActivity)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if sum != 5 {
		t.Fatalf("дневной лимит 5, получили %d", sum)
	}
	activity, err := svc.DailyActivity(ctx, 1, testNow)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if activity.MessageCount != 12 || activity.PointsAwarded != 5 {
		t.Fatalf("неожиданный снимок дня: %+v", activity)
	}
	user := mustUser(t, svc, 1)
	if user.LastActivityDate == nil || !user.LastActivityDate.Equal(domain.DayOf(testNow)) {
		t.Fatalf("дата последней активности не обновлена: %v", user.LastActivityDate)
	}
	assertLedgerInvariants(t, store, svc)
}

func TestRecordActivityIgnoresStaleLowerCount(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store, cappedActivity(1, 10, 0))
	ctx := testContext(t)

	if _, err := svc.RecordActivity(ctx, ref(1), testNow, 4); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := svc.RecordActivity(ctx, ref(1), testNow, 2)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Delta != 0 || res.Activity.MessageCount != 4 {
		t.Fatalf("устаревший счётчик не должен уменьшать день: %+v", res)
	}
	assertLedgerInvariants(t, store, svc)
}

func TestRecordActivityThreshold(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store, cappedActivity(1, 1, 3))
	ctx := testContext(t)

	res, err := svc.RecordActivity(ctx, ref(1), testNow, 2)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Delta != 0 || len(store.History()) != 0 {
		t.Fatalf("до порога очки не начисляются: %+v", res)
	}
	res, err = svc.RecordActivity(ctx, ref(1), testNow, 3)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Delta != 1 {
		t.Fatalf("ожидали +1 после порога, получили %d", res.Delta)
	}
}

func challengeWindow(start, end time.Time) func(*Options) {
	return func(o *Options) {
		o.Rules.ChallengeStart = &start
		o.Rules.ChallengeEnd = &end
	}
}

func TestRecordActivityOutsideChallengeAwardsNothing(t *testing.T) {
	store := repo.NewMemory()
	today := domain.DayOf(testNow)
	start, end := today.AddDate(0, 0, -3), today.AddDate(0, 0, -1)
	svc := newTestService(t, store, cappedActivity(1, 1, 1), challengeWindow(start, end))
	ctx := testContext(t)

	tests := []struct {
		user int64
		date time.Time
		want int64
	}{
		{user: 1, date: start.AddDate(0, 0, -1), want: 0},
		{user: 2, date: start, want: 1},
		{user: 3, date: end.Add(23 * time.Hour), want: 1},
		{user: 4, date: testNow, want: 0},
	}
	for _, tt := range tests {
		res, err := svc.RecordActivity(ctx, ref(tt.user), tt.date, 5)
		if err != nil {
			t.Fatalf("%s: не ожидали ошибку: %v", tt.date.Format(time.DateOnly), err)
		}
		if res.Delta != tt.want || res.Activity.MessageCount != 5 {
			t.Fatalf("%s: ожидали +%d, получили %+v", tt.date.Format(time.DateOnly), tt.want, res)
		}
	}
	if n := len(store.History()); n != 2 {
		t.Fatalf("ожидали 2 записи журнала, получили %d", n)
	}
	assertLedgerInvariants(t, store, svc)
}

func TestRecordActivityValidation(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)
	ctx := testContext(t)

	cases := []struct {
		name  string
		date  time.Time
		count int
	}{
		{name: "negative count", date: testNow, count: -1},
		{name: "future date", date: testNow.AddDate(0, 0, 1), count: 1},
		{name: "outside retention", date: testNow.AddDate(0, 0, -31), count: 1},
		{name: "zero date", count: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RecordActivity(ctx, ref(1), tc.date, tc.count)
			var vErr *domain.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("ожидали ValidationError, получили %v", err)
			}
		})
	}
	if store.TxCount() != 0 {
		t.Fatalf("некорректный ввод не должен доходить до хранилища")
	}
}

func TestPurgeActivityKeepsLedger(t *testing.T) {
	store := repo.NewMemory()
	clock := testNow
	svc := newTestService(t, store, func(o *Options) {
		o.Now = func() time.Time { return clock }
	})
	ctx := testContext(t)

	if _, err := svc.RecordActivity(ctx, ref(1), clock, 1); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	clock = clock.AddDate(0, 0, 40)
	if _, err := svc.RecordActivity(ctx, ref(1), clock, 1); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	removed, err := svc.PurgeActivity(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if removed != 1 {
		t.Fatalf("ожидали удаление одного дня, получили %d", removed)
	}
	if _, err := svc.DailyActivity(ctx, 1, testNow); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("старый день должен быть удалён, получили %v", err)
	}
	if got := mustUser(t, svc, 1).TotalPoints; got != 2 {
		t.Fatalf("очистка не трогает баланс: %d", got)
	}
	assertLedgerInvariants(t, store, svc)
}
