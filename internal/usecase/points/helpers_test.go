package points

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-points-bot/internal/adapters/repo"
	"tg-points-bot/internal/domain"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store *repo.Memory, mutate ...func(*Options)) *Service {
	t.Helper()
	opts := DefaultOptions()
	opts.Retry = RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	opts.Now = func() time.Time { return testNow }
	for _, fn := range mutate {
		fn(&opts)
	}
	svc, err := NewService(store, zerolog.Nop(), opts)
	if err != nil {
		t.Fatalf("не удалось создать сервис: %v", err)
	}
	return svc
}

// assertLedgerInvariants проверяет, что баланс каждого пользователя равен сумме журнала,
// а ступень соответствует балансу.
func assertLedgerInvariants(t *testing.T, store *repo.Memory, svc *Service) {
	t.Helper()
	sums := make(map[int64]int64)
	for _, e := range store.History() {
		sums[e.UserID] += e.PointsChange
	}
	for _, u := range store.Users() {
		if u.TotalPoints != sums[u.ID] {
			t.Fatalf("пользователь %d: total_points=%d, сумма журнала=%d", u.ID, u.TotalPoints, sums[u.ID])
		}
		if want := svc.TierFor(u.TotalPoints); u.Tier != want {
			t.Fatalf("пользователь %d: ступень %s, ожидали %s", u.ID, u.Tier, want)
		}
	}
}

func ref(id int64) domain.UserRef {
	return domain.UserRef{ID: id, DisplayName: "user"}
}

func mustUser(t *testing.T, svc *Service, id int64) domain.User {
	t.Helper()
	u, err := svc.GetUser(testContext(t), id)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	return u
}
