package points

import (
	"errors"
	"testing"

	"tg-points-bot/internal/adapters/repo"
	"tg-points-bot/internal/domain"
)

func observe(messageID int64, author *domain.UserRef, fire, gem, hundred int, pinned bool) PostObservation {
	return PostObservation{
		MessageID: messageID,
		ChannelID: 500,
		Author:    author,
		Reactions: &domain.ReactionCounts{Fire: fire, Gem: gem, Hundred: hundred},
		Pinned:    &pinned,
		PostedAt:  testNow,
	}
}

func TestRecomputePostAppliesNegativeDifference(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)
	ctx := testContext(t)
	author := ref(1)
	rules := svc.Rules()

	first, err := svc.RecomputePost(ctx, observe(100, &author, 2, 1, 0, false))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !first.Created || first.Delta != 2*rules.FireWeight+rules.GemWeight {
		t.Fatalf("неожиданный первый пересчёт: %+v", first)
	}
	second, err := svc.RecomputePost(ctx, observe(100, nil, 1, 1, 0, false))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if second.Delta != -rules.FireWeight {
		t.Fatalf("ожидали разницу -%d, получили %d", rules.FireWeight, second.Delta)
	}
	sum, err := svc.SumByReason(ctx, 1, domain.ReasonValuePost)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if sum != rules.FireWeight+rules.GemWeight {
		t.Fatalf("сумма по посту должна равняться текущей оценке, получили %d", sum)
	}
	history := store.History()
	if len(history) != 2 || history[1].ReferenceType == nil || *history[1].ReferenceType != domain.RefValuePost {
		t.Fatalf("ожидали две записи со ссылкой на пост: %+v", history)
	}
	assertLedgerInvariants(t, store, svc)
}

func TestRecomputePostReplayIsIdempotent(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)
	ctx := testContext(t)
	author := ref(1)

	for i := 0; i < 3; i++ {
		if _, err := svc.RecomputePost(ctx, observe(100, &author, 1, 0, 1, false)); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if n := len(store.History()); n != 1 {
		t.Fatalf("повторы не должны создавать записи, получили %d", n)
	}
	assertLedgerInvariants(t, store, svc)
}

func TestSetPostPinnedKeepsReactions(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)
	ctx := testContext(t)
	author := ref(1)
	rules := svc.Rules()

	if _, err := svc.RecomputePost(ctx, observe(100, &author, 1, 0, 0, false)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	pinned, err := svc.SetPostPinned(ctx, 100, true)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if pinned.Delta != rules.PinBonus || pinned.Post.FireCount != 1 {
		t.Fatalf("закреп должен добавить только бонус: %+v", pinned)
	}
	unpinned, err := svc.SetPostPinned(ctx, 100, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if unpinned.Delta != -rules.PinBonus {
		t.Fatalf("открепление должно снять бонус: %+v", unpinned)
	}
	if got := mustUser(t, svc, 1).TotalPoints; got != rules.FireWeight {
		t.Fatalf("ожидали %d, получили %d", rules.FireWeight, got)
	}
	assertLedgerInvariants(t, store, svc)
}

func TestRecomputeUnknownPostWithoutAuthor(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)

	_, err := svc.RecomputePost(testContext(t), observe(404, nil, 1, 0, 0, false))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if _, err := svc.SetPostPinned(testContext(t), 404, true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func TestRecomputePostRejectsNegativeCounts(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)
	author := ref(1)

	_, err := svc.RecomputePost(testContext(t), observe(1, &author, -1, 0, 0, false))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
}

func TestValuePostDailyLimit(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)
	ctx := testContext(t)
	author := ref(1)

	for id := int64(1); id <= 2; id++ {
		if _, err := svc.RecomputePost(ctx, observe(id, &author, 0, 0, 0, false)); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	_, err := svc.RecomputePost(ctx, observe(3, &author, 1, 0, 0, false))
	if !errors.Is(err, domain.ErrDailyPostLimit) || !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrDailyPostLimit, получили %v", err)
	}
	nextDay := observe(3, &author, 1, 0, 0, false)
	nextDay.PostedAt = testNow.AddDate(0, 0, 1)
	if _, err := svc.RecomputePost(ctx, nextDay); err != nil {
		t.Fatalf("на следующий день лимит сбрасывается: %v", err)
	}
}

func TestRetractPost(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)
	ctx := testContext(t)
	author := ref(1)

	if _, err := svc.RecomputePost(ctx, observe(100, &author, 2, 2, 2, true)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := svc.RetractPost(ctx, 100)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Delta >= 0 {
		t.Fatalf("ожидали отрицательную разницу, получили %d", res.Delta)
	}
	if got := mustUser(t, svc, 1).TotalPoints; got != 0 {
		t.Fatalf("после удаления поста баланс 0, получили %d", got)
	}
	if _, err := svc.ValuePost(ctx, 100); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("пост должен быть удалён, получили %v", err)
	}
	if _, err := svc.RetractPost(ctx, 100); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("повторное удаление: ожидали ErrNotFound, получили %v", err)
	}
	assertLedgerInvariants(t, store, svc)
}

func TestReassignPostMovesPointsAtomically(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)
	ctx := testContext(t)
	author := ref(1)

	created, err := svc.RecomputePost(ctx, observe(100, &author, 3, 0, 0, false))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := svc.ReassignPost(ctx, 100, ref(2))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Post.UserID != 2 {
		t.Fatalf("автор не изменён: %+v", res.Post)
	}
	if mustUser(t, svc, 1).TotalPoints != 0 || mustUser(t, svc, 2).TotalPoints != created.Post.TotalPoints {
		t.Fatalf("очки поста должны перейти новому автору")
	}
	if n := len(store.History()); n != 3 {
		t.Fatalf("ожидали начисление, списание и перенос: %d записей", n)
	}
	assertLedgerInvariants(t, store, svc)
}
