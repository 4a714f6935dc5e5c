package points

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tg-points-bot/internal/adapters/repo"
	"tg-points-bot/internal/domain"
)

func amountOf(v float64) *float64 { return &v }

func createWin(t *testing.T, svc *Service, userID int64, amount float64) domain.Submission {
	t.Helper()
	sub, err := svc.CreateSubmission(testContext(t), NewSubmission{
		User:        ref(userID),
		Type:        domain.SubmissionWin,
		Description: "first sale",
		ProofURL:    "https://example.com/proof.png",
		Amount:      amountOf(amount),
	})
	if err != nil {
		t.Fatalf("не удалось создать заявку: %v", err)
	}
	return sub
}

func TestApproveSubmissionOnlyOnce(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)
	ctx := testContext(t)
	sub := createWin(t, svc, 1, 1200)

	approved, err := svc.ApproveSubmission(ctx, sub.ID, 900, 30)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if approved.Status != domain.SubmissionApproved || approved.ReviewedBy == nil || *approved.ReviewedBy != 900 || approved.ReviewedAt == nil {
		t.Fatalf("решение не сохранено: %+v", approved)
	}
	_, err = svc.ApproveSubmission(ctx, sub.ID, 900, 30)
	if !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("ожидали ErrInvalidStateTransition, получили %v", err)
	}
	if got := mustUser(t, svc, 1).TotalPoints; got != 30 {
		t.Fatalf("очки должны быть начислены один раз, получили %d", got)
	}
	history := store.History()
	if len(history) != 1 || history[0].Reason != string(domain.SubmissionWin) || history[0].ReferenceID == nil || *history[0].ReferenceID != sub.ID {
		t.Fatalf("ожидали одну запись со ссылкой на заявку: %+v", history)
	}
	assertLedgerInvariants(t, store, svc)
}

func TestRejectThenApproveFails(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)
	ctx := testContext(t)
	sub := createWin(t, svc, 1, 10)

	rejected, err := svc.RejectSubmission(ctx, sub.ID, 900)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if rejected.Status != domain.SubmissionRejected || rejected.PointsAwarded != 0 {
		t.Fatalf("неожиданное состояние: %+v", rejected)
	}
	if _, err := svc.ApproveSubmission(ctx, sub.ID, 900, 5); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("ожидали ErrInvalidStateTransition, получили %v", err)
	}
	if _, err := svc.RejectSubmission(ctx, sub.ID, 900); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("повторное отклонение: ожидали ErrInvalidStateTransition, получили %v", err)
	}
	if n := len(store.History()); n != 0 {
		t.Fatalf("журнал должен быть пуст, получили %d записей", n)
	}
	stored, err := svc.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if stored.Status != domain.SubmissionRejected {
		t.Fatalf("окончательный статус не должен меняться: %s", stored.Status)
	}
}

func TestApproveSubmissionConcurrentReviewers(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)
	sub := createWin(t, svc, 1, 600)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(reviewer int64) {
			defer wg.Done()
			_, err := svc.ApproveSubmission(testContext(t), sub.ID, reviewer, 15)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInvalidStateTransition):
				rejected++
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}(int64(900 + i))
	}
	wg.Wait()
	if succeeded != 1 || rejected != 9 {
		t.Fatalf("ожидали одно одобрение и 9 отказов, получили %d и %d", succeeded, rejected)
	}
	if got := mustUser(t, svc, 1).TotalPoints; got != 15 {
		t.Fatalf("ожидали 15 очков, получили %d", got)
	}
}

func TestApproveSideEffects(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)
	ctx := testContext(t)

	referral, err := svc.CreateSubmission(ctx, NewSubmission{User: ref(1), Type: domain.SubmissionReferral, Description: "@friend", ReferralType: "Whop"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if svc.SuggestPoints(referral) != 10 {
		t.Fatalf("ожидали подсказку 10 для whop")
	}
	if _, err := svc.ApproveSubmission(ctx, referral.ID, 900, svc.SuggestPoints(referral)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	scaler, err := svc.CreateSubmission(ctx, NewSubmission{User: ref(1), Type: domain.SubmissionScalerApplication})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := svc.ApproveSubmission(ctx, scaler.ID, 900, 0); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	user := mustUser(t, svc, 1)
	if user.ReferralCount != 1 || !user.IsScaler || user.TotalPoints != 10 {
		t.Fatalf("неожиданное состояние пользователя: %+v", user)
	}
	if n := len(store.History()); n != 1 {
		t.Fatalf("одобрение без очков не пишет журнал, записей %d", n)
	}
	if _, err := svc.CreateSubmission(ctx, NewSubmission{User: ref(1), Type: domain.SubmissionScalerApplication}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("повторная заявка scaler: ожидали ErrValidation, получили %v", err)
	}
	assertLedgerInvariants(t, store, svc)
}

func TestReviewMissingSubmission(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)

	if _, err := svc.ApproveSubmission(testContext(t), 404, 900, 5); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if _, err := svc.RejectSubmission(testContext(t), 404, 900); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if _, err := svc.ApproveSubmission(testContext(t), 1, 900, -5); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("отрицательные очки: ожидали ErrValidation, получили %v", err)
	}
}

func TestCreateSubmissionValidation(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)

	cases := map[string]NewSubmission{
		"unknown type":     {User: ref(1), Type: "bonus", Description: "x"},
		"bad proof url":    {User: ref(1), Type: domain.SubmissionWin, Description: "x", Amount: amountOf(5), ProofURL: "ftp://files/x"},
		"negative amount":  {User: ref(1), Type: domain.SubmissionExpense, Description: "x", Amount: amountOf(-1)},
		"win no amount":    {User: ref(1), Type: domain.SubmissionWin, Description: "x"},
		"referral subtype": {User: ref(1), Type: domain.SubmissionReferral, Description: "x", ReferralType: "twitter"},
		"empty text":       {User: ref(1), Type: domain.SubmissionWin, Description: "  <b></b> ", Amount: amountOf(5)},
	}
	for name, in := range cases {
		if _, err := svc.CreateSubmission(testContext(t), in); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: ожидали ErrValidation, получили %v", name, err)
		}
	}
	if store.TxCount() != 0 {
		t.Fatalf("некорректные заявки не должны доходить до хранилища")
	}
}

func TestCreateSubmissionSanitizesDescription(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)

	sub, err := svc.CreateSubmission(testContext(t), NewSubmission{
		User:        ref(1),
		Type:        domain.SubmissionWin,
		Description: "<script>alert(1)</script><b>Big</b> win @everyone",
		Amount:      amountOf(150),
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if sub.Description != "Big win" {
		t.Fatalf("ожидали очищенный текст, получили %q", sub.Description)
	}
	if sub.Status != domain.SubmissionPending {
		t.Fatalf("новая заявка должна ожидать проверки: %s", sub.Status)
	}
}

func TestCreateSubmissionStoresPlainText(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store)

	sub, err := svc.CreateSubmission(testContext(t), NewSubmission{
		User:        ref(1),
		Type:        domain.SubmissionWin,
		Description: `Tom & Jerry <3 "big" win`,
		Amount:      amountOf(150),
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if sub.Description != `Tom & Jerry <3 "big" win` {
		t.Fatalf("описание хранится без HTML-сущностей, получили %q", sub.Description)
	}
	stored, err := svc.GetSubmission(testContext(t), sub.ID)
	if err != nil || stored.Description != sub.Description {
		t.Fatalf("сохранённое описание отличается: %q %v", stored.Description, err)
	}

	long, err := svc.CreateSubmission(testContext(t), NewSubmission{
		User:        ref(2),
		Type:        domain.SubmissionWin,
		Description: strings.Repeat("&", maxDescriptionLength+10),
		Amount:      amountOf(150),
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if long.Description != strings.Repeat("&", maxDescriptionLength) {
		t.Fatalf("длина считается по обычному тексту, получили %d символов", len(long.Description))
	}
}

func TestCreateSubmissionRespectsChallengeWindow(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		name       string
		start, end time.Time
		wantErr    bool
	}{
		{name: "последний день", start: testNow.Add(-3 * day), end: testNow.Truncate(day)},
		{name: "первый день", start: testNow.Truncate(day), end: testNow.Add(3 * day)},
		{name: "уже закончился", start: testNow.Add(-3 * day), end: testNow.Add(-day), wantErr: true},
		{name: "ещё не начался", start: testNow.Add(day), end: testNow.Add(3 * day), wantErr: true},
	}
	for _, tt := range tests {
		store := repo.NewMemory()
		svc := newTestService(t, store, challengeWindow(tt.start, tt.end))
		_, err := svc.CreateSubmission(testContext(t), NewSubmission{
			User:        ref(1),
			Type:        domain.SubmissionWin,
			Description: "win",
			Amount:      amountOf(100),
		})
		if tt.wantErr {
			if !errors.Is(err, domain.ErrChallengeInactive) || !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("%s: ожидали ErrChallengeInactive, получили %v", tt.name, err)
			}
			if store.TxCount() != 0 {
				t.Fatalf("%s: заявка вне челленджа не должна открывать транзакцию", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: не ожидали ошибку: %v", tt.name, err)
		}
	}
}

func TestReferralLimit(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(t, store, func(o *Options) { o.Rules.MaxReferrals = 2 })
	ctx := testContext(t)

	newReferral := func() (domain.Submission, error) {
		return svc.CreateSubmission(ctx, NewSubmission{User: ref(1), Type: domain.SubmissionReferral, Description: "@friend", ReferralType: "discord"})
	}
	first, err := newReferral()
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := newReferral(); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := newReferral(); !errors.Is(err, domain.ErrReferralLimit) {
		t.Fatalf("ожидали ErrReferralLimit, получили %v", err)
	}
	if _, err := svc.RejectSubmission(ctx, first.ID, 900); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := newReferral(); err != nil {
		t.Fatalf("отклонённая заявка освобождает место: %v", err)
	}

	pending, err := svc.PendingSubmissions(ctx, 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(pending) != 2 || pending[0].CreatedAt.After(pending[1].CreatedAt) {
		t.Fatalf("ожидали две ожидающие заявки, старые первыми: %+v", pending)
	}
}
