package repo

import (
	"context"
	"errors"
	"testing"

	"tg-points-bot/internal/domain"
)

func insertEntry(ctx context.Context, tx domain.PointsTx, userID, change int64) error {
	if err := tx.EnsureUser(ctx, domain.UserRef{ID: userID}); err != nil {
		return err
	}
	_, err := tx.InsertHistory(ctx, domain.PointsEntry{UserID: userID, PointsChange: change, Reason: domain.ReasonAdminAdjustment})
	return err
}

func TestMemoryTxDoesNotCopyHistory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := m.WithinTx(ctx, func(tx domain.PointsTx) error { return insertEntry(ctx, tx, 1, 5) }); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}

	err := m.WithinTx(ctx, func(tx domain.PointsTx) error {
		mt := tx.(*memTx)
		if len(mt.state.history) != 3 || &mt.state.history[0] != &m.state.history[0] {
			t.Fatalf("транзакция должна читать зафиксированный журнал без копии")
		}
		if err := insertEntry(ctx, tx, 1, 2); err != nil {
			return err
		}
		sum, err := tx.SumHistory(ctx, 1)
		if err != nil || sum != 17 {
			t.Fatalf("сумма должна учитывать записи транзакции: %d %v", sum, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n := len(m.History()); n != 4 {
		t.Fatalf("ожидали 4 записи, получили %d", n)
	}
}

func TestMemoryTxDiscardsEntriesOnFailure(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.WithinTx(ctx, func(tx domain.PointsTx) error { return insertEntry(ctx, tx, 1, 5) }); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	before := m.History()

	boom := errors.New("boom")
	err := m.WithinTx(ctx, func(tx domain.PointsTx) error {
		if err := insertEntry(ctx, tx, 1, 10); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ожидали ошибку fn, получили %v", err)
	}

	m.InjectConflicts(1)
	err = m.WithinTx(ctx, func(tx domain.PointsTx) error { return insertEntry(ctx, tx, 2, 7) })
	if !errors.Is(err, domain.ErrTransientConflict) {
		t.Fatalf("ожидали ErrTransientConflict, получили %v", err)
	}

	after := m.History()
	if len(after) != 1 || after[0] != before[0] {
		t.Fatalf("отменённые транзакции не должны попадать в журнал: %+v", after)
	}
	if _, err := m.GetUser(ctx, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("пользователь из отменённой транзакции не сохраняется: %v", err)
	}
}
