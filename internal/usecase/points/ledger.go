package points

import (
	"context"
	"fmt"
	"strings"

	"tg-points-bot/internal/domain"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 200
)

// ApplyDelta записывает одно изменение баланса: создаёт пользователя при необходимости,
// добавляет строку журнала, увеличивает total_points и пересчитывает ступень в одной транзакции.
// Повторный вызов с той же ссылкой создаст вторую запись.
func (s *Service) ApplyDelta(ctx context.Context, d domain.Delta) (domain.User, error) {
	if err := validateDelta(d); err != nil {
		return domain.User{}, err
	}
	var user domain.User
	err := s.inTx(ctx, "apply_delta", func(ctx context.Context, tx domain.PointsTx, fx *effects) error {
		if err := tx.EnsureUser(ctx, d.User); err != nil {
			return fmt.Errorf("создание пользователя: %w", err)
		}
		u, err := s.applyInTx(ctx, tx, d, fx)
		user = u
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// applyInTx — единственное место, где меняется total_points. Пользователь должен существовать.
func (s *Service) applyInTx(ctx context.Context, tx domain.PointsTx, d domain.Delta, fx *effects) (domain.User, error) {
	user, err := tx.LockUser(ctx, d.User.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("блокировка пользователя %d: %w", d.User.ID, err)
	}
	if d.PointsChange == 0 {
		return user, nil
	}
	entry := domain.PointsEntry{
		UserID:        d.User.ID,
		PointsChange:  d.PointsChange,
		Reason:        d.Reason,
		ReferenceID:   d.ReferenceID,
		ReferenceType: d.ReferenceType,
		Note:          d.Note,
	}
	id, err := tx.InsertHistory(ctx, entry)
	if err != nil {
		return domain.User{}, fmt.Errorf("запись журнала: %w", err)
	}
	entry.ID = id
	total, err := tx.AddUserPoints(ctx, d.User.ID, d.PointsChange)
	if err != nil {
		return domain.User{}, fmt.Errorf("обновление баланса: %w", err)
	}
	user.TotalPoints = total
	fx.entries = append(fx.entries, entry)
	return s.refreshTierInTx(ctx, tx, user, fx)
}

// refreshTierInTx записывает ступень, только если она изменилась.
func (s *Service) refreshTierInTx(ctx context.Context, tx domain.PointsTx, user domain.User, fx *effects) (domain.User, error) {
	tier := s.tiers.TierFor(user.TotalPoints)
	if tier == user.Tier {
		return user, nil
	}
	if err := tx.SetUserTier(ctx, user.ID, tier); err != nil {
		return domain.User{}, fmt.Errorf("обновление ступени: %w", err)
	}
	fx.tierChanges = append(fx.tierChanges, tierChange{userID: user.ID, from: user.Tier, to: tier})
	user.Tier = tier
	return user, nil
}

func validateDelta(d domain.Delta) error {
	if d.User.ID <= 0 {
		return domain.Invalid("user_id", "должен быть положительным")
	}
	if d.PointsChange == 0 {
		return domain.Invalid("points_change", "не может быть нулевым")
	}
	if strings.TrimSpace(d.Reason) == "" {
		return domain.Invalid("reason", "не указана причина")
	}
	if (d.ReferenceID == nil) != (d.ReferenceType == nil) {
		return domain.Invalid("reference", "идентификатор и тип ссылки задаются вместе")
	}
	if d.ReferenceType != nil {
		switch *d.ReferenceType {
		case domain.RefDailyActivity, domain.RefValuePost, domain.RefSubmission:
		default:
			return domain.Invalid("reference_type", fmt.Sprintf("неизвестный тип %q", *d.ReferenceType))
		}
	}
	return nil
}

// RecentHistory возвращает последние записи журнала пользователя, новые первыми.
func (s *Service) RecentHistory(ctx context.Context, userID int64, limit int) ([]domain.PointsEntry, error) {
	if userID <= 0 {
		return nil, domain.Invalid("user_id", "должен быть положительным")
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	entries, err := s.store.RecentHistory(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("получение истории: %w", err)
	}
	return entries, nil
}

// SumByReason возвращает сумму записей журнала пользователя по причине.
func (s *Service) SumByReason(ctx context.Context, userID int64, reason string) (int64, error) {
	if strings.TrimSpace(reason) == "" {
		return 0, domain.Invalid("reason", "не указана причина")
	}
	sum, err := s.store.SumByReason(ctx, userID, reason)
	if err != nil {
		return 0, fmt.Errorf("сумма по причине: %w", err)
	}
	return sum, nil
}

// GetUser возвращает пользователя.
func (s *Service) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("получение пользователя: %w", err)
	}
	return user, nil
}

// AdjustPoints начисляет или списывает очки от имени администратора.
func (s *Service) AdjustPoints(ctx context.Context, user domain.UserRef, amount int64, adminID int64, note string) (domain.User, error) {
	if adminID <= 0 {
		return domain.User{}, domain.Invalid("admin_id", "не указан администратор")
	}
	return s.ApplyDelta(ctx, domain.Delta{
		User:         user,
		PointsChange: amount,
		Reason:       domain.ReasonAdminAdjustment,
		Note:         adminNote(adminID, note),
	})
}

// SetPoints приводит баланс к target одной корректирующей записью журнала.
func (s *Service) SetPoints(ctx context.Context, user domain.UserRef, target int64, adminID int64, note string) (domain.User, error) {
	if user.ID <= 0 {
		return domain.User{}, domain.Invalid("user_id", "должен быть положительным")
	}
	if adminID <= 0 {
		return domain.User{}, domain.Invalid("admin_id", "не указан администратор")
	}
	var result domain.User
	err := s.inTx(ctx, "set_points", func(ctx context.Context, tx domain.PointsTx, fx *effects) error {
		if err := tx.EnsureUser(ctx, user); err != nil {
			return fmt.Errorf("создание пользователя: %w", err)
		}
		current, err := tx.LockUser(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("блокировка пользователя %d: %w", user.ID, err)
		}
		result, err = s.applyInTx(ctx, tx, domain.Delta{
			User:         user,
			PointsChange: target - current.TotalPoints,
			Reason:       domain.ReasonAdminAdjustment,
			Note:         adminNote(adminID, note),
		}, fx)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	return result, nil
}

func adminNote(adminID int64, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return fmt.Sprintf("admin:%d", adminID)
	}
	return fmt.Sprintf("admin:%d %s", adminID, note)
}

// Reconcile сверяет кэш баланса каждого пользователя с суммой журнала и исправляет расхождения
// вместе со ступенью. Возвращает только исправленных пользователей.
func (s *Service) Reconcile(ctx context.Context) ([]domain.ReconcileResult, error) {
	ids, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("список пользователей: %w", err)
	}
	var fixed []domain.ReconcileResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return fixed, err
		}
		var (
			res     domain.ReconcileResult
			changed bool
		)
		err := s.inTx(ctx, "reconcile", func(ctx context.Context, tx domain.PointsTx, fx *effects) error {
			user, err := tx.LockUser(ctx, id)
			if err != nil {
				return fmt.Errorf("блокировка пользователя %d: %w", id, err)
			}
			sum, err := tx.SumHistory(ctx, id)
			if err != nil {
				return fmt.Errorf("сумма журнала: %w", err)
			}
			res = domain.ReconcileResult{UserID: id, CachedTotal: user.TotalPoints, LedgerTotal: sum, TierBefore: user.Tier}
			if sum != user.TotalPoints {
				if err := tx.SetUserTotal(ctx, id, sum); err != nil {
					return fmt.Errorf("исправление баланса: %w", err)
				}
				user.TotalPoints = sum
			}
			user, err = s.refreshTierInTx(ctx, tx, user, fx)
			if err != nil {
				return err
			}
			res.TierAfter = user.Tier
			changed = res.Drift() != 0 || res.TierBefore != res.TierAfter
			return nil
		})
		if err != nil {
			return fixed, err
		}
		if changed {
			s.log.Warn().Int64("user", id).Int64("drift", res.Drift()).Str("tier", string(res.TierAfter)).Msg("points: reconciled user total")
			fixed = append(fixed, res)
		}
	}
	return fixed, nil
}
