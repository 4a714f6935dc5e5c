package points

import (
	"context"
	"fmt"

	"tg-points-bot/internal/domain"
)

// MaxTopN ограничивает размер таблицы лидеров.
const MaxTopN = 100

// TierFor возвращает ступень для суммы очков.
func (s *Service) TierFor(total int64) domain.Tier {
	return s.tiers.TierFor(total)
}

// RefreshTier пересчитывает ступень пользователя по текущему балансу и пишет её, только если она изменилась.
func (s *Service) RefreshTier(ctx context.Context, userID int64) (domain.User, error) {
	var user domain.User
	err := s.inTx(ctx, "refresh_tier", func(ctx context.Context, tx domain.PointsTx, fx *effects) error {
		u, err := tx.LockUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("блокировка пользователя %d: %w", userID, err)
		}
		user, err = s.refreshTierInTx(ctx, tx, u, fx)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// TopN возвращает n лучших пользователей: больше очков выше, при равенстве выше тот, кто пришёл раньше.
func (s *Service) TopN(ctx context.Context, n int) ([]domain.RankedUser, error) {
	if n <= 0 {
		return nil, domain.Invalid("n", "должно быть положительным")
	}
	if n > MaxTopN {
		n = MaxTopN
	}
	users, err := s.store.TopUsers(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("таблица лидеров: %w", err)
	}
	ranked := make([]domain.RankedUser, 0, len(users))
	for i, u := range users {
		ranked = append(ranked, domain.RankedUser{Rank: i + 1, User: u})
	}
	return ranked, nil
}

// RankOf возвращает место пользователя в таблице лидеров.
func (s *Service) RankOf(ctx context.Context, userID int64) (domain.RankedUser, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return domain.RankedUser{}, fmt.Errorf("получение пользователя: %w", err)
	}
	rank, err := s.store.UserRank(ctx, userID)
	if err != nil {
		return domain.RankedUser{}, fmt.Errorf("место пользователя: %w", err)
	}
	return domain.RankedUser{Rank: rank, User: user}, nil
}

// Progress возвращает прогресс пользователя до следующей ступени.
func (s *Service) Progress(ctx context.Context, userID int64) (domain.User, domain.TierProgress, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, domain.TierProgress{}, fmt.Errorf("получение пользователя: %w", err)
	}
	return user, s.tiers.Progress(user.TotalPoints), nil
}

// Stats возвращает агрегаты по журналу.
func (s *Service) Stats(ctx context.Context) (domain.LedgerStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return domain.LedgerStats{}, fmt.Errorf("статистика: %w", err)
	}
	return stats, nil
}
