package points

import (
	"context"
	"fmt"
	"time"

	"tg-points-bot/internal/domain"
)

// ActivityResult описывает результат записи дневной активности.
type ActivityResult struct {
	Activity domain.DailyActivity
	Delta    int64
	User     domain.User
}

// RecordActivity сохраняет накопленное за день число сообщений и начисляет разницу между
// новой дневной наградой и уже выданной. Повтор с тем же числом даёт нулевую разницу.
// Меньшее число, пришедшее позже, не уменьшает сохранённый счётчик.
// Дни вне периода челленджа сохраняются с нулевой наградой.
func (s *Service) RecordActivity(ctx context.Context, user domain.UserRef, date time.Time, messageCount int) (ActivityResult, error) {
	day, err := s.validateActivity(user, date, messageCount)
	if err != nil {
		return ActivityResult{}, err
	}
	var result ActivityResult
	err = s.inTx(ctx, "record_activity", func(ctx context.Context, tx domain.PointsTx, fx *effects) error {
		if err := tx.EnsureUser(ctx, user); err != nil {
			return fmt.Errorf("создание пользователя: %w", err)
		}
		activity, err := tx.UpsertDailyActivity(ctx, user.ID, day)
		if err != nil {
			return fmt.Errorf("дневная активность: %w", err)
		}
		count := activity.MessageCount
		if messageCount > count {
			count = messageCount
		}
		var award int64
		if s.rules.ChallengeActive(day) {
			award = s.rules.ActivityAward(count)
		}
		delta := award - activity.PointsAwarded
		if count != activity.MessageCount || delta != 0 {
			if err := tx.UpdateDailyActivity(ctx, activity.ID, count, award); err != nil {
				return fmt.Errorf("обновление активности: %w", err)
			}
			activity.MessageCount = count
			activity.PointsAwarded = award
		}
		if err := tx.SetLastActivity(ctx, user.ID, day); err != nil {
			return fmt.Errorf("дата активности: %w", err)
		}
		ref := domain.RefDailyActivity
		u, err := s.applyInTx(ctx, tx, domain.Delta{
			User:          user,
			PointsChange:  delta,
			Reason:        domain.ReasonDailyActivity,
			ReferenceID:   &activity.ID,
			ReferenceType: &ref,
		}, fx)
		if err != nil {
			return err
		}
		result = ActivityResult{Activity: activity, Delta: delta, User: u}
		return nil
	})
	if err != nil {
		return ActivityResult{}, err
	}
	return result, nil
}

func (s *Service) validateActivity(user domain.UserRef, date time.Time, messageCount int) (time.Time, error) {
	if user.ID <= 0 {
		return time.Time{}, domain.Invalid("user_id", "должен быть положительным")
	}
	if messageCount < 0 {
		return time.Time{}, domain.Invalid("message_count", "не может быть отрицательным")
	}
	if date.IsZero() {
		return time.Time{}, domain.Invalid("date", "не указана")
	}
	day := domain.DayOf(date)
	today := domain.DayOf(s.now())
	if day.After(today) {
		return time.Time{}, domain.Invalid("date", "дата в будущем")
	}
	if days := s.rules.ActivityRetentionDays; days > 0 && day.Before(today.AddDate(0, 0, -days)) {
		return time.Time{}, domain.Invalid("date", fmt.Sprintf("старше %d дней", days))
	}
	return day, nil
}

// ActivityRetentionCutoff возвращает дату, раньше которой дневная активность удаляется.
func (s *Service) ActivityRetentionCutoff() (time.Time, bool) {
	days := s.rules.ActivityRetentionDays
	if days <= 0 {
		return time.Time{}, false
	}
	return domain.DayOf(s.now()).AddDate(0, 0, -days), true
}

// PurgeActivity удаляет дневную активность за пределами окна хранения.
// Журнал очков при этом не меняется.
func (s *Service) PurgeActivity(ctx context.Context) (int64, error) {
	cutoff, ok := s.ActivityRetentionCutoff()
	if !ok {
		return 0, nil
	}
	removed, err := s.store.PurgeDailyActivityBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("очистка активности: %w", err)
	}
	return removed, nil
}

// DailyActivity возвращает снимок активности пользователя за дату.
func (s *Service) DailyActivity(ctx context.Context, userID int64, date time.Time) (domain.DailyActivity, error) {
	a, err := s.store.GetDailyActivity(ctx, userID, domain.DayOf(date))
	if err != nil {
		return domain.DailyActivity{}, fmt.Errorf("получение активности: %w", err)
	}
	return a, nil
}
