package points

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tg-points-bot/internal/domain"
)

// PostObservation — наблюдаемое состояние сообщения. Nil в Reactions или Pinned
// оставляет сохранённое значение.
type PostObservation struct {
	MessageID int64
	ChannelID int64
	// Author нужен только для первого наблюдения поста.
	Author    *domain.UserRef
	Reactions *domain.ReactionCounts
	Pinned    *bool
	PostedAt  time.Time
}

// PostResult описывает пересчитанный пост.
type PostResult struct {
	Post    domain.ValuePost
	Delta   int64
	Created bool
}

// RecomputePost сохраняет новые счётчики поста, пересчитывает его сумму и записывает в журнал
// только разницу с прежней суммой. Отрицательная разница тоже записывается.
func (s *Service) RecomputePost(ctx context.Context, obs PostObservation) (PostResult, error) {
	if err := validateObservation(obs); err != nil {
		return PostResult{}, err
	}
	var result PostResult
	err := s.inTx(ctx, "recompute_post", func(ctx context.Context, tx domain.PointsTx, fx *effects) error {
		post, created, err := s.loadOrCreatePost(ctx, tx, obs)
		if err != nil {
			return err
		}
		if obs.Reactions != nil {
			post.FireCount = obs.Reactions.Fire
			post.GemCount = obs.Reactions.Gem
			post.HundredCount = obs.Reactions.Hundred
		}
		if obs.Pinned != nil {
			post.IsPinned = *obs.Pinned
		}
		newTotal := s.rules.PostScore(post.Reactions(), post.IsPinned)
		delta := newTotal - post.TotalPoints
		post.TotalPoints = newTotal
		if err := tx.UpdateValuePost(ctx, post); err != nil {
			return fmt.Errorf("обновление поста: %w", err)
		}
		ref := domain.RefValuePost
		if _, err := s.applyInTx(ctx, tx, domain.Delta{
			User:          domain.UserRef{ID: post.UserID},
			PointsChange:  delta,
			Reason:        domain.ReasonValuePost,
			ReferenceID:   &post.ID,
			ReferenceType: &ref,
		}, fx); err != nil {
			return err
		}
		result = PostResult{Post: post, Delta: delta, Created: created}
		return nil
	})
	if err != nil {
		return PostResult{}, err
	}
	return result, nil
}

func (s *Service) loadOrCreatePost(ctx context.Context, tx domain.PointsTx, obs PostObservation) (domain.ValuePost, bool, error) {
	post, err := tx.LockValuePost(ctx, obs.MessageID)
	if err == nil {
		return post, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.ValuePost{}, false, fmt.Errorf("получение поста: %w", err)
	}
	if obs.Author == nil {
		return domain.ValuePost{}, false, fmt.Errorf("пост %d: %w", obs.MessageID, domain.ErrNotFound)
	}
	postedAt := obs.PostedAt
	if postedAt.IsZero() {
		postedAt = s.now()
	}
	day := domain.DayOf(postedAt)
	if err := tx.EnsureUser(ctx, *obs.Author); err != nil {
		return domain.ValuePost{}, false, fmt.Errorf("создание пользователя: %w", err)
	}
	if limit := s.rules.MaxValuePostsPerDay; limit > 0 {
		count, err := tx.CountValuePostsOn(ctx, obs.Author.ID, day)
		if err != nil {
			return domain.ValuePost{}, false, fmt.Errorf("подсчёт постов: %w", err)
		}
		if count >= limit {
			return domain.ValuePost{}, false, fmt.Errorf("пользователь %d, %s: %w", obs.Author.ID, day.Format("2006-01-02"), domain.ErrDailyPostLimit)
		}
	}
	post, err = tx.InsertValuePost(ctx, domain.ValuePost{
		UserID:    obs.Author.ID,
		MessageID: obs.MessageID,
		ChannelID: obs.ChannelID,
		PostDate:  day,
	})
	if err != nil {
		return domain.ValuePost{}, false, fmt.Errorf("создание поста: %w", err)
	}
	return post, true, nil
}

func validateObservation(obs PostObservation) error {
	if obs.MessageID <= 0 {
		return domain.Invalid("message_id", "должен быть положительным")
	}
	if obs.Author != nil && obs.Author.ID <= 0 {
		return domain.Invalid("author", "некорректный автор")
	}
	if r := obs.Reactions; r != nil && (r.Fire < 0 || r.Gem < 0 || r.Hundred < 0) {
		return domain.Invalid("reactions", "счётчики не могут быть отрицательными")
	}
	return nil
}

// SetPostPinned пересчитывает пост с сохранёнными реакциями и новым признаком закрепа.
func (s *Service) SetPostPinned(ctx context.Context, messageID int64, pinned bool) (PostResult, error) {
	return s.RecomputePost(ctx, PostObservation{MessageID: messageID, Pinned: &pinned})
}

// RetractPost списывает все очки поста при удалении исходного сообщения и удаляет пост.
func (s *Service) RetractPost(ctx context.Context, messageID int64) (PostResult, error) {
	if messageID <= 0 {
		return PostResult{}, domain.Invalid("message_id", "должен быть положительным")
	}
	var result PostResult
	err := s.inTx(ctx, "retract_post", func(ctx context.Context, tx domain.PointsTx, fx *effects) error {
		post, err := tx.LockValuePost(ctx, messageID)
		if err != nil {
			return fmt.Errorf("пост %d: %w", messageID, err)
		}
		delta := -post.TotalPoints
		if err := tx.DeleteValuePost(ctx, post.ID); err != nil {
			return fmt.Errorf("удаление поста: %w", err)
		}
		ref := domain.RefValuePost
		if _, err := s.applyInTx(ctx, tx, domain.Delta{
			User:          domain.UserRef{ID: post.UserID},
			PointsChange:  delta,
			Reason:        domain.ReasonValuePost,
			ReferenceID:   &post.ID,
			ReferenceType: &ref,
			Note:          "retracted",
		}, fx); err != nil {
			return err
		}
		post.TotalPoints = 0
		result = PostResult{Post: post, Delta: delta}
		return nil
	})
	if err != nil {
		return PostResult{}, err
	}
	return result, nil
}

// ReassignPost переносит очки поста на другого автора двумя записями журнала в одной транзакции.
func (s *Service) ReassignPost(ctx context.Context, messageID int64, owner domain.UserRef) (PostResult, error) {
	if messageID <= 0 {
		return PostResult{}, domain.Invalid("message_id", "должен быть положительным")
	}
	if owner.ID <= 0 {
		return PostResult{}, domain.Invalid("owner", "некорректный автор")
	}
	var result PostResult
	err := s.inTx(ctx, "reassign_post", func(ctx context.Context, tx domain.PointsTx, fx *effects) error {
		post, err := tx.LockValuePost(ctx, messageID)
		if err != nil {
			return fmt.Errorf("пост %d: %w", messageID, err)
		}
		result = PostResult{Post: post}
		if post.UserID == owner.ID {
			return nil
		}
		if err := tx.EnsureUser(ctx, owner); err != nil {
			return fmt.Errorf("создание пользователя: %w", err)
		}
		ref := domain.RefValuePost
		retract := domain.Delta{
			User:          domain.UserRef{ID: post.UserID},
			PointsChange:  -post.TotalPoints,
			Reason:        domain.ReasonValuePost,
			ReferenceID:   &post.ID,
			ReferenceType: &ref,
			Note:          "reassigned",
		}
		if _, err := s.applyInTx(ctx, tx, retract, fx); err != nil {
			return err
		}
		award := retract
		award.User = owner
		award.PointsChange = post.TotalPoints
		if _, err := s.applyInTx(ctx, tx, award, fx); err != nil {
			return err
		}
		post.UserID = owner.ID
		if err := tx.UpdateValuePost(ctx, post); err != nil {
			return fmt.Errorf("обновление поста: %w", err)
		}
		result.Post = post
		return nil
	})
	if err != nil {
		return PostResult{}, err
	}
	return result, nil
}

// ValuePost возвращает пост по идентификатору сообщения.
func (s *Service) ValuePost(ctx context.Context, messageID int64) (domain.ValuePost, error) {
	post, err := s.store.GetValuePost(ctx, messageID)
	if err != nil {
		return domain.ValuePost{}, fmt.Errorf("получение поста: %w", err)
	}
	return post, nil
}

// RecentValuePosts возвращает посты, опубликованные за последние days дней.
func (s *Service) RecentValuePosts(ctx context.Context, days int) ([]domain.ValuePost, error) {
	if days <= 0 {
		days = 1
	}
	since := domain.DayOf(s.now()).AddDate(0, 0, -days)
	posts, err := s.store.ListValuePostsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("список постов: %w", err)
	}
	return posts, nil
}
