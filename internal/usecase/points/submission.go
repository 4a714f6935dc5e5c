package points

import (
	"context"
	"fmt"
	"html"
	"math"
	"net/url"
	"strings"
	"unicode/utf8"

	"tg-points-bot/internal/domain"
)

const (
	maxDescriptionLength = 500
	maxPendingLimit      = 100
)

// NewSubmission — заявка участника до сохранения.
type NewSubmission struct {
	User         domain.UserRef
	Type         domain.SubmissionType
	Description  string
	ProofURL     string
	Amount       *float64
	ReferralType string
}

// CreateSubmission проверяет и сохраняет заявку в статусе pending. Вне периода челленджа
// возвращает ErrChallengeInactive.
func (s *Service) CreateSubmission(ctx context.Context, in NewSubmission) (domain.Submission, error) {
	sub, err := s.prepareSubmission(in)
	if err != nil {
		return domain.Submission{}, err
	}
	err = s.inTx(ctx, "create_submission", func(ctx context.Context, tx domain.PointsTx, fx *effects) error {
		if err := tx.EnsureUser(ctx, in.User); err != nil {
			return fmt.Errorf("создание пользователя: %w", err)
		}
		switch sub.Type {
		case domain.SubmissionReferral:
			if limit := s.rules.MaxReferrals; limit > 0 {
				count, err := tx.CountActiveSubmissions(ctx, in.User.ID, domain.SubmissionReferral)
				if err != nil {
					return fmt.Errorf("подсчёт рефералов: %w", err)
				}
				if count >= limit {
					return fmt.Errorf("пользователь %d: %w", in.User.ID, domain.ErrReferralLimit)
				}
			}
		case domain.SubmissionScalerApplication:
			user, err := tx.LockUser(ctx, in.User.ID)
			if err != nil {
				return fmt.Errorf("блокировка пользователя %d: %w", in.User.ID, err)
			}
			if user.IsScaler {
				return domain.Invalid("type", "пользователь уже scaler")
			}
			count, err := tx.CountActiveSubmissions(ctx, in.User.ID, domain.SubmissionScalerApplication)
			if err != nil {
				return fmt.Errorf("подсчёт заявок: %w", err)
			}
			if count > 0 {
				return domain.Invalid("type", "заявка уже подана")
			}
		}
		saved, err := tx.InsertSubmission(ctx, sub)
		if err != nil {
			return fmt.Errorf("сохранение заявки: %w", err)
		}
		sub = saved
		fx.submissions = append(fx.submissions, saved)
		return nil
	})
	if err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

func (s *Service) prepareSubmission(in NewSubmission) (domain.Submission, error) {
	if in.User.ID <= 0 {
		return domain.Submission{}, domain.Invalid("user_id", "должен быть положительным")
	}
	if !in.Type.Valid() {
		return domain.Submission{}, domain.Invalid("type", fmt.Sprintf("неизвестный тип %q", in.Type))
	}
	if !s.rules.ChallengeActive(s.now()) {
		return domain.Submission{}, domain.ErrChallengeInactive
	}
	sub := domain.Submission{
		UserID:      in.User.ID,
		Type:        in.Type,
		Description: s.sanitize(in.Description),
		Status:      domain.SubmissionPending,
	}
	if sub.Description == "" && in.Type != domain.SubmissionScalerApplication {
		return domain.Submission{}, domain.Invalid("description", "пустое описание")
	}
	if raw := strings.TrimSpace(in.ProofURL); raw != "" {
		if err := validateURL(raw); err != nil {
			return domain.Submission{}, err
		}
		sub.ProofURL = &raw
	}
	if in.Amount != nil {
		amount := *in.Amount
		if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
			return domain.Submission{}, domain.Invalid("amount", "должна быть неотрицательным числом")
		}
		sub.Amount = &amount
	}
	switch in.Type {
	case domain.SubmissionWin, domain.SubmissionExpense:
		if sub.Amount == nil {
			return domain.Submission{}, domain.Invalid("amount", "не указана сумма")
		}
	case domain.SubmissionReferral:
		rt := domain.ReferralType(strings.ToLower(strings.TrimSpace(in.ReferralType)))
		if rt != domain.ReferralWhop && rt != domain.ReferralDiscord {
			return domain.Submission{}, domain.Invalid("referral_type", "ожидается whop или discord")
		}
		sub.ReferralType = &rt
	}
	return sub, nil
}

// sanitize убирает разметку и массовые упоминания, обрезает текст до допустимой длины.
// Результат — обычный текст без HTML-сущностей, экранирование делается при выводе.
func (s *Service) sanitize(text string) string {
	clean := html.UnescapeString(s.sanitizer.Sanitize(text))
	for _, mention := range []string{"@everyone", "@here", "@all"} {
		clean = strings.ReplaceAll(clean, mention, "")
	}
	clean = strings.TrimSpace(clean)
	if utf8.RuneCountInString(clean) > maxDescriptionLength {
		clean = string([]rune(clean)[:maxDescriptionLength])
	}
	return clean
}

func validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.Invalid("proof_url", "ожидается ссылка http(s)")
	}
	return nil
}

// ApproveSubmission переводит заявку из pending в approved и в той же транзакции начисляет points.
// Заявка в окончательном статусе не меняется и возвращает ErrInvalidStateTransition.
func (s *Service) ApproveSubmission(ctx context.Context, id, reviewerID, points int64) (domain.Submission, error) {
	if reviewerID <= 0 {
		return domain.Submission{}, domain.Invalid("reviewer_id", "не указан модератор")
	}
	if points < 0 {
		return domain.Submission{}, domain.Invalid("points", "не может быть отрицательным")
	}
	return s.review(ctx, "approve_submission", id, reviewerID, func(ctx context.Context, tx domain.PointsTx, sub *domain.Submission, fx *effects) error {
		sub.Status = domain.SubmissionApproved
		sub.PointsAwarded = points
		switch sub.Type {
		case domain.SubmissionReferral:
			if err := tx.IncrementReferralCount(ctx, sub.UserID); err != nil {
				return fmt.Errorf("счётчик рефералов: %w", err)
			}
		case domain.SubmissionScalerApplication:
			if err := tx.SetScaler(ctx, sub.UserID, true); err != nil {
				return fmt.Errorf("статус scaler: %w", err)
			}
		}
		ref := domain.RefSubmission
		_, err := s.applyInTx(ctx, tx, domain.Delta{
			User:          domain.UserRef{ID: sub.UserID},
			PointsChange:  points,
			Reason:        string(sub.Type),
			ReferenceID:   &sub.ID,
			ReferenceType: &ref,
		}, fx)
		return err
	})
}

// RejectSubmission переводит заявку из pending в rejected без начисления очков.
func (s *Service) RejectSubmission(ctx context.Context, id, reviewerID int64) (domain.Submission, error) {
	if reviewerID <= 0 {
		return domain.Submission{}, domain.Invalid("reviewer_id", "не указан модератор")
	}
	return s.review(ctx, "reject_submission", id, reviewerID, func(ctx context.Context, tx domain.PointsTx, sub *domain.Submission, fx *effects) error {
		sub.Status = domain.SubmissionRejected
		sub.PointsAwarded = 0
		return nil
	})
}

// review читает статус под блокировкой в той же транзакции, что и запись решения.
func (s *Service) review(ctx context.Context, op string, id, reviewerID int64, decide func(ctx context.Context, tx domain.PointsTx, sub *domain.Submission, fx *effects) error) (domain.Submission, error) {
	if id <= 0 {
		return domain.Submission{}, domain.Invalid("submission_id", "должен быть положительным")
	}
	var result domain.Submission
	err := s.inTx(ctx, op, func(ctx context.Context, tx domain.PointsTx, fx *effects) error {
		sub, err := tx.LockSubmission(ctx, id)
		if err != nil {
			return fmt.Errorf("заявка %d: %w", id, err)
		}
		if sub.Status != domain.SubmissionPending {
			return fmt.Errorf("заявка %d в статусе %s: %w", id, sub.Status, domain.ErrInvalidStateTransition)
		}
		reviewedAt := s.now()
		sub.ReviewedBy = &reviewerID
		sub.ReviewedAt = &reviewedAt
		if err := decide(ctx, tx, &sub, fx); err != nil {
			return err
		}
		if err := tx.UpdateSubmissionReview(ctx, sub); err != nil {
			return fmt.Errorf("сохранение решения: %w", err)
		}
		fx.submissions = append(fx.submissions, sub)
		result = sub
		return nil
	})
	if err != nil {
		return domain.Submission{}, err
	}
	return result, nil
}

// GetSubmission возвращает заявку.
func (s *Service) GetSubmission(ctx context.Context, id int64) (domain.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("получение заявки: %w", err)
	}
	return sub, nil
}

// PendingSubmissions возвращает ожидающие заявки, старые первыми.
func (s *Service) PendingSubmissions(ctx context.Context, limit int) ([]domain.Submission, error) {
	if limit <= 0 || limit > maxPendingLimit {
		limit = maxPendingLimit
	}
	subs, err := s.store.ListPendingSubmissions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("список заявок: %w", err)
	}
	return subs, nil
}

// SuggestPoints подсказывает награду за заявку по правилам сообщества.
func (s *Service) SuggestPoints(sub domain.Submission) int64 {
	return s.rules.SuggestedPoints(sub)
}
