package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — входные данные отклонены до любой записи.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidStateTransition — переход заявки из окончательного статуса.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrTransientConflict — конфликт параллельной записи, повтор не помог.
	ErrTransientConflict = errors.New("transient conflict")
	// ErrNotFound — сущность не найдена.
	ErrNotFound = errors.New("not found")
	// ErrDailyPostLimit — превышен дневной лимит ценных постов пользователя.
	ErrDailyPostLimit = fmt.Errorf("%w: daily value post limit reached", ErrValidation)
	// ErrReferralLimit — превышено количество заявок на рефералов.
	ErrReferralLimit = fmt.Errorf("%w: referral limit reached", ErrValidation)
	// ErrChallengeInactive — действие вне периода челленджа.
	ErrChallengeInactive = fmt.Errorf("%w: challenge is not active", ErrValidation)
)

// ValidationError уточняет, какое поле не прошло проверку.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid создаёт ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
