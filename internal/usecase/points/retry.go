package points

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/infra/metrics"
)

// RetryPolicy ограничивает повторы операции при конфликте транзакций.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy — три повтора с экспоненциальной паузой.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialInterval: 20 * time.Millisecond, MaxInterval: 250 * time.Millisecond}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

// withRetry повторяет всю операцию целиком, пока она завершается ErrTransientConflict.
// Остальные ошибки возвращаются сразу.
func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrTransientConflict) {
			metrics.TxConflicts.WithLabelValues(op).Inc()
			s.log.Debug().Err(err).Str("op", op).Int("attempt", attempts).Msg("points: transaction conflict")
			return err
		}
		return backoff.Permanent(err)
	}, s.retry.backOff(ctx))
	if err != nil && errors.Is(err, domain.ErrTransientConflict) {
		metrics.TxRetriesExhausted.WithLabelValues(op).Inc()
		s.log.Warn().Str("op", op).Int("attempts", attempts).Msg("points: retries exhausted")
		return fmt.Errorf("%s: %d попыток: %w", op, attempts, err)
	}
	return err
}

// inTx выполняет fn в транзакции хранилища с повторами и публикует последствия после фиксации.
func (s *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx domain.PointsTx, fx *effects) error) error {
	var fx *effects
	err := s.withRetry(ctx, op, func(ctx context.Context) error {
		fx = &effects{}
		return s.store.WithinTx(ctx, func(tx domain.PointsTx) error {
			return fn(ctx, tx, fx)
		})
	})
	if err != nil {
		return err
	}
	s.publish(fx)
	return nil
}
