package points

import (
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/infra/metrics"
)

// Options задаёт правила начисления, таблицу ступеней и политику повторов.
type Options struct {
	Rules domain.PointRules
	Tiers domain.TierTable
	Retry RetryPolicy
	// Now подменяет часы в тестах.
	Now func() time.Time
}

// DefaultOptions возвращает стандартные настройки сообщества.
func DefaultOptions() Options {
	return Options{
		Rules: domain.DefaultPointRules(),
		Tiers: domain.DefaultTierTable(),
		Retry: DefaultRetryPolicy(),
	}
}

// Service — движок журнала очков и ступеней. Все изменения баланса проходят через него.
type Service struct {
	store     domain.PointsStore
	rules     domain.PointRules
	tiers     domain.TierTable
	retry     RetryPolicy
	sanitizer *bluemonday.Policy
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт сервис. Некорректные правила или таблица ступеней возвращают ErrValidation.
func NewService(store domain.PointsStore, log zerolog.Logger, opts Options) (*Service, error) {
	if len(opts.Tiers) == 0 {
		opts.Tiers = domain.DefaultTierTable()
	}
	if err := opts.Tiers.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Rules.Validate(); err != nil {
		return nil, err
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialInterval == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:     store,
		rules:     opts.Rules,
		tiers:     opts.Tiers,
		retry:     opts.Retry,
		sanitizer: bluemonday.StrictPolicy(),
		log:       log.With().Str("component", "points").Logger(),
		now:       now,
	}, nil
}

// Rules возвращает действующие правила начисления.
func (s *Service) Rules() domain.PointRules {
	return s.rules
}

// Tiers возвращает таблицу ступеней.
func (s *Service) Tiers() domain.TierTable {
	return s.tiers
}

// effects собирает последствия транзакции, которые публикуются только после фиксации.
type effects struct {
	entries     []domain.PointsEntry
	tierChanges []tierChange
	submissions []domain.Submission
}

type tierChange struct {
	userID int64
	from   domain.Tier
	to     domain.Tier
}

func (s *Service) publish(fx *effects) {
	for _, e := range fx.entries {
		metrics.ObserveLedgerEntry(e.Reason, e.PointsChange)
	}
	for _, ch := range fx.tierChanges {
		metrics.IncTierChange(string(ch.to))
		s.log.Info().Int64("user", ch.userID).Str("from", string(ch.from)).Str("to", string(ch.to)).Msg("points: tier changed")
	}
	for _, sub := range fx.submissions {
		metrics.IncSubmission(string(sub.Type), string(sub.Status))
	}
}
