// Package schedule запускает периодические задачи журнала по cron-расписанию.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/infra/metrics"
	"tg-points-bot/internal/usecase/leaderboard"
)

const jobTimeout = 5 * time.Minute

// Ledger — операции журнала, которые выполняются по расписанию.
type Ledger interface {
	Reconcile(ctx context.Context) ([]domain.ReconcileResult, error)
	PurgeActivity(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (domain.LedgerStats, error)
}

// Boards обновляет снимок таблицы лидеров.
type Boards interface {
	Refresh(ctx context.Context) (leaderboard.Snapshot, error)
	Render(snap leaderboard.Snapshot) string
}

// Publisher публикует текст в чат сообщества.
type Publisher interface {
	Publish(ctx context.Context, text string) error
}

// Specs — cron-выражения с секундами. Пустое выражение отключает задачу.
type Specs struct {
	Leaderboard string
	Reconcile   string
	Purge       string
}

// Service владеет cron-планировщиком.
type Service struct {
	cron      *cron.Cron
	ledger    Ledger
	boards    Boards
	publisher Publisher
	specs     Specs
	log       zerolog.Logger
}

// NewService создаёт планировщик. publisher может быть nil, тогда снимок только кэшируется.
func NewService(ledger Ledger, boards Boards, publisher Publisher, specs Specs, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	logger := log.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log: logger}
	return &Service{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ledger:    ledger,
		boards:    boards,
		publisher: publisher,
		specs:     specs,
		log:       logger,
	}
}

// Start регистрирует задачи и запускает планировщик.
func (s *Service) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"leaderboard", s.specs.Leaderboard, s.RefreshLeaderboard},
		{"reconcile", s.specs.Reconcile, s.ReconcileTotals},
		{"purge_activity", s.specs.Purge, s.PurgeActivity},
	}
	for _, job := range jobs {
		if job.spec == "" {
			s.log.Info().Str("job", job.name).Msg("scheduler: задача отключена")
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.run)); err != nil {
			return fmt.Errorf("задача %s (%q): %w", job.name, job.spec, err)
		}
	}
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler: запущен")
	return nil
}

// Stop останавливает планировщик и ждёт завершения запущенных задач.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler: остановлен")
}

// Run работает до отмены ctx.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Service) wrap(name string, run func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		start := time.Now()
		err := run(ctx)
		metrics.ObserveJob(name, start, err)
		if err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("scheduler: задача завершилась ошибкой")
		}
	}
}

// RefreshLeaderboard обновляет снимок таблицы лидеров и публикует его в чат.
func (s *Service) RefreshLeaderboard(ctx context.Context) error {
	snap, err := s.boards.Refresh(ctx)
	if err != nil {
		return err
	}
	if s.publisher == nil || len(snap.Entries) == 0 {
		return nil
	}
	if err := s.publisher.Publish(ctx, s.boards.Render(snap)); err != nil {
		return fmt.Errorf("публикация таблицы лидеров: %w", err)
	}
	return nil
}

// ReconcileTotals сверяет кэш баланса с журналом.
func (s *Service) ReconcileTotals(ctx context.Context) error {
	results, err := s.ledger.Reconcile(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		s.log.Warn().
			Int64("user", r.UserID).
			Int64("cached", r.CachedTotal).
			Int64("ledger", r.LedgerTotal).
			Str("tier_before", string(r.TierBefore)).
			Str("tier_after", string(r.TierAfter)).
			Msg("scheduler: исправлено расхождение баланса")
	}
	s.log.Info().Int("repaired", len(results)).Msg("scheduler: сверка завершена")
	return nil
}

// PurgeActivity удаляет устаревшую дневную активность и пишет сводку журнала.
func (s *Service) PurgeActivity(ctx context.Context) error {
	removed, err := s.ledger.PurgeActivity(ctx)
	if err != nil {
		return err
	}
	stats, err := s.ledger.Stats(ctx)
	if err != nil {
		return err
	}
	s.log.Info().
		Int64("purged", removed).
		Int64("users", stats.Users).
		Int64("points_awarded", stats.PointsAwarded).
		Int64("pending_submissions", stats.PendingSubmissions).
		Int64("value_posts", stats.ValuePosts).
		Msg("scheduler: ежедневная сводка")
	return nil
}

// cronLogger передаёт сообщения cron в zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
