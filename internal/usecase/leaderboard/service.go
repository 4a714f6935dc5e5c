package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-points-bot/internal/domain"
)

// SnapshotKey — ключ кэша с последним снимком таблицы лидеров.
const SnapshotKey = "leaderboard:snapshot"

// Ranking отдаёт упорядоченную таблицу лидеров.
type Ranking interface {
	TopN(ctx context.Context, n int) ([]domain.RankedUser, error)
	Tiers() domain.TierTable
}

// Snapshot — сохранённая таблица лидеров.
type Snapshot struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Entries     []domain.RankedUser `json:"entries"`
}

// Service строит и хранит снимки таблицы лидеров.
type Service struct {
	ranking Ranking
	cache   domain.Cache
	size    int
	ttl     time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewService создаёт сервис снимков на size строк.
func NewService(ranking Ranking, cache domain.Cache, size int, ttl time.Duration, log zerolog.Logger) *Service {
	if size <= 0 {
		size = 10
	}
	return &Service{
		ranking: ranking,
		cache:   cache,
		size:    size,
		ttl:     ttl,
		log:     log.With().Str("component", "leaderboard").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Refresh пересчитывает снимок и сохраняет его в кэш.
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	entries, err := s.ranking.TopN(ctx, s.size)
	if err != nil {
		return Snapshot{}, fmt.Errorf("таблица лидеров: %w", err)
	}
	snap := Snapshot{GeneratedAt: s.now(), Entries: entries}
	payload, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.cache.Set(SnapshotKey, payload, s.ttl); err != nil {
		return Snapshot{}, fmt.Errorf("сохранение снимка: %w", err)
	}
	s.log.Info().Int("entries", len(entries)).Msg("leaderboard: снимок обновлён")
	return snap, nil
}

// Latest возвращает сохранённый снимок, а если его нет, строит новый.
func (s *Service) Latest(ctx context.Context) (Snapshot, error) {
	payload, err := s.cache.Get(SnapshotKey)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return s.Refresh(ctx)
	case err != nil:
		s.log.Warn().Err(err).Msg("leaderboard: кэш недоступен, строим снимок заново")
		return s.Refresh(ctx)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		s.log.Warn().Err(err).Msg("leaderboard: повреждённый снимок")
		return s.Refresh(ctx)
	}
	return snap, nil
}

// Render возвращает снимок в виде сообщения для чата.
func (s *Service) Render(snap Snapshot) string {
	return FormatLeaderboard(snap.Entries, s.ranking.Tiers())
}
