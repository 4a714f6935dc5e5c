// Package mtproto опрашивает реакции на ценные посты через MTProto.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/infra/metrics"
)

// batchSize — сколько сообщений запрашивается за один вызов.
const batchSize = 100

// Posts отдаёт ценные посты, реакции которых ещё нужно отслеживать.
type Posts interface {
	RecentValuePosts(ctx context.Context, days int) ([]domain.ValuePost, error)
}

// Observation — состояние сообщения в Telegram.
type Observation struct {
	Reactions domain.ReactionCounts
	Pinned    bool
	Deleted   bool
}

// Fetcher загружает состояние сообщений чата. Отсутствующее в ответе сообщение не меняется.
type Fetcher interface {
	Fetch(ctx context.Context, chatID int64, messageIDs []int) (map[int]Observation, error)
}

// Poller сравнивает реакции в Telegram с сохранёнными и публикует изменения в очередь.
type Poller struct {
	posts    Posts
	fetcher  Fetcher
	events   domain.EventQueue
	lookback int
	interval time.Duration
	log      zerolog.Logger
	newID    func() string
}

// NewPoller создаёт опросчик постов за последние lookbackDays дней.
func NewPoller(posts Posts, fetcher Fetcher, events domain.EventQueue, lookbackDays int, interval time.Duration, log zerolog.Logger) *Poller {
	if lookbackDays <= 0 {
		lookbackDays = 3
	}
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Poller{
		posts:    posts,
		fetcher:  fetcher,
		events:   events,
		lookback: lookbackDays,
		interval: interval,
		log:      log.With().Str("component", "reaction_poller").Logger(),
		newID:    uuid.NewString,
	}
}

// Run опрашивает посты до отмены ctx.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.PollOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Error().Err(err).Msg("reaction_poller: опрос завершился ошибкой")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce проверяет все отслеживаемые посты и возвращает число опубликованных событий.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	start := time.Now()
	posts, err := p.posts.RecentValuePosts(ctx, p.lookback)
	if err != nil {
		metrics.ObserveJob("reaction_poll", start, err)
		return 0, fmt.Errorf("список постов: %w", err)
	}
	byChat := make(map[int64][]domain.ValuePost)
	for _, post := range posts {
		byChat[post.ChannelID] = append(byChat[post.ChannelID], post)
	}

	published := 0
	var firstErr error
	for chatID, chatPosts := range byChat {
		for len(chatPosts) > 0 {
			n := min(batchSize, len(chatPosts))
			batch := chatPosts[:n]
			chatPosts = chatPosts[n:]
			count, err := p.pollBatch(ctx, chatID, batch)
			published += count
			if err != nil {
				p.log.Warn().Err(err).Int64("chat", chatID).Int("posts", len(batch)).Msg("reaction_poller: не удалось получить реакции")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	metrics.ObserveJob("reaction_poll", start, firstErr)
	p.log.Debug().Int("posts", len(posts)).Int("events", published).Msg("reaction_poller: опрос завершён")
	return published, firstErr
}

func (p *Poller) pollBatch(ctx context.Context, chatID int64, batch []domain.ValuePost) (int, error) {
	ids := make([]int, 0, len(batch))
	for _, post := range batch {
		ids = append(ids, int(post.MessageID))
	}
	observed, err := p.fetcher.Fetch(ctx, chatID, ids)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, post := range batch {
		obs, ok := observed[int(post.MessageID)]
		if !ok {
			continue
		}
		for _, event := range changes(post, obs) {
			event.ID = p.newID()
			event.ObservedAt = time.Now().UTC()
			if err := p.events.Enqueue(ctx, event); err != nil {
				return published, fmt.Errorf("публикация события поста %d: %w", post.MessageID, err)
			}
			published++
		}
	}
	return published, nil
}

// changes сравнивает сохранённый пост с наблюдением. Открепление приходит только отсюда:
// Bot API не присылает сервисных сообщений о нём.
func changes(post domain.ValuePost, obs Observation) []domain.PointEvent {
	base := domain.PointEvent{MessageID: post.MessageID, ChannelID: post.ChannelID}
	if obs.Deleted {
		base.Kind = domain.EventPostDeleted
		return []domain.PointEvent{base}
	}
	var events []domain.PointEvent
	if obs.Reactions != post.Reactions() {
		reactions := obs.Reactions
		ev := base
		ev.Kind = domain.EventReactions
		ev.Reactions = &reactions
		events = append(events, ev)
	}
	if obs.Pinned != post.IsPinned {
		ev := base
		ev.Kind = domain.EventPin
		ev.Pinned = obs.Pinned
		events = append(events, ev)
	}
	return events
}

// CountReactions переводит эмодзи в учитываемые счётчики. Остальные реакции игнорируются.
func CountReactions(counts map[string]int) domain.ReactionCounts {
	return domain.ReactionCounts{
		Fire:    counts["🔥"],
		Gem:     counts["💎"],
		Hundred: counts["💯"],
	}
}
