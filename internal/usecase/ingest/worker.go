package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/infra/metrics"
	"tg-points-bot/internal/usecase/points"
)

// MaxDeliveryAttempts ограничивает число повторных доставок одного события.
const MaxDeliveryAttempts = 5

const attemptTTL = 24 * time.Hour

// Points — операции сервиса очков, которые вызывает обработчик событий.
type Points interface {
	RecordActivity(ctx context.Context, user domain.UserRef, date time.Time, messageCount int) (points.ActivityResult, error)
	RecomputePost(ctx context.Context, obs points.PostObservation) (points.PostResult, error)
	SetPostPinned(ctx context.Context, messageID int64, pinned bool) (points.PostResult, error)
	RetractPost(ctx context.Context, messageID int64) (points.PostResult, error)
}

// Worker читает события из очереди и превращает их в записи журнала.
type Worker struct {
	log      zerolog.Logger
	queue    domain.EventQueue
	points   Points
	attempts domain.Cache
	backoff  time.Duration
}

// NewWorker создаёт обработчик. attempts считает доставки одного события и может быть nil,
// тогда каждое событие обрабатывается как первая доставка.
func NewWorker(log zerolog.Logger, queue domain.EventQueue, pts Points, attempts domain.Cache) *Worker {
	return &Worker{
		log:      log.With().Str("component", "ingest").Logger(),
		queue:    queue,
		points:   pts,
		attempts: attempts,
		backoff:  time.Second,
	}
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeDropped
	outcomeRetry
)

// Run обрабатывает очередь до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	for {
		event, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("ingest: ошибка чтения очереди")
			w.pause(ctx)
			continue
		}
		w.Process(ctx, event, ack)
	}
}

// Process обрабатывает одно событие и подтверждает или возвращает его в очередь.
func (w *Worker) Process(ctx context.Context, event domain.PointEvent, ack domain.AckFunc) {
	evLog := w.log.With().
		Str("event_id", event.ID).
		Str("kind", string(event.Kind)).
		Int64("user", event.UserID).
		Int64("message", event.MessageID).
		Logger()

	if event.ID == "" {
		evLog.Error().Msg("ingest: событие без идентификатора, подтверждаем и пропускаем")
		metrics.IncEvent(string(event.Kind), "dropped")
		w.ack(evLog, ack, true)
		return
	}

	attempt := w.attempt(event.ID, evLog)
	evLog = evLog.With().Int("attempt", attempt).Logger()

	result, err := w.handle(ctx, event)
	switch result {
	case outcomeDone:
		metrics.IncEvent(string(event.Kind), "ok")
		w.ack(evLog, ack, true)
	case outcomeDropped:
		evLog.Warn().Err(err).Msg("ingest: событие отклонено")
		metrics.IncEvent(string(event.Kind), "dropped")
		w.ack(evLog, ack, true)
	case outcomeRetry:
		if attempt < MaxDeliveryAttempts {
			evLog.Warn().Err(err).Msg("ingest: временная ошибка, повторим позже")
			metrics.IncEvent(string(event.Kind), "retry")
			w.ack(evLog, ack, false)
			w.pause(ctx)
			return
		}
		evLog.Error().Err(err).Msg("ingest: достигнут предел попыток, событие отброшено")
		metrics.IncEvent(string(event.Kind), "failed")
		w.ack(evLog, ack, true)
	}
}

func (w *Worker) handle(ctx context.Context, event domain.PointEvent) (outcome, error) {
	err := w.dispatch(ctx, event)
	switch {
	case err == nil:
		return outcomeDone, nil
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidStateTransition):
		return outcomeDropped, err
	default:
		return outcomeRetry, err
	}
}

func (w *Worker) dispatch(ctx context.Context, event domain.PointEvent) error {
	user := domain.UserRef{ID: event.UserID, DisplayName: event.DisplayName}
	switch event.Kind {
	case domain.EventActivity:
		res, err := w.points.RecordActivity(ctx, user, event.Date, event.MessageCount)
		if err == nil && res.Delta != 0 {
			w.log.Debug().Int64("user", user.ID).Int64("delta", res.Delta).Msg("ingest: начислена активность")
		}
		return err
	case domain.EventPostCreated:
		_, err := w.points.RecomputePost(ctx, points.PostObservation{
			MessageID: event.MessageID,
			ChannelID: event.ChannelID,
			Author:    &user,
			Reactions: event.Reactions,
			PostedAt:  event.Date,
		})
		return err
	case domain.EventReactions:
		if event.Reactions == nil {
			return domain.Invalid("reactions", "нет счётчиков реакций")
		}
		_, err := w.points.RecomputePost(ctx, points.PostObservation{
			MessageID: event.MessageID,
			ChannelID: event.ChannelID,
			Reactions: event.Reactions,
		})
		return err
	case domain.EventPin:
		_, err := w.points.SetPostPinned(ctx, event.MessageID, event.Pinned)
		return err
	case domain.EventPostDeleted:
		_, err := w.points.RetractPost(ctx, event.MessageID)
		return err
	default:
		return domain.Invalid("kind", fmt.Sprintf("неизвестный тип события %q", event.Kind))
	}
}

func (w *Worker) attempt(id string, evLog zerolog.Logger) int {
	if w.attempts == nil {
		return 1
	}
	n, err := w.attempts.Incr("event_attempt:"+id, attemptTTL)
	if err != nil {
		evLog.Warn().Err(err).Msg("ingest: не удалось учесть попытку")
		return 1
	}
	return int(n)
}

func (w *Worker) ack(evLog zerolog.Logger, ack domain.AckFunc, success bool) {
	if err := ack(success); err != nil {
		evLog.Error().Err(err).Bool("success", success).Msg("ingest: не удалось подтвердить событие")
	}
}

func (w *Worker) pause(ctx context.Context) {
	if w.backoff <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(w.backoff):
	}
}
