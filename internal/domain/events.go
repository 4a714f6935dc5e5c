package domain

import (
	"context"
	"time"
)

// PointEventKind описывает тип наблюдения из чата.
type PointEventKind string

const (
	// EventActivity — накопленное число сообщений пользователя за день.
	EventActivity PointEventKind = "activity"
	// EventPostCreated — новое сообщение в канале ценных постов.
	EventPostCreated PointEventKind = "post_created"
	// EventReactions — свежие счётчики реакций на пост.
	EventReactions PointEventKind = "reactions"
	// EventPin — пост закреплён или откреплён.
	EventPin PointEventKind = "pin"
	// EventPostDeleted — исходное сообщение удалено.
	EventPostDeleted PointEventKind = "post_deleted"
)

// PointEvent — наблюдение, которое нужно превратить в записи журнала.
type PointEvent struct {
	ID           string          `json:"event_id,omitempty"`
	Kind         PointEventKind  `json:"kind"`
	UserID       int64           `json:"user_id,omitempty"`
	DisplayName  string          `json:"display_name,omitempty"`
	Date         time.Time       `json:"date,omitempty"`
	MessageCount int             `json:"message_count,omitempty"`
	MessageID    int64           `json:"message_id,omitempty"`
	ChannelID    int64           `json:"channel_id,omitempty"`
	Reactions    *ReactionCounts `json:"reactions,omitempty"`
	Pinned       bool            `json:"pinned,omitempty"`
	ObservedAt   time.Time       `json:"observed_at"`
}

// EventQueue описывает очередь наблюдений.
type EventQueue interface {
	Enqueue(ctx context.Context, event PointEvent) error
	Receive(ctx context.Context) (PointEvent, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки события.
type AckFunc func(success bool) error
