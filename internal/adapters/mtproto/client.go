package mtproto

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"tg-points-bot/internal/infra/metrics"
)

// channelIDOffset отделяет идентификатор канала MTProto от chat_id Bot API (-100XXXXXXXXXX).
const channelIDOffset = 1_000_000_000_000

// ErrNotChannel — chat_id не принадлежит каналу или супергруппе.
var ErrNotChannel = errors.New("chat is not a channel")

// Client — MTProto клиент бота с сессией в файле.
type Client struct {
	client *telegram.Client
	token  string
	log    zerolog.Logger

	mu     sync.Mutex
	hashes map[int64]int64
}

// NewClient создаёт клиента. Сессия хранится в sessionPath, авторизация выполняется токеном бота.
func NewClient(apiID int, apiHash, sessionPath, botToken string, log zerolog.Logger) *Client {
	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessionPath},
	})
	return &Client{
		client: client,
		token:  botToken,
		log:    log.With().Str("component", "mtproto").Logger(),
		hashes: make(map[int64]int64),
	}
}

// Run подключается, авторизует бота и вызывает fn до её завершения.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		status, err := c.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("статус авторизации: %w", err)
		}
		if !status.Authorized {
			if _, err := c.client.Auth().Bot(ctx, c.token); err != nil {
				return fmt.Errorf("авторизация бота: %w", err)
			}
			c.log.Info().Msg("mtproto: бот авторизован")
		}
		return fn(ctx)
	})
}

// Fetch загружает сообщения канала и считает реакции. Удалённые сообщения помечаются Deleted.
func (c *Client) Fetch(ctx context.Context, chatID int64, messageIDs []int) (map[int]Observation, error) {
	channel, err := c.inputChannel(ctx, chatID)
	if err != nil {
		return nil, err
	}
	ids := make([]tg.InputMessageClass, 0, len(messageIDs))
	for _, id := range messageIDs {
		ids = append(ids, &tg.InputMessageID{ID: id})
	}
	start := time.Now()
	res, err := c.client.API().ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{Channel: channel, ID: ids})
	metrics.ObserveNetworkRequest("mtproto", "channels.getMessages", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		return nil, fmt.Errorf("channels.getMessages: %w", err)
	}
	modified, ok := res.AsModified()
	if !ok {
		return nil, nil
	}
	return observe(modified.GetMessages()), nil
}

func observe(messages []tg.MessageClass) map[int]Observation {
	out := make(map[int]Observation, len(messages))
	for _, raw := range messages {
		switch msg := raw.(type) {
		case *tg.MessageEmpty:
			out[msg.ID] = Observation{Deleted: true}
		case *tg.Message:
			counts := make(map[string]int)
			if reactions, ok := msg.GetReactions(); ok {
				for _, result := range reactions.Results {
					if emoji, ok := result.Reaction.(*tg.ReactionEmoji); ok {
						counts[emoji.Emoticon] += result.Count
					}
				}
			}
			out[msg.ID] = Observation{Reactions: CountReactions(counts), Pinned: msg.Pinned}
		}
	}
	return out
}

// inputChannel находит access hash канала и запоминает его.
func (c *Client) inputChannel(ctx context.Context, chatID int64) (*tg.InputChannel, error) {
	channelID, ok := ChannelID(chatID)
	if !ok {
		return nil, fmt.Errorf("%d: %w", chatID, ErrNotChannel)
	}
	c.mu.Lock()
	hash, cached := c.hashes[channelID]
	c.mu.Unlock()
	if cached {
		return &tg.InputChannel{ChannelID: channelID, AccessHash: hash}, nil
	}

	start := time.Now()
	res, err := c.client.API().ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: channelID}})
	metrics.ObserveNetworkRequest("mtproto", "channels.getChannels", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		return nil, fmt.Errorf("channels.getChannels: %w", err)
	}
	for _, chat := range res.GetChats() {
		if ch, ok := chat.(*tg.Channel); ok && ch.ID == channelID {
			c.mu.Lock()
			c.hashes[channelID] = ch.AccessHash
			c.mu.Unlock()
			return &tg.InputChannel{ChannelID: channelID, AccessHash: ch.AccessHash}, nil
		}
	}
	return nil, fmt.Errorf("канал %d недоступен боту", chatID)
}

// ChannelID переводит chat_id Bot API в идентификатор канала MTProto.
func ChannelID(chatID int64) (int64, bool) {
	if chatID >= -channelIDOffset {
		return 0, false
	}
	return -chatID - channelIDOffset, true
}
