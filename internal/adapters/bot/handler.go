package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-points-bot/internal/adapters/telegram"
	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/infra/metrics"
	"tg-points-bot/internal/usecase/points"
)

// activityCounterTTL держит счётчик сообщений дольше суток, чтобы поздние апдейты попадали в свой день.
const activityCounterTTL = 48 * time.Hour

// Sender отправляет сообщения в Telegram. Его реализует *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config описывает чаты сообщества и модераторов.
type Config struct {
	// ChatID — чат, где считается активность. 0 — любой групповой чат.
	ChatID int64
	// ValueChannelID — чат ценных постов.
	ValueChannelID int64
	// ReviewChatID получает уведомления о новых заявках.
	ReviewChatID int64
	AdminIDs     []int64
}

// Handler обрабатывает апдейты бота: считает сообщения, публикует события и отвечает на команды.
type Handler struct {
	bot      Sender
	log      zerolog.Logger
	points   *points.Service
	events   domain.EventQueue
	counters domain.Cache
	cfg      Config
	admins   map[int64]struct{}
	newID    func() string
}

// NewHandler создаёт обработчик.
func NewHandler(bot Sender, log zerolog.Logger, pointsUC *points.Service, events domain.EventQueue, counters domain.Cache, cfg Config) *Handler {
	admins := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}
	return &Handler{
		bot:      bot,
		log:      log.With().Str("component", "bot").Logger(),
		points:   pointsUC,
		events:   events,
		counters: counters,
		cfg:      cfg,
		admins:   admins,
		newID:    uuid.NewString,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.From == nil || msg.From.IsBot || msg.Chat == nil {
		return
	}
	if cmd, args, ok := splitCommand(msg.Text); ok {
		h.handleCommand(ctx, msg, cmd, args)
		return
	}
	if msg.PinnedMessage != nil && h.isValueChat(msg.Chat.ID) {
		h.publish(ctx, domain.PointEvent{
			Kind:      domain.EventPin,
			MessageID: int64(msg.PinnedMessage.MessageID),
			ChannelID: msg.Chat.ID,
			Pinned:    true,
		})
		return
	}
	if h.isValueChat(msg.Chat.ID) {
		h.publish(ctx, domain.PointEvent{
			Kind:        domain.EventPostCreated,
			UserID:      msg.From.ID,
			DisplayName: displayName(msg.From),
			Date:        msg.Time().UTC(),
			MessageID:   int64(msg.MessageID),
			ChannelID:   msg.Chat.ID,
		})
	}
	if h.isActivityChat(msg.Chat) {
		h.countActivity(ctx, msg)
	}
}

func (h *Handler) isValueChat(chatID int64) bool {
	return h.cfg.ValueChannelID != 0 && chatID == h.cfg.ValueChannelID
}

func (h *Handler) isActivityChat(chat *tgbotapi.Chat) bool {
	if h.cfg.ChatID != 0 {
		return chat.ID == h.cfg.ChatID
	}
	return chat.IsGroup() || chat.IsSuperGroup()
}

// countActivity увеличивает дневной счётчик сообщений и публикует накопленное значение.
func (h *Handler) countActivity(ctx context.Context, msg *tgbotapi.Message) {
	day := domain.DayOf(msg.Time().UTC())
	key := fmt.Sprintf("activity:%s:%d", day.Format("2006-01-02"), msg.From.ID)
	count, err := h.counters.Incr(key, activityCounterTTL)
	if err != nil {
		h.log.Error().Err(err).Int64("user", msg.From.ID).Msg("bot: не удалось увеличить счётчик сообщений")
		return
	}
	h.publish(ctx, domain.PointEvent{
		Kind:         domain.EventActivity,
		UserID:       msg.From.ID,
		DisplayName:  displayName(msg.From),
		Date:         day,
		MessageCount: int(count),
	})
}

func (h *Handler) publish(ctx context.Context, event domain.PointEvent) {
	event.ID = h.newID()
	event.ObservedAt = time.Now().UTC()
	if err := h.events.Enqueue(ctx, event); err != nil {
		h.log.Error().Err(err).Str("kind", string(event.Kind)).Int64("user", event.UserID).Msg("bot: не удалось опубликовать событие")
	}
}

func (h *Handler) isAdmin(userID int64) bool {
	_, ok := h.admins[userID]
	return ok
}

// splitCommand выделяет команду без упоминания бота и её аргументы.
func splitCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, args, _ := strings.Cut(text, " ")
	head = strings.TrimPrefix(head, "/")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(args), true
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (h *Handler) reply(chatID int64, text string) {
	if err := sendHTML(h.bot, chatID, text); err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("bot: не удалось отправить сообщение")
	}
}

// sendHTML отправляет текст частями с HTML-разметкой.
func sendHTML(bot Sender, chatID int64, text string) error {
	for _, part := range telegram.SplitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			return err
		}
	}
	return nil
}

// Announcer публикует сообщения планировщика в чат сообщества.
type Announcer struct {
	bot    Sender
	chatID int64
}

// NewAnnouncer создаёт публикатора для chatID.
func NewAnnouncer(bot Sender, chatID int64) *Announcer {
	return &Announcer{bot: bot, chatID: chatID}
}

// Publish отправляет текст в чат.
func (a *Announcer) Publish(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sendHTML(a.bot, a.chatID, text); err != nil {
		return fmt.Errorf("отправка в чат %d: %w", a.chatID, err)
	}
	return nil
}

// userError переводит ошибку сервиса в сообщение для участника.
func (h *Handler) userError(chatID int64, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrDailyPostLimit):
		h.reply(chatID, "Достигнут дневной лимит ценных постов.")
	case errors.Is(err, domain.ErrReferralLimit):
		h.reply(chatID, "Достигнут лимит реферальных заявок.")
	case errors.As(err, &ve):
		h.reply(chatID, "Некорректные данные: "+escape(ve.Reason))
	case errors.Is(err, domain.ErrValidation):
		h.reply(chatID, "Некорректные данные.")
	case errors.Is(err, domain.ErrNotFound):
		h.reply(chatID, "Не найдено.")
	case errors.Is(err, domain.ErrInvalidStateTransition):
		h.reply(chatID, "Заявка уже рассмотрена.")
	case errors.Is(err, domain.ErrTransientConflict):
		h.log.Warn().Err(err).Msg("bot: конфликт записи")
		h.reply(chatID, "Сервис занят, попробуйте ещё раз.")
	default:
		h.log.Error().Err(err).Msg("bot: ошибка обработки команды")
		h.reply(chatID, "Что-то пошло не так. Попробуйте позже.")
	}
}
