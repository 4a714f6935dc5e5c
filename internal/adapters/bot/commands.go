package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/usecase/leaderboard"
	"tg-points-bot/internal/usecase/points"
)

const (
	defaultTopN    = 10
	maxTopN        = 25
	historyLimit   = 10
	pendingLimit   = 20
	adminOnlyReply = "Команда доступна только модераторам."
)

const helpText = `🏆 <b>Очки сообщества</b>

Очки начисляются за активность в чате, реакции 🔥 💎 💯 на ценные посты и одобренные заявки.

/points — ваш баланс, место и ступень
/top [n] — таблица лидеров
/tier — ступени и пороги
/history — последние начисления
/submitwin &lt;сумма&gt; &lt;описание&gt; [ссылка] — заявка о победе
/submitreferral &lt;whop|discord&gt; &lt;username&gt; — реферал
/applyscaler [о себе] — заявка в Scaler`

const adminHelpText = `

<b>Модераторам</b>
/pending — заявки на проверке
/approve &lt;id&gt; [очки] — одобрить
/reject &lt;id&gt; — отклонить
/addpoints &lt;id&gt; &lt;очки&gt; [заметка]
/removepoints &lt;id&gt; &lt;очки&gt; [заметка]
/setpoints &lt;id&gt; &lt;очки&gt; [заметка]
Вместо id можно ответить на сообщение участника.`

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message, cmd, args string) {
	chatID := msg.Chat.ID
	switch cmd {
	case "start", "help":
		text := helpText
		if h.isAdmin(msg.From.ID) {
			text += adminHelpText
		}
		h.reply(chatID, text)
	case "points", "rank":
		h.handlePoints(ctx, msg)
	case "top", "leaderboard":
		h.handleTop(ctx, chatID, args)
	case "tier", "tiers":
		h.handleTier(ctx, msg)
	case "history":
		h.handleHistory(ctx, chatID, msg.From.ID)
	case "submitwin":
		h.handleSubmitWin(ctx, msg, args)
	case "submitreferral":
		h.handleSubmitReferral(ctx, msg, args)
	case "applyscaler":
		h.submit(ctx, msg, points.NewSubmission{
			User:        userRef(msg.From),
			Type:        domain.SubmissionScalerApplication,
			Description: args,
		})
	case "pending", "approve", "reject", "addpoints", "removepoints", "setpoints":
		if !h.isAdmin(msg.From.ID) {
			h.reply(chatID, adminOnlyReply)
			return
		}
		h.handleAdminCommand(ctx, msg, cmd, args)
	default:
		h.reply(chatID, "Неизвестная команда. Используйте /help")
	}
}

func (h *Handler) handleAdminCommand(ctx context.Context, msg *tgbotapi.Message, cmd, args string) {
	switch cmd {
	case "pending":
		h.handlePending(ctx, msg.Chat.ID)
	case "approve":
		h.handleApprove(ctx, msg, args)
	case "reject":
		h.handleReject(ctx, msg, args)
	case "addpoints", "removepoints", "setpoints":
		h.handleAdjust(ctx, msg, cmd, args)
	}
}

func (h *Handler) handlePoints(ctx context.Context, msg *tgbotapi.Message) {
	target := msg.From
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && !msg.ReplyToMessage.From.IsBot {
		target = msg.ReplyToMessage.From
	}
	user, progress, err := h.points.Progress(ctx, target.ID)
	if errors.Is(err, domain.ErrNotFound) {
		h.reply(msg.Chat.ID, "У "+escape(displayName(target))+" пока нет очков.")
		return
	}
	if err != nil {
		h.userError(msg.Chat.ID, err)
		return
	}
	rank := 0
	if ranked, err := h.points.RankOf(ctx, target.ID); err == nil {
		rank = ranked.Rank
	}
	h.reply(msg.Chat.ID, leaderboard.FormatProfile(user, rank, progress, h.points.Rules().MaxReferrals))
}

func (h *Handler) handleTop(ctx context.Context, chatID int64, args string) {
	n := defaultTopN
	if args != "" {
		parsed, err := strconv.Atoi(strings.Fields(args)[0])
		if err != nil || parsed <= 0 {
			h.reply(chatID, "Использование: /top [n]")
			return
		}
		n = min(parsed, maxTopN)
	}
	entries, err := h.points.TopN(ctx, n)
	if err != nil {
		h.userError(chatID, err)
		return
	}
	h.reply(chatID, leaderboard.FormatLeaderboard(entries, h.points.Tiers()))
}

func (h *Handler) handleTier(ctx context.Context, msg *tgbotapi.Message) {
	text := leaderboard.FormatTierTable(h.points.Tiers())
	if user, progress, err := h.points.Progress(ctx, msg.From.ID); err == nil {
		text += fmt.Sprintf("\n\nВаша ступень: %s <b>%s</b> (%d)", progress.Current.Emoji, escape(progress.Current.RoleName), user.TotalPoints)
	}
	h.reply(msg.Chat.ID, text)
}

func (h *Handler) handleHistory(ctx context.Context, chatID, userID int64) {
	entries, err := h.points.RecentHistory(ctx, userID, historyLimit)
	if err != nil {
		h.userError(chatID, err)
		return
	}
	h.reply(chatID, leaderboard.FormatHistory(entries))
}

func (h *Handler) handleSubmitWin(ctx context.Context, msg *tgbotapi.Message, args string) {
	amount, description, proof, err := parseWinArgs(args)
	if err != nil {
		h.reply(msg.Chat.ID, "Использование: /submitwin &lt;сумма&gt; &lt;описание&gt; [ссылка]")
		return
	}
	h.submit(ctx, msg, points.NewSubmission{
		User:        userRef(msg.From),
		Type:        domain.SubmissionWin,
		Description: description,
		ProofURL:    proof,
		Amount:      &amount,
	})
}

func (h *Handler) handleSubmitReferral(ctx context.Context, msg *tgbotapi.Message, args string) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		h.reply(msg.Chat.ID, "Использование: /submitreferral &lt;whop|discord&gt; &lt;username&gt;")
		return
	}
	h.submit(ctx, msg, points.NewSubmission{
		User:         userRef(msg.From),
		Type:         domain.SubmissionReferral,
		ReferralType: fields[0],
		Description:  strings.Join(fields[1:], " "),
	})
}

func (h *Handler) submit(ctx context.Context, msg *tgbotapi.Message, in points.NewSubmission) {
	sub, err := h.points.CreateSubmission(ctx, in)
	if err != nil {
		h.userError(msg.Chat.ID, err)
		return
	}
	h.reply(msg.Chat.ID, fmt.Sprintf("✅ Заявка <code>#%d</code> отправлена на проверку.", sub.ID))
	if h.cfg.ReviewChatID != 0 {
		h.reply(h.cfg.ReviewChatID, "🆕 "+formatSubmission(sub, h.points.SuggestPoints(sub)))
	}
}

func (h *Handler) handlePending(ctx context.Context, chatID int64) {
	subs, err := h.points.PendingSubmissions(ctx, pendingLimit)
	if err != nil {
		h.userError(chatID, err)
		return
	}
	if len(subs) == 0 {
		h.reply(chatID, "Заявок на проверке нет.")
		return
	}
	blocks := make([]string, 0, len(subs))
	for _, sub := range subs {
		blocks = append(blocks, formatSubmission(sub, h.points.SuggestPoints(sub)))
	}
	h.reply(chatID, "📥 <b>На проверке</b>\n\n"+strings.Join(blocks, "\n\n"))
}

func (h *Handler) handleApprove(ctx context.Context, msg *tgbotapi.Message, args string) {
	id, pts, hasPoints, err := parseApproveArgs(args)
	if err != nil {
		h.reply(msg.Chat.ID, "Использование: /approve &lt;id&gt; [очки]")
		return
	}
	if !hasPoints {
		sub, err := h.points.GetSubmission(ctx, id)
		if err != nil {
			h.userError(msg.Chat.ID, err)
			return
		}
		pts = h.points.SuggestPoints(sub)
	}
	sub, err := h.points.ApproveSubmission(ctx, id, msg.From.ID, pts)
	if err != nil {
		h.userError(msg.Chat.ID, err)
		return
	}
	h.reply(msg.Chat.ID, fmt.Sprintf("✅ Заявка <code>#%d</code> одобрена: %+d.", sub.ID, sub.PointsAwarded))
}

func (h *Handler) handleReject(ctx context.Context, msg *tgbotapi.Message, args string) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(args), "#"), 10, 64)
	if err != nil || id <= 0 {
		h.reply(msg.Chat.ID, "Использование: /reject &lt;id&gt;")
		return
	}
	sub, err := h.points.RejectSubmission(ctx, id, msg.From.ID)
	if err != nil {
		h.userError(msg.Chat.ID, err)
		return
	}
	h.reply(msg.Chat.ID, fmt.Sprintf("❌ Заявка <code>#%d</code> отклонена.", sub.ID))
}

func (h *Handler) handleAdjust(ctx context.Context, msg *tgbotapi.Message, cmd, args string) {
	target, amount, note, err := parseAdjustArgs(msg, args)
	if err != nil {
		h.reply(msg.Chat.ID, fmt.Sprintf("Использование: /%s &lt;id&gt; &lt;очки&gt; [заметка]", cmd))
		return
	}
	if cmd != "setpoints" && amount <= 0 {
		h.reply(msg.Chat.ID, "Количество очков должно быть положительным.")
		return
	}
	var user domain.User
	switch cmd {
	case "addpoints":
		user, err = h.points.AdjustPoints(ctx, target, amount, msg.From.ID, note)
	case "removepoints":
		user, err = h.points.AdjustPoints(ctx, target, -amount, msg.From.ID, note)
	case "setpoints":
		user, err = h.points.SetPoints(ctx, target, amount, msg.From.ID, note)
	}
	if err != nil {
		h.userError(msg.Chat.ID, err)
		return
	}
	h.reply(msg.Chat.ID, fmt.Sprintf("Баланс %s: <b>%d</b> (%s)", escape(userLabel(user)), user.TotalPoints, user.Tier))
}

// parseWinArgs разбирает «<сумма> <описание> [ссылка]». Сумма допускает $ и разделители тысяч.
func parseWinArgs(args string) (float64, string, string, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return 0, "", "", errors.New("мало аргументов")
	}
	amount, err := parseAmount(fields[0])
	if err != nil {
		return 0, "", "", err
	}
	var (
		proof string
		words []string
	)
	for _, f := range fields[1:] {
		if proof == "" && (strings.HasPrefix(f, "https://") || strings.HasPrefix(f, "http://")) {
			proof = f
			continue
		}
		words = append(words, f)
	}
	return amount, strings.Join(words, " "), proof, nil
}

func parseAmount(raw string) (float64, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", "_", "").Replace(strings.TrimSpace(raw))
	return strconv.ParseFloat(cleaned, 64)
}

func parseApproveArgs(args string) (id, pts int64, hasPoints bool, err error) {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, 0, false, errors.New("ожидали id и очки")
	}
	id, err = strconv.ParseInt(strings.TrimPrefix(fields[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, 0, false, errors.New("некорректный id")
	}
	if len(fields) == 2 {
		pts, err = strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, 0, false, err
		}
		hasPoints = true
	}
	return id, pts, hasPoints, nil
}

// parseAdjustArgs берёт участника из ответа на сообщение или из первого аргумента.
func parseAdjustArgs(msg *tgbotapi.Message, args string) (domain.UserRef, int64, string, error) {
	fields := strings.Fields(args)
	var target domain.UserRef
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		target = userRef(msg.ReplyToMessage.From)
	} else {
		if len(fields) == 0 {
			return domain.UserRef{}, 0, "", errors.New("не указан участник")
		}
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil || id <= 0 {
			return domain.UserRef{}, 0, "", errors.New("некорректный id")
		}
		target = domain.UserRef{ID: id}
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return domain.UserRef{}, 0, "", errors.New("не указаны очки")
	}
	amount, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return domain.UserRef{}, 0, "", err
	}
	return target, amount, strings.Join(fields[1:], " "), nil
}

func formatSubmission(sub domain.Submission, suggested int64) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("<code>#%d</code> <b>%s</b> от %d", sub.ID, sub.Type, sub.UserID))
	if sub.Amount != nil {
		b.WriteString(fmt.Sprintf("\nСумма: $%.2f", *sub.Amount))
	}
	if sub.ReferralType != nil {
		b.WriteString("\nРеферал: " + strings.ToUpper(string(*sub.ReferralType)))
	}
	if sub.Description != "" {
		b.WriteString("\n" + escape(sub.Description))
	}
	if sub.ProofURL != nil {
		b.WriteString(fmt.Sprintf("\n<a href=\"%s\">Подтверждение</a>", escape(*sub.ProofURL)))
	}
	b.WriteString(fmt.Sprintf("\nРекомендуется: %d", suggested))
	return b.String()
}

func userRef(u *tgbotapi.User) domain.UserRef {
	return domain.UserRef{ID: u.ID, DisplayName: displayName(u)}
}

func userLabel(u domain.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return strconv.FormatInt(u.ID, 10)
}

func escape(s string) string {
	return html.EscapeString(s)
}
