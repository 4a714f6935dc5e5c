package leaderboard

import (
	"fmt"
	"html"
	"strings"

	"tg-points-bot/internal/domain"
)

var medals = []string{"🥇", "🥈", "🥉"}

// FormatLeaderboard формирует таблицу лидеров в HTML-разметке Telegram.
func FormatLeaderboard(entries []domain.RankedUser, tiers domain.TierTable) string {
	var b strings.Builder
	b.WriteString("🏆 <b>Таблица лидеров</b>")
	if len(entries) == 0 {
		b.WriteString("\n\nПока никто не набрал очков.")
		return b.String()
	}
	b.WriteString("\n")
	for _, e := range entries {
		marker := fmt.Sprintf("<code>#%d</code>", e.Rank)
		if e.Rank >= 1 && e.Rank <= len(medals) {
			marker = medals[e.Rank-1]
		}
		line := fmt.Sprintf("\n%s <b>%s</b> %s", marker, escapeHTML(displayName(e.User)), tierEmoji(tiers, e.User.Tier))
		if e.User.IsScaler {
			line += " ⚙️"
		}
		b.WriteString(line)
		b.WriteString(fmt.Sprintf("\n    └ %d %s", e.User.TotalPoints, pointsWord(e.User.TotalPoints)))
	}
	return b.String()
}

// FormatProfile показывает баланс, место и прогресс до следующей ступени.
func FormatProfile(u domain.User, rank int, progress domain.TierProgress, maxReferrals int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>%s</b>\n", progress.Current.Emoji, escapeHTML(displayName(u))))
	b.WriteString(fmt.Sprintf("\n📊 Очки: <b>%d</b>", u.TotalPoints))
	if rank > 0 {
		b.WriteString(fmt.Sprintf("\n🏅 Место: <b>#%d</b>", rank))
	}
	b.WriteString("\n🎖 Ступень: <b>" + escapeHTML(levelName(progress.Current)) + "</b>")
	if progress.Next != nil {
		b.WriteString(fmt.Sprintf("\n⏭ До %s: %d %s", escapeHTML(levelName(*progress.Next)), progress.PointsNeeded, pointsWord(progress.PointsNeeded)))
	} else {
		b.WriteString("\n⏭ Достигнута высшая ступень")
	}
	if u.IsScaler {
		b.WriteString("\n⚙️ Статус: <b>Scaler</b>")
	}
	if maxReferrals > 0 {
		b.WriteString(fmt.Sprintf("\n🤝 Рефералы: %d/%d", u.ReferralCount, maxReferrals))
	}
	return b.String()
}

// FormatHistory выводит последние записи журнала, новые сверху.
func FormatHistory(entries []domain.PointsEntry) string {
	if len(entries) == 0 {
		return "📜 История пуста."
	}
	var b strings.Builder
	b.WriteString("📜 <b>Последние начисления</b>\n")
	for _, e := range entries {
		line := fmt.Sprintf("\n%s <b>%+d</b> %s", e.CreatedAt.UTC().Format("02.01 15:04"), e.PointsChange, escapeHTML(reasonLabel(e.Reason)))
		if note := strings.TrimSpace(e.Note); note != "" {
			line += " — " + escapeHTML(note)
		}
		b.WriteString(line)
	}
	return b.String()
}

// FormatTierTable перечисляет ступени и их пороги.
func FormatTierTable(tiers domain.TierTable) string {
	var b strings.Builder
	b.WriteString("🎖 <b>Ступени</b>\n")
	for _, level := range tiers {
		b.WriteString(fmt.Sprintf("\n%s %s — от %d", level.Emoji, escapeHTML(levelName(level)), level.MinPoints))
	}
	return b.String()
}

func reasonLabel(reason string) string {
	switch reason {
	case domain.ReasonDailyActivity:
		return "активность"
	case domain.ReasonValuePost:
		return "ценный пост"
	case domain.ReasonAdminAdjustment:
		return "корректировка"
	case string(domain.SubmissionWin):
		return "победа"
	case string(domain.SubmissionReferral):
		return "реферал"
	case string(domain.SubmissionScalerApplication):
		return "scaler"
	case string(domain.SubmissionExpense):
		return "расход"
	}
	return reason
}

func tierEmoji(tiers domain.TierTable, tier domain.Tier) string {
	if level, ok := tiers.Level(tier); ok {
		return level.Emoji
	}
	return ""
}

func levelName(level domain.TierLevel) string {
	if level.RoleName != "" {
		return level.RoleName
	}
	return string(level.Tier)
}

func displayName(u domain.User) string {
	if name := strings.TrimSpace(u.DisplayName); name != "" {
		return name
	}
	return fmt.Sprintf("id%d", u.ID)
}

// pointsWord согласует слово «очко» с числом.
func pointsWord(n int64) string {
	if n < 0 {
		n = -n
	}
	switch {
	case n%100 >= 11 && n%100 <= 14:
		return "очков"
	case n%10 == 1:
		return "очко"
	case n%10 >= 2 && n%10 <= 4:
		return "очка"
	}
	return "очков"
}

func escapeHTML(s string) string {
	return html.EscapeString(s)
}
