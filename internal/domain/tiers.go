package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Tier — название ступени, вычисляемой из суммы очков.
type Tier string

const (
	TierObserver Tier = "OBSERVER"
	TierBuilder  Tier = "BUILDER"
	TierOperator Tier = "OPERATOR"
	TierElite    Tier = "ELITE"
)

// TierLevel описывает порог ступени и её отображение в чате.
type TierLevel struct {
	Tier      Tier   `yaml:"tier"`
	MinPoints int64  `yaml:"min_points"`
	RoleName  string `yaml:"role_name"`
	Emoji     string `yaml:"emoji"`
}

// TierTable — упорядоченная по возрастанию порогов таблица ступеней.
type TierTable []TierLevel

// DefaultTierTable возвращает стандартные пороги сообщества.
func DefaultTierTable() TierTable {
	return TierTable{
		{Tier: TierObserver, MinPoints: 0, RoleName: "Q1 — Challenger", Emoji: "🟤"},
		{Tier: TierBuilder, MinPoints: 50, RoleName: "Q1 — Builder", Emoji: "🟢"},
		{Tier: TierOperator, MinPoints: 150, RoleName: "Q1 — Operator", Emoji: "🔵"},
		{Tier: TierElite, MinPoints: 300, RoleName: "Q1 — Elite", Emoji: "🟣"},
	}
}

// Validate проверяет, что таблица не пуста, пороги строго возрастают, а названия уникальны.
func (t TierTable) Validate() error {
	if len(t) == 0 {
		return &ValidationError{Field: "tiers", Reason: "таблица ступеней пуста"}
	}
	seen := make(map[Tier]struct{}, len(t))
	for i, level := range t {
		name := strings.TrimSpace(string(level.Tier))
		if name == "" {
			return &ValidationError{Field: "tiers", Reason: fmt.Sprintf("ступень %d без названия", i)}
		}
		if _, ok := seen[level.Tier]; ok {
			return &ValidationError{Field: "tiers", Reason: fmt.Sprintf("ступень %s указана дважды", level.Tier)}
		}
		seen[level.Tier] = struct{}{}
		if i > 0 && level.MinPoints <= t[i-1].MinPoints {
			return &ValidationError{Field: "tiers", Reason: fmt.Sprintf("порог %s должен быть больше порога %s", level.Tier, t[i-1].Tier)}
		}
	}
	return nil
}

// Floor возвращает нижнюю ступень таблицы.
func (t TierTable) Floor() TierLevel {
	if len(t) == 0 {
		return TierLevel{Tier: TierObserver}
	}
	return t[0]
}

// LevelFor возвращает ступень для суммы очков. Суммы ниже первого порога, включая
// отрицательные, попадают на нижнюю ступень.
func (t TierTable) LevelFor(total int64) TierLevel {
	if len(t) == 0 {
		return t.Floor()
	}
	return t[t.indexFor(total)]
}

func (t TierTable) indexFor(total int64) int {
	idx := sort.Search(len(t), func(i int) bool { return t[i].MinPoints > total })
	if idx == 0 {
		return 0
	}
	return idx - 1
}

// TierFor возвращает название ступени для суммы очков.
func (t TierTable) TierFor(total int64) Tier {
	return t.LevelFor(total).Tier
}

// Level ищет ступень по названию.
func (t TierTable) Level(tier Tier) (TierLevel, bool) {
	for _, level := range t {
		if level.Tier == tier {
			return level, true
		}
	}
	return TierLevel{}, false
}

// TierProgress описывает путь пользователя до следующей ступени.
type TierProgress struct {
	Current      TierLevel
	Next         *TierLevel
	PointsNeeded int64
}

// Progress возвращает текущую ступень, следующую и недостающее количество очков.
// Для высшей ступени Next равен nil.
func (t TierTable) Progress(total int64) TierProgress {
	if len(t) == 0 {
		return TierProgress{Current: t.Floor()}
	}
	idx := t.indexFor(total)
	progress := TierProgress{Current: t[idx]}
	if idx+1 < len(t) {
		next := t[idx+1]
		progress.Next = &next
		progress.PointsNeeded = next.MinPoints - total
	}
	return progress
}
