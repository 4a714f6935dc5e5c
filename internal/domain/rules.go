package domain

import (
	"sort"
	"time"
)

// WinThreshold задаёт награду за выигрыш не меньше MinAmount.
type WinThreshold struct {
	MinAmount float64 `yaml:"min_amount"`
	Points    int64   `yaml:"points"`
}

// PointRules содержит веса и ограничения начисления очков.
type PointRules struct {
	PointsPerMessage int64 `yaml:"points_per_message"`
	// DailyCap ограничивает дневную награду за активность; 0 отключает ограничение.
	DailyCap int64 `yaml:"daily_cap"`
	// MinMessages — минимальное число сообщений за день, с которого начисляются очки.
	MinMessages int `yaml:"min_messages"`

	FireWeight    int64 `yaml:"fire_weight"`
	GemWeight     int64 `yaml:"gem_weight"`
	HundredWeight int64 `yaml:"hundred_weight"`
	PinBonus      int64 `yaml:"pin_bonus"`
	// MaxReactionPoints ограничивает очки поста за реакции без учёта закрепа; 0 отключает ограничение.
	MaxReactionPoints int64 `yaml:"max_reaction_points"`
	// MaxValuePostsPerDay — сколько новых ценных постов в день учитывается у одного автора; 0 без лимита.
	MaxValuePostsPerDay int `yaml:"max_value_posts_per_day"`

	MaxReferrals   int                    `yaml:"max_referrals"`
	WinBasePoints  int64                  `yaml:"win_base_points"`
	WinThresholds  []WinThreshold         `yaml:"win_thresholds"`
	ReferralPoints map[ReferralType]int64 `yaml:"referral_points"`

	// ActivityRetentionDays — сколько дней хранится дневная активность.
	ActivityRetentionDays int `yaml:"activity_retention_days"`

	// ChallengeStart и ChallengeEnd — первый и последний день челленджа. nil снимает границу.
	ChallengeStart *time.Time `yaml:"challenge_start"`
	ChallengeEnd   *time.Time `yaml:"challenge_end"`
}

// DefaultPointRules возвращает правила сообщества по умолчанию.
func DefaultPointRules() PointRules {
	return PointRules{
		PointsPerMessage:    1,
		DailyCap:            1,
		MinMessages:         1,
		FireWeight:          3,
		GemWeight:           3,
		HundredWeight:       5,
		PinBonus:            15,
		MaxReactionPoints:   30,
		MaxValuePostsPerDay: 2,
		MaxReferrals:        10,
		WinBasePoints:       3,
		WinThresholds: []WinThreshold{
			{MinAmount: 5000, Points: 75},
			{MinAmount: 1000, Points: 30},
			{MinAmount: 500, Points: 15},
			{MinAmount: 100, Points: 5},
		},
		ReferralPoints: map[ReferralType]int64{
			ReferralWhop:    10,
			ReferralDiscord: 5,
		},
		ActivityRetentionDays: 30,
	}
}

// Validate проверяет, что веса и лимиты неотрицательны.
func (r PointRules) Validate() error {
	switch {
	case r.PointsPerMessage < 0:
		return Invalid("points_per_message", "не может быть отрицательным")
	case r.DailyCap < 0:
		return Invalid("daily_cap", "не может быть отрицательным")
	case r.MinMessages < 0:
		return Invalid("min_messages", "не может быть отрицательным")
	case r.FireWeight < 0 || r.GemWeight < 0 || r.HundredWeight < 0:
		return Invalid("weights", "веса реакций не могут быть отрицательными")
	case r.PinBonus < 0:
		return Invalid("pin_bonus", "не может быть отрицательным")
	case r.MaxReactionPoints < 0:
		return Invalid("max_reaction_points", "не может быть отрицательным")
	case r.MaxValuePostsPerDay < 0:
		return Invalid("max_value_posts_per_day", "не может быть отрицательным")
	case r.MaxReferrals < 0:
		return Invalid("max_referrals", "не может быть отрицательным")
	case r.ActivityRetentionDays < 0:
		return Invalid("activity_retention_days", "не может быть отрицательным")
	}
	if r.ChallengeStart != nil && r.ChallengeEnd != nil && DayOf(*r.ChallengeEnd).Before(DayOf(*r.ChallengeStart)) {
		return Invalid("challenge_end", "раньше начала челленджа")
	}
	for _, th := range r.WinThresholds {
		if th.Points < 0 || th.MinAmount < 0 {
			return Invalid("win_thresholds", "пороги и награды не могут быть отрицательными")
		}
	}
	return nil
}

// ChallengeActive сообщает, входит ли календарный день t в период челленджа. Границы включаются.
func (r PointRules) ChallengeActive(t time.Time) bool {
	day := DayOf(t)
	if r.ChallengeStart != nil && day.Before(DayOf(*r.ChallengeStart)) {
		return false
	}
	if r.ChallengeEnd != nil && day.After(DayOf(*r.ChallengeEnd)) {
		return false
	}
	return true
}

// ActivityAward вычисляет дневную награду по накопленному числу сообщений.
func (r PointRules) ActivityAward(messageCount int) int64 {
	if messageCount <= 0 || messageCount < r.MinMessages {
		return 0
	}
	award := r.PointsPerMessage * int64(messageCount)
	if r.DailyCap > 0 && award > r.DailyCap {
		award = r.DailyCap
	}
	return award
}

// PostScore вычисляет сумму очков поста. Она зависит только от счётчиков реакций и закрепа.
func (r PointRules) PostScore(c ReactionCounts, pinned bool) int64 {
	score := r.FireWeight*int64(c.Fire) + r.GemWeight*int64(c.Gem) + r.HundredWeight*int64(c.Hundred)
	if r.MaxReactionPoints > 0 && score > r.MaxReactionPoints {
		score = r.MaxReactionPoints
	}
	if pinned {
		score += r.PinBonus
	}
	return score
}

// WinPoints возвращает рекомендуемую награду за выигрыш указанного размера.
func (r PointRules) WinPoints(amount float64) int64 {
	thresholds := append([]WinThreshold(nil), r.WinThresholds...)
	sort.Slice(thresholds, func(i, j int) bool { return thresholds[i].MinAmount > thresholds[j].MinAmount })
	for _, th := range thresholds {
		if amount >= th.MinAmount {
			return th.Points
		}
	}
	return r.WinBasePoints
}

// SuggestedPoints подсказывает модератору награду за заявку.
func (r PointRules) SuggestedPoints(s Submission) int64 {
	switch s.Type {
	case SubmissionWin:
		if s.Amount == nil {
			return r.WinBasePoints
		}
		return r.WinPoints(*s.Amount)
	case SubmissionReferral:
		if s.ReferralType == nil {
			return 0
		}
		return r.ReferralPoints[*s.ReferralType]
	default:
		return 0
	}
}
