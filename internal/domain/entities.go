package domain

import "time"

// User описывает участника сообщества. ID совпадает с идентификатором пользователя в Telegram.
type User struct {
	ID               int64
	DisplayName      string
	TotalPoints      int64
	Tier             Tier
	IsScaler         bool
	ReferralCount    int
	LastActivityDate *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UserRef идентифицирует пользователя, которого нужно создать при первом обращении.
type UserRef struct {
	ID          int64
	DisplayName string
}

// DailyActivity хранит снимок активности пользователя за календарный день.
type DailyActivity struct {
	ID            int64
	UserID        int64
	ActivityDate  time.Time
	MessageCount  int
	PointsAwarded int64
	CreatedAt     time.Time
}

// ValuePost описывает сообщение, оцениваемое по реакциям.
type ValuePost struct {
	ID           int64
	UserID       int64
	MessageID    int64
	ChannelID    int64
	PostDate     time.Time
	FireCount    int
	GemCount     int
	HundredCount int
	IsPinned     bool
	TotalPoints  int64
	CreatedAt    time.Time
}

// Reactions возвращает счётчики реакций поста.
func (p ValuePost) Reactions() ReactionCounts {
	return ReactionCounts{Fire: p.FireCount, Gem: p.GemCount, Hundred: p.HundredCount}
}

// ReactionCounts содержит наблюдаемые количества трёх учитываемых реакций.
type ReactionCounts struct {
	Fire    int `json:"fire"`
	Gem     int `json:"gem"`
	Hundred int `json:"hundred"`
}

// SubmissionType описывает вид заявки.
type SubmissionType string

const (
	SubmissionWin               SubmissionType = "win"
	SubmissionReferral          SubmissionType = "referral"
	SubmissionScalerApplication SubmissionType = "scaler_application"
	SubmissionExpense           SubmissionType = "expense"
)

// Valid сообщает, известен ли тип заявки.
func (t SubmissionType) Valid() bool {
	switch t {
	case SubmissionWin, SubmissionReferral, SubmissionScalerApplication, SubmissionExpense:
		return true
	}
	return false
}

// ReferralType описывает площадку, на которую приглашён реферал.
type ReferralType string

const (
	ReferralWhop    ReferralType = "whop"
	ReferralDiscord ReferralType = "discord"
)

// SubmissionStatus описывает этап модерации заявки.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// Terminal сообщает, что статус окончательный.
func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionApproved || s == SubmissionRejected
}

// Submission описывает заявку участника на ручное начисление очков.
type Submission struct {
	ID            int64
	UserID        int64
	Type          SubmissionType
	Description   string
	ProofURL      *string
	Amount        *float64
	ReferralType  *ReferralType
	Status        SubmissionStatus
	PointsAwarded int64
	ReviewedBy    *int64
	ReviewedAt    *time.Time
	CreatedAt     time.Time
}

// ReferenceType задаёт сущность, породившую запись журнала.
type ReferenceType string

const (
	RefDailyActivity ReferenceType = "daily_activity"
	RefValuePost     ReferenceType = "value_post"
	RefSubmission    ReferenceType = "submission"
)

// Причины начисления, не совпадающие с типами заявок.
const (
	ReasonDailyActivity   = "daily_activity"
	ReasonValuePost       = "value_post"
	ReasonAdminAdjustment = "admin_adjustment"
)

// PointsEntry — неизменяемая запись журнала очков.
type PointsEntry struct {
	ID            int64
	UserID        int64
	PointsChange  int64
	Reason        string
	ReferenceID   *int64
	ReferenceType *ReferenceType
	Note          string
	CreatedAt     time.Time
}

// Delta описывает одно изменение баланса, которое нужно записать в журнал.
type Delta struct {
	User          UserRef
	PointsChange  int64
	Reason        string
	ReferenceID   *int64
	ReferenceType *ReferenceType
	Note          string
}

// RankedUser — строка таблицы лидеров.
type RankedUser struct {
	Rank int  `json:"rank"`
	User User `json:"user"`
}

// LedgerStats содержит агрегаты для ежедневного отчёта планировщика.
type LedgerStats struct {
	Users              int64
	PointsAwarded      int64
	PendingSubmissions int64
	ValuePosts         int64
}

// ReconcileResult описывает расхождение между кэшем баланса и журналом.
type ReconcileResult struct {
	UserID      int64
	CachedTotal int64
	LedgerTotal int64
	TierBefore  Tier
	TierAfter   Tier
}

// Drift возвращает величину исправления.
func (r ReconcileResult) Drift() int64 {
	return r.LedgerTotal - r.CachedTotal
}

// DayOf возвращает полночь UTC календарной даты t в её собственной зоне.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
