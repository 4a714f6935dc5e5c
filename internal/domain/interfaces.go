package domain

import (
	"context"
	"time"
)

// PointsStore хранит пользователей, журнал очков и порождающие его сущности.
type PointsStore interface {
	// WithinTx выполняет fn в сериализуемой транзакции. Конфликты параллельной записи
	// возвращаются как ErrTransientConflict, откат выполняется при любой ошибке fn.
	WithinTx(ctx context.Context, fn func(tx PointsTx) error) error

	GetUser(ctx context.Context, userID int64) (User, error)
	// TopUsers упорядочивает по total_points по убыванию, затем по created_at и id по возрастанию.
	TopUsers(ctx context.Context, limit int) ([]User, error)
	// UserRank возвращает место пользователя в том же порядке, что и TopUsers.
	UserRank(ctx context.Context, userID int64) (int, error)
	ListUserIDs(ctx context.Context) ([]int64, error)

	RecentHistory(ctx context.Context, userID int64, limit int) ([]PointsEntry, error)
	SumByReason(ctx context.Context, userID int64, reason string) (int64, error)

	GetSubmission(ctx context.Context, id int64) (Submission, error)
	ListPendingSubmissions(ctx context.Context, limit int) ([]Submission, error)

	GetValuePost(ctx context.Context, messageID int64) (ValuePost, error)
	ListValuePostsSince(ctx context.Context, since time.Time) ([]ValuePost, error)

	GetDailyActivity(ctx context.Context, userID int64, date time.Time) (DailyActivity, error)
	// PurgeDailyActivityBefore удаляет дневную активность старше указанной даты.
	PurgeDailyActivityBefore(ctx context.Context, date time.Time) (int64, error)

	Stats(ctx context.Context) (LedgerStats, error)
}

// PointsTx — операции, доступные внутри транзакции PointsStore.
type PointsTx interface {
	// EnsureUser создаёт пользователя с нулевым балансом, если его ещё нет.
	EnsureUser(ctx context.Context, ref UserRef) error
	// LockUser блокирует строку пользователя до конца транзакции.
	LockUser(ctx context.Context, userID int64) (User, error)
	// AddUserPoints увеличивает total_points и возвращает новое значение.
	AddUserPoints(ctx context.Context, userID, delta int64) (int64, error)
	SetUserTotal(ctx context.Context, userID, total int64) error
	SetUserTier(ctx context.Context, userID int64, tier Tier) error
	SetLastActivity(ctx context.Context, userID int64, date time.Time) error
	IncrementReferralCount(ctx context.Context, userID int64) error
	SetScaler(ctx context.Context, userID int64, scaler bool) error

	InsertHistory(ctx context.Context, entry PointsEntry) (int64, error)
	SumHistory(ctx context.Context, userID int64) (int64, error)

	// UpsertDailyActivity возвращает заблокированную строку (user, date), создавая её с нулями.
	UpsertDailyActivity(ctx context.Context, userID int64, date time.Time) (DailyActivity, error)
	UpdateDailyActivity(ctx context.Context, id int64, messageCount int, pointsAwarded int64) error

	// LockValuePost возвращает ErrNotFound, если пост ещё не зарегистрирован.
	LockValuePost(ctx context.Context, messageID int64) (ValuePost, error)
	InsertValuePost(ctx context.Context, post ValuePost) (ValuePost, error)
	UpdateValuePost(ctx context.Context, post ValuePost) error
	DeleteValuePost(ctx context.Context, id int64) error
	CountValuePostsOn(ctx context.Context, userID int64, date time.Time) (int, error)

	InsertSubmission(ctx context.Context, s Submission) (Submission, error)
	// LockSubmission читает заявку с блокировкой строки.
	LockSubmission(ctx context.Context, id int64) (Submission, error)
	UpdateSubmissionReview(ctx context.Context, s Submission) error
	// CountActiveSubmissions считает заявки типа, кроме отклонённых.
	CountActiveSubmissions(ctx context.Context, userID int64, t SubmissionType) (int, error)
}

// Cache используется для простых TTL-хранилищ и счётчиков.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	// Get возвращает ErrNotFound при отсутствии ключа.
	Get(key string) ([]byte, error)
	// Incr увеличивает счётчик и продлевает его TTL.
	Incr(key string, ttl time.Duration) (int64, error)
}
