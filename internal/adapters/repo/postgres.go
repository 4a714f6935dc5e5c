package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/infra/metrics"
)

// Коды ошибок Postgres, после которых операцию можно повторить целиком.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// Postgres реализует хранилище очков на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.PointsStore = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// mapError переводит ошибки драйвера в ошибки домена.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgUniqueViolation:
			return fmt.Errorf("%w: %s (%s)", domain.ErrTransientConflict, pgErr.Message, pgErr.Code)
		}
	}
	return err
}

// WithinTx выполняет fn в сериализуемой транзакции.
func (p *Postgres) WithinTx(ctx context.Context, fn func(tx domain.PointsTx) error) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "points", start, err)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapError(err)
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "points", start, err)
	return mapError(err)
}

const userColumns = `id, display_name, total_points, tier, is_scaler, referral_count, last_activity_date, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		user         domain.User
		lastActivity sql.NullTime
	)
	err := row.Scan(&user.ID, &user.DisplayName, &user.TotalPoints, &user.Tier, &user.IsScaler, &user.ReferralCount, &lastActivity, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return domain.User{}, err
	}
	if lastActivity.Valid {
		ts := lastActivity.Time
		user.LastActivityDate = &ts
	}
	return user, nil
}

func (p *Postgres) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	user, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if err != nil {
		return domain.User{}, mapError(err)
	}
	return user, nil
}

func (p *Postgres) TopUsers(ctx context.Context, limit int) ([]domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+userColumns+`
FROM users
ORDER BY total_points DESC, created_at ASC, id ASC
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "users_top", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *Postgres) UserRank(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var rank int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT rank FROM (
    SELECT id, ROW_NUMBER() OVER (ORDER BY total_points DESC, created_at ASC, id ASC) AS rank
    FROM users
) ranked
WHERE id=$1
`, userID).Scan(&rank)
	metrics.ObserveNetworkRequest("postgres", "users_rank", "users", start, err)
	if err != nil {
		return 0, mapError(err)
	}
	return rank, nil
}

func (p *Postgres) ListUserIDs(ctx context.Context) ([]int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id FROM users ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "users_list_ids", "users", start, err)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

const historyColumns = `id, user_id, points_change, reason, reference_id, reference_type, note, created_at`

func scanEntry(row pgx.Row) (domain.PointsEntry, error) {
	var (
		e       domain.PointsEntry
		refID   sql.NullInt64
		refType sql.NullString
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.PointsChange, &e.Reason, &refID, &refType, &e.Note, &e.CreatedAt); err != nil {
		return domain.PointsEntry{}, err
	}
	if refID.Valid {
		id := refID.Int64
		e.ReferenceID = &id
	}
	if refType.Valid {
		rt := domain.ReferenceType(refType.String)
		e.ReferenceType = &rt
	}
	return e, nil
}

func (p *Postgres) RecentHistory(ctx context.Context, userID int64, limit int) ([]domain.PointsEntry, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+historyColumns+`
FROM points_history
WHERE user_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", "history_recent", "points_history", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.PointsEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) SumByReason(ctx context.Context, userID int64, reason string) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var sum int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT COALESCE(SUM(points_change), 0) FROM points_history WHERE user_id=$1 AND reason=$2`, userID, reason).Scan(&sum)
	metrics.ObserveNetworkRequest("postgres", "history_sum_reason", "points_history", start, err)
	return sum, err
}

const submissionColumns = `id, user_id, type, description, proof_url, amount, referral_type, status, points_awarded, reviewed_by, reviewed_at, created_at`

func scanSubmission(row pgx.Row) (domain.Submission, error) {
	var (
		s            domain.Submission
		proofURL     sql.NullString
		referralType sql.NullString
		reviewedBy   sql.NullInt64
		reviewedAt   sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Type, &s.Description, &proofURL, &s.Amount, &referralType, &s.Status, &s.PointsAwarded, &reviewedBy, &reviewedAt, &s.CreatedAt)
	if err != nil {
		return domain.Submission{}, err
	}
	if proofURL.Valid {
		v := proofURL.String
		s.ProofURL = &v
	}
	if referralType.Valid {
		v := domain.ReferralType(referralType.String)
		s.ReferralType = &v
	}
	if reviewedBy.Valid {
		v := reviewedBy.Int64
		s.ReviewedBy = &v
	}
	if reviewedAt.Valid {
		v := reviewedAt.Time
		s.ReviewedAt = &v
	}
	return s, nil
}

func (p *Postgres) GetSubmission(ctx context.Context, id int64) (domain.Submission, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	s, err := scanSubmission(p.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "submissions_get", "submissions", start, err)
	if err != nil {
		return domain.Submission{}, mapError(err)
	}
	return s, nil
}

func (p *Postgres) ListPendingSubmissions(ctx context.Context, limit int) ([]domain.Submission, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+submissionColumns+`
FROM submissions
WHERE status='pending'
ORDER BY created_at ASC, id ASC
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "submissions_pending", "submissions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

const postColumns = `id, user_id, message_id, channel_id, post_date, fire_count, gem_count, hundred_count, is_pinned, total_points, created_at`

func scanPost(row pgx.Row) (domain.ValuePost, error) {
	var post domain.ValuePost
	err := row.Scan(&post.ID, &post.UserID, &post.MessageID, &post.ChannelID, &post.PostDate, &post.FireCount, &post.GemCount, &post.HundredCount, &post.IsPinned, &post.TotalPoints, &post.CreatedAt)
	return post, err
}

func (p *Postgres) GetValuePost(ctx context.Context, messageID int64) (domain.ValuePost, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	post, err := scanPost(p.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM value_posts WHERE message_id=$1`, messageID))
	metrics.ObserveNetworkRequest("postgres", "value_posts_get", "value_posts", start, err)
	if err != nil {
		return domain.ValuePost{}, mapError(err)
	}
	return post, nil
}

func (p *Postgres) ListValuePostsSince(ctx context.Context, since time.Time) ([]domain.ValuePost, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+postColumns+` FROM value_posts WHERE post_date >= $1 ORDER BY id`, since)
	metrics.ObserveNetworkRequest("postgres", "value_posts_since", "value_posts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var posts []domain.ValuePost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

const activityColumns = `id, user_id, activity_date, message_count, points_awarded, created_at`

func scanActivity(row pgx.Row) (domain.DailyActivity, error) {
	var a domain.DailyActivity
	err := row.Scan(&a.ID, &a.UserID, &a.ActivityDate, &a.MessageCount, &a.PointsAwarded, &a.CreatedAt)
	return a, err
}

func (p *Postgres) GetDailyActivity(ctx context.Context, userID int64, date time.Time) (domain.DailyActivity, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	a, err := scanActivity(p.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM daily_activity WHERE user_id=$1 AND activity_date=$2`, userID, date))
	metrics.ObserveNetworkRequest("postgres", "daily_activity_get", "daily_activity", start, err)
	if err != nil {
		return domain.DailyActivity{}, mapError(err)
	}
	return a, nil
}

func (p *Postgres) PurgeDailyActivityBefore(ctx context.Context, date time.Time) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM daily_activity WHERE activity_date < $1`, date)
	metrics.ObserveNetworkRequest("postgres", "daily_activity_purge", "daily_activity", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Stats(ctx context.Context) (domain.LedgerStats, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var stats domain.LedgerStats
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT
    (SELECT COUNT(*) FROM users),
    (SELECT COALESCE(SUM(total_points), 0) FROM users),
    (SELECT COUNT(*) FROM submissions WHERE status='pending'),
    (SELECT COUNT(*) FROM value_posts)
`).Scan(&stats.Users, &stats.PointsAwarded, &stats.PendingSubmissions, &stats.ValuePosts)
	metrics.ObserveNetworkRequest("postgres", "stats", "points", start, err)
	return stats, err
}
