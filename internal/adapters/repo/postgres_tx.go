package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/infra/metrics"
)

// pgTx выполняет операции внутри одной транзакции pgx.
type pgTx struct {
	tx pgx.Tx
}

var _ domain.PointsTx = (*pgTx)(nil)

// exec выполняет запрос, который должен затронуть ровно одну строку.
func (t *pgTx) exec(ctx context.Context, op, table, sql string, args ...any) error {
	start := time.Now()
	tag, err := t.tx.Exec(ctx, sql, args...)
	metrics.ObserveNetworkRequest("postgres", op, table, start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) EnsureUser(ctx context.Context, ref domain.UserRef) error {
	start := time.Now()
	_, err := t.tx.Exec(ctx, `
INSERT INTO users (id, display_name)
VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE
SET display_name = EXCLUDED.display_name, updated_at = now()
WHERE EXCLUDED.display_name <> '' AND users.display_name <> EXCLUDED.display_name
`, ref.ID, ref.DisplayName)
	metrics.ObserveNetworkRequest("postgres", "users_ensure", "users", start, err)
	return err
}

func (t *pgTx) LockUser(ctx context.Context, userID int64) (domain.User, error) {
	start := time.Now()
	user, err := scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1 FOR UPDATE`, userID))
	metrics.ObserveNetworkRequest("postgres", "users_lock", "users", start, err)
	if err != nil {
		return domain.User{}, mapError(err)
	}
	return user, nil
}

func (t *pgTx) AddUserPoints(ctx context.Context, userID, delta int64) (int64, error) {
	var total int64
	start := time.Now()
	err := t.tx.QueryRow(ctx, `
UPDATE users
SET total_points = total_points + $2, updated_at = now()
WHERE id=$1
RETURNING total_points
`, userID, delta).Scan(&total)
	metrics.ObserveNetworkRequest("postgres", "users_add_points", "users", start, err)
	if err != nil {
		return 0, mapError(err)
	}
	return total, nil
}

func (t *pgTx) SetUserTotal(ctx context.Context, userID, total int64) error {
	return t.exec(ctx, "users_set_total", "users",
		`UPDATE users SET total_points=$2, updated_at=now() WHERE id=$1`, userID, total)
}

func (t *pgTx) SetUserTier(ctx context.Context, userID int64, tier domain.Tier) error {
	return t.exec(ctx, "users_set_tier", "users",
		`UPDATE users SET tier=$2, updated_at=now() WHERE id=$1`, userID, string(tier))
}

func (t *pgTx) SetLastActivity(ctx context.Context, userID int64, date time.Time) error {
	return t.exec(ctx, "users_last_activity", "users", `
UPDATE users
SET last_activity_date = GREATEST(COALESCE(last_activity_date, $2::date), $2::date)
WHERE id=$1
`, userID, domain.DayOf(date))
}

func (t *pgTx) IncrementReferralCount(ctx context.Context, userID int64) error {
	return t.exec(ctx, "users_referral_inc", "users",
		`UPDATE users SET referral_count = referral_count + 1, updated_at=now() WHERE id=$1`, userID)
}

func (t *pgTx) SetScaler(ctx context.Context, userID int64, scaler bool) error {
	return t.exec(ctx, "users_set_scaler", "users",
		`UPDATE users SET is_scaler=$2, updated_at=now() WHERE id=$1`, userID, scaler)
}

func (t *pgTx) InsertHistory(ctx context.Context, entry domain.PointsEntry) (int64, error) {
	var refType *string
	if entry.ReferenceType != nil {
		v := string(*entry.ReferenceType)
		refType = &v
	}
	var id int64
	start := time.Now()
	err := t.tx.QueryRow(ctx, `
INSERT INTO points_history (user_id, points_change, reason, reference_id, reference_type, note)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`, entry.UserID, entry.PointsChange, entry.Reason, entry.ReferenceID, refType, entry.Note).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "history_insert", "points_history", start, err)
	return id, err
}

func (t *pgTx) SumHistory(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	start := time.Now()
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(points_change), 0) FROM points_history WHERE user_id=$1`, userID).Scan(&sum)
	metrics.ObserveNetworkRequest("postgres", "history_sum", "points_history", start, err)
	return sum, err
}

func (t *pgTx) UpsertDailyActivity(ctx context.Context, userID int64, date time.Time) (domain.DailyActivity, error) {
	start := time.Now()
	// DO UPDATE вместо DO NOTHING: так RETURNING отдаёт существующую строку и блокирует её.
	a, err := scanActivity(t.tx.QueryRow(ctx, `
INSERT INTO daily_activity (user_id, activity_date)
VALUES ($1, $2)
ON CONFLICT (user_id, activity_date) DO UPDATE SET user_id = EXCLUDED.user_id
RETURNING `+activityColumns, userID, domain.DayOf(date)))
	metrics.ObserveNetworkRequest("postgres", "daily_activity_upsert", "daily_activity", start, err)
	if err != nil {
		return domain.DailyActivity{}, mapError(err)
	}
	return a, nil
}

func (t *pgTx) UpdateDailyActivity(ctx context.Context, id int64, messageCount int, pointsAwarded int64) error {
	return t.exec(ctx, "daily_activity_update", "daily_activity",
		`UPDATE daily_activity SET message_count=$2, points_awarded=$3 WHERE id=$1`, id, messageCount, pointsAwarded)
}

func (t *pgTx) LockValuePost(ctx context.Context, messageID int64) (domain.ValuePost, error) {
	start := time.Now()
	post, err := scanPost(t.tx.QueryRow(ctx, `SELECT `+postColumns+` FROM value_posts WHERE message_id=$1 FOR UPDATE`, messageID))
	metrics.ObserveNetworkRequest("postgres", "value_posts_lock", "value_posts", start, err)
	if err != nil {
		return domain.ValuePost{}, mapError(err)
	}
	return post, nil
}

func (t *pgTx) InsertValuePost(ctx context.Context, post domain.ValuePost) (domain.ValuePost, error) {
	start := time.Now()
	created, err := scanPost(t.tx.QueryRow(ctx, `
INSERT INTO value_posts (user_id, message_id, channel_id, post_date, fire_count, gem_count, hundred_count, is_pinned, total_points)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+postColumns,
		post.UserID, post.MessageID, post.ChannelID, domain.DayOf(post.PostDate),
		post.FireCount, post.GemCount, post.HundredCount, post.IsPinned, post.TotalPoints))
	metrics.ObserveNetworkRequest("postgres", "value_posts_insert", "value_posts", start, err)
	if err != nil {
		return domain.ValuePost{}, mapError(err)
	}
	return created, nil
}

func (t *pgTx) UpdateValuePost(ctx context.Context, post domain.ValuePost) error {
	return t.exec(ctx, "value_posts_update", "value_posts", `
UPDATE value_posts
SET user_id=$2, fire_count=$3, gem_count=$4, hundred_count=$5, is_pinned=$6, total_points=$7
WHERE id=$1
`, post.ID, post.UserID, post.FireCount, post.GemCount, post.HundredCount, post.IsPinned, post.TotalPoints)
}

func (t *pgTx) DeleteValuePost(ctx context.Context, id int64) error {
	return t.exec(ctx, "value_posts_delete", "value_posts", `DELETE FROM value_posts WHERE id=$1`, id)
}

func (t *pgTx) CountValuePostsOn(ctx context.Context, userID int64, date time.Time) (int, error) {
	var n int
	start := time.Now()
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM value_posts WHERE user_id=$1 AND post_date=$2`, userID, domain.DayOf(date)).Scan(&n)
	metrics.ObserveNetworkRequest("postgres", "value_posts_count_day", "value_posts", start, err)
	return n, err
}

func (t *pgTx) InsertSubmission(ctx context.Context, s domain.Submission) (domain.Submission, error) {
	var referralType *string
	if s.ReferralType != nil {
		v := string(*s.ReferralType)
		referralType = &v
	}
	status := s.Status
	if status == "" {
		status = domain.SubmissionPending
	}
	start := time.Now()
	created, err := scanSubmission(t.tx.QueryRow(ctx, `
INSERT INTO submissions (user_id, type, description, proof_url, amount, referral_type, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+submissionColumns,
		s.UserID, string(s.Type), s.Description, s.ProofURL, s.Amount, referralType, string(status)))
	metrics.ObserveNetworkRequest("postgres", "submissions_insert", "submissions", start, err)
	if err != nil {
		return domain.Submission{}, mapError(err)
	}
	return created, nil
}

func (t *pgTx) LockSubmission(ctx context.Context, id int64) (domain.Submission, error) {
	start := time.Now()
	s, err := scanSubmission(t.tx.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=$1 FOR UPDATE`, id))
	metrics.ObserveNetworkRequest("postgres", "submissions_lock", "submissions", start, err)
	if err != nil {
		return domain.Submission{}, mapError(err)
	}
	return s, nil
}

func (t *pgTx) UpdateSubmissionReview(ctx context.Context, s domain.Submission) error {
	return t.exec(ctx, "submissions_review", "submissions", `
UPDATE submissions
SET status=$2, points_awarded=$3, reviewed_by=$4, reviewed_at=$5
WHERE id=$1
`, s.ID, string(s.Status), s.PointsAwarded, s.ReviewedBy, s.ReviewedAt)
}

func (t *pgTx) CountActiveSubmissions(ctx context.Context, userID int64, st domain.SubmissionType) (int, error) {
	var n int
	start := time.Now()
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM submissions WHERE user_id=$1 AND type=$2 AND status <> 'rejected'`, userID, string(st)).Scan(&n)
	metrics.ObserveNetworkRequest("postgres", "submissions_count_active", "submissions", start, err)
	return n, err
}
