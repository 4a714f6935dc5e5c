package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"tg-points-bot/internal/domain"
)

// Memory хранит состояние в памяти процесса. Транзакции выполняются строго по одной
// над копией состояния и применяются целиком только при успешном завершении.
type Memory struct {
	mu        sync.Mutex
	state     *memState
	clock     func() time.Time
	lastTime  time.Time
	conflicts int
	txCount   int
}

var _ domain.PointsStore = (*Memory)(nil)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		state: newMemState(),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// InjectConflicts заставляет следующие n транзакций завершиться ErrTransientConflict на фиксации.
func (m *Memory) InjectConflicts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = n
}

// TxCount возвращает число начатых транзакций.
func (m *Memory) TxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCount
}

// History возвращает копию журнала в порядке записи.
func (m *Memory) History() []domain.PointsEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PointsEntry(nil), m.state.history...)
}

// Users возвращает всех пользователей.
func (m *Memory) Users() []domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.User, 0, len(m.state.users))
	for _, u := range m.state.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CorruptTotal подменяет кэш баланса в обход журнала.
func (m *Memory) CorruptTotal(userID, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.state.users[userID]; ok {
		u.TotalPoints = total
		m.state.users[userID] = u
	}
}

// now возвращает строго возрастающее время, чтобы порядок создания был однозначным.
func (m *Memory) now() time.Time {
	t := m.clock()
	if !t.After(m.lastTime) {
		t = m.lastTime.Add(time.Microsecond)
	}
	m.lastTime = t
	return t
}

// WithinTx выполняет fn над копией состояния. Журнал не копируется: транзакция видит
// зафиксированные записи и копит свои отдельно до фиксации.
func (m *Memory) WithinTx(ctx context.Context, fn func(tx domain.PointsTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++
	tx := &memTx{state: m.state.clone(), now: m.now}
	if err := fn(tx); err != nil {
		return err
	}
	if m.conflicts > 0 {
		m.conflicts--
		return domain.ErrTransientConflict
	}
	tx.state.history = append(m.state.history, tx.added...)
	m.state = tx.state
	return nil
}

func (m *Memory) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m *Memory) TopUsers(ctx context.Context, limit int) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := m.state.ranked()
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (m *Memory) UserRank(ctx context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, u := range m.state.ranked() {
		if u.ID == userID {
			return i + 1, nil
		}
	}
	return 0, domain.ErrNotFound
}

func (m *Memory) ListUserIDs(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.state.users))
	for id := range m.state.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) RecentHistory(ctx context.Context, userID int64, limit int) ([]domain.PointsEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PointsEntry
	for i := len(m.state.history) - 1; i >= 0; i-- {
		e := m.state.history[i]
		if e.UserID != userID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) SumByReason(ctx context.Context, userID int64, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.state.history {
		if e.UserID == userID && e.Reason == reason {
			sum += e.PointsChange
		}
	}
	return sum, nil
}

func (m *Memory) GetSubmission(ctx context.Context, id int64) (domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.submissions[id]
	if !ok {
		return domain.Submission{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListPendingSubmissions(ctx context.Context, limit int) ([]domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Submission
	for _, s := range m.state.submissions {
		if s.Status == domain.SubmissionPending {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetValuePost(ctx context.Context, messageID int64) (domain.ValuePost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.state.postByMessage(messageID); ok {
		return p, nil
	}
	return domain.ValuePost{}, domain.ErrNotFound
}

func (m *Memory) ListValuePostsSince(ctx context.Context, since time.Time) ([]domain.ValuePost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ValuePost
	for _, p := range m.state.posts {
		if !p.PostDate.Before(since) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetDailyActivity(ctx context.Context, userID int64, date time.Time) (domain.DailyActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.state.activityFor(userID, date); ok {
		return a, nil
	}
	return domain.DailyActivity{}, domain.ErrNotFound
}

func (m *Memory) PurgeDailyActivityBefore(ctx context.Context, date time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, a := range m.state.activity {
		if a.ActivityDate.Before(date) {
			delete(m.state.activity, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Stats(ctx context.Context) (domain.LedgerStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := domain.LedgerStats{
		Users:      int64(len(m.state.users)),
		ValuePosts: int64(len(m.state.posts)),
	}
	for _, u := range m.state.users {
		stats.PointsAwarded += u.TotalPoints
	}
	for _, s := range m.state.submissions {
		if s.Status == domain.SubmissionPending {
			stats.PendingSubmissions++
		}
	}
	return stats, nil
}

type memState struct {
	seq         int64
	users       map[int64]domain.User
	history     []domain.PointsEntry
	activity    map[int64]domain.DailyActivity
	posts       map[int64]domain.ValuePost
	submissions map[int64]domain.Submission
}

func newMemState() *memState {
	return &memState{
		users:       make(map[int64]domain.User),
		activity:    make(map[int64]domain.DailyActivity),
		posts:       make(map[int64]domain.ValuePost),
		submissions: make(map[int64]domain.Submission),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		seq:         s.seq,
		users:       make(map[int64]domain.User, len(s.users)),
		history:     s.history,
		activity:    make(map[int64]domain.DailyActivity, len(s.activity)),
		posts:       make(map[int64]domain.ValuePost, len(s.posts)),
		submissions: make(map[int64]domain.Submission, len(s.submissions)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.activity {
		c.activity[k] = v
	}
	for k, v := range s.posts {
		c.posts[k] = v
	}
	for k, v := range s.submissions {
		c.submissions[k] = v
	}
	return c
}

func (s *memState) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *memState) ranked() []domain.User {
	users := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		a, b := users[i], users[j]
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return users
}

func (s *memState) postByMessage(messageID int64) (domain.ValuePost, bool) {
	for _, p := range s.posts {
		if p.MessageID == messageID {
			return p, true
		}
	}
	return domain.ValuePost{}, false
}

func (s *memState) activityFor(userID int64, date time.Time) (domain.DailyActivity, bool) {
	day := domain.DayOf(date)
	for _, a := range s.activity {
		if a.UserID == userID && a.ActivityDate.Equal(day) {
			return a, true
		}
	}
	return domain.DailyActivity{}, false
}

type memTx struct {
	state *memState
	// added — записи журнала этой транзакции, state.history только читается.
	added []domain.PointsEntry
	now   func() time.Time
}

func (t *memTx) user(userID int64) (domain.User, error) {
	u, ok := t.state.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (t *memTx) EnsureUser(ctx context.Context, ref domain.UserRef) error {
	if u, ok := t.state.users[ref.ID]; ok {
		if ref.DisplayName != "" && u.DisplayName != ref.DisplayName {
			u.DisplayName = ref.DisplayName
			t.state.users[ref.ID] = u
		}
		return nil
	}
	now := t.now()
	t.state.users[ref.ID] = domain.User{
		ID:          ref.ID,
		DisplayName: ref.DisplayName,
		Tier:        domain.TierObserver,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

func (t *memTx) LockUser(ctx context.Context, userID int64) (domain.User, error) {
	return t.user(userID)
}

func (t *memTx) AddUserPoints(ctx context.Context, userID, delta int64) (int64, error) {
	u, err := t.user(userID)
	if err != nil {
		return 0, err
	}
	u.TotalPoints += delta
	u.UpdatedAt = t.now()
	t.state.users[userID] = u
	return u.TotalPoints, nil
}

func (t *memTx) SetUserTotal(ctx context.Context, userID, total int64) error {
	u, err := t.user(userID)
	if err != nil {
		return err
	}
	u.TotalPoints = total
	u.UpdatedAt = t.now()
	t.state.users[userID] = u
	return nil
}

func (t *memTx) SetUserTier(ctx context.Context, userID int64, tier domain.Tier) error {
	u, err := t.user(userID)
	if err != nil {
		return err
	}
	u.Tier = tier
	t.state.users[userID] = u
	return nil
}

func (t *memTx) SetLastActivity(ctx context.Context, userID int64, date time.Time) error {
	u, err := t.user(userID)
	if err != nil {
		return err
	}
	day := domain.DayOf(date)
	if u.LastActivityDate == nil || day.After(*u.LastActivityDate) {
		u.LastActivityDate = &day
	}
	t.state.users[userID] = u
	return nil
}

func (t *memTx) IncrementReferralCount(ctx context.Context, userID int64) error {
	u, err := t.user(userID)
	if err != nil {
		return err
	}
	u.ReferralCount++
	t.state.users[userID] = u
	return nil
}

func (t *memTx) SetScaler(ctx context.Context, userID int64, scaler bool) error {
	u, err := t.user(userID)
	if err != nil {
		return err
	}
	u.IsScaler = scaler
	t.state.users[userID] = u
	return nil
}

func (t *memTx) InsertHistory(ctx context.Context, entry domain.PointsEntry) (int64, error) {
	if _, err := t.user(entry.UserID); err != nil {
		return 0, err
	}
	entry.ID = t.state.nextID()
	entry.CreatedAt = t.now()
	t.added = append(t.added, entry)
	return entry.ID, nil
}

func (t *memTx) SumHistory(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	for _, entries := range [][]domain.PointsEntry{t.state.history, t.added} {
		for _, e := range entries {
			if e.UserID == userID {
				sum += e.PointsChange
			}
		}
	}
	return sum, nil
}

func (t *memTx) UpsertDailyActivity(ctx context.Context, userID int64, date time.Time) (domain.DailyActivity, error) {
	if _, err := t.user(userID); err != nil {
		return domain.DailyActivity{}, err
	}
	if a, ok := t.state.activityFor(userID, date); ok {
		return a, nil
	}
	a := domain.DailyActivity{
		ID:           t.state.nextID(),
		UserID:       userID,
		ActivityDate: domain.DayOf(date),
		CreatedAt:    t.now(),
	}
	t.state.activity[a.ID] = a
	return a, nil
}

func (t *memTx) UpdateDailyActivity(ctx context.Context, id int64, messageCount int, pointsAwarded int64) error {
	a, ok := t.state.activity[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.MessageCount = messageCount
	a.PointsAwarded = pointsAwarded
	t.state.activity[id] = a
	return nil
}

func (t *memTx) LockValuePost(ctx context.Context, messageID int64) (domain.ValuePost, error) {
	if p, ok := t.state.postByMessage(messageID); ok {
		return p, nil
	}
	return domain.ValuePost{}, domain.ErrNotFound
}

func (t *memTx) InsertValuePost(ctx context.Context, post domain.ValuePost) (domain.ValuePost, error) {
	if _, ok := t.state.postByMessage(post.MessageID); ok {
		return domain.ValuePost{}, domain.ErrTransientConflict
	}
	if _, err := t.user(post.UserID); err != nil {
		return domain.ValuePost{}, err
	}
	post.ID = t.state.nextID()
	post.PostDate = domain.DayOf(post.PostDate)
	post.CreatedAt = t.now()
	t.state.posts[post.ID] = post
	return post, nil
}

func (t *memTx) UpdateValuePost(ctx context.Context, post domain.ValuePost) error {
	if _, ok := t.state.posts[post.ID]; !ok {
		return domain.ErrNotFound
	}
	t.state.posts[post.ID] = post
	return nil
}

func (t *memTx) DeleteValuePost(ctx context.Context, id int64) error {
	if _, ok := t.state.posts[id]; !ok {
		return domain.ErrNotFound
	}
	delete(t.state.posts, id)
	return nil
}

func (t *memTx) CountValuePostsOn(ctx context.Context, userID int64, date time.Time) (int, error) {
	day := domain.DayOf(date)
	count := 0
	for _, p := range t.state.posts {
		if p.UserID == userID && p.PostDate.Equal(day) {
			count++
		}
	}
	return count, nil
}

func (t *memTx) InsertSubmission(ctx context.Context, s domain.Submission) (domain.Submission, error) {
	if _, err := t.user(s.UserID); err != nil {
		return domain.Submission{}, err
	}
	s.ID = t.state.nextID()
	s.CreatedAt = t.now()
	if s.Status == "" {
		s.Status = domain.SubmissionPending
	}
	t.state.submissions[s.ID] = s
	return s, nil
}

func (t *memTx) LockSubmission(ctx context.Context, id int64) (domain.Submission, error) {
	s, ok := t.state.submissions[id]
	if !ok {
		return domain.Submission{}, domain.ErrNotFound
	}
	return s, nil
}

func (t *memTx) UpdateSubmissionReview(ctx context.Context, s domain.Submission) error {
	if _, ok := t.state.submissions[s.ID]; !ok {
		return domain.ErrNotFound
	}
	t.state.submissions[s.ID] = s
	return nil
}

func (t *memTx) CountActiveSubmissions(ctx context.Context, userID int64, st domain.SubmissionType) (int, error) {
	count := 0
	for _, s := range t.state.submissions {
		if s.UserID == userID && s.Type == st && s.Status != domain.SubmissionRejected {
			count++
		}
	}
	return count, nil
}
