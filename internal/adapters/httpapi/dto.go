package httpapi

import (
	"time"

	"tg-points-bot/internal/domain"
	"tg-points-bot/internal/usecase/leaderboard"
)

const dateLayout = "2006-01-02"

type userResponse struct {
	ID               int64     `json:"id"`
	DisplayName      string    `json:"display_name"`
	TotalPoints      int64     `json:"total_points"`
	Tier             string    `json:"tier"`
	IsScaler         bool      `json:"is_scaler"`
	ReferralCount    int       `json:"referral_count"`
	LastActivityDate *string   `json:"last_activity_date,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func toUser(u domain.User) userResponse {
	resp := userResponse{
		ID:            u.ID,
		DisplayName:   u.DisplayName,
		TotalPoints:   u.TotalPoints,
		Tier:          string(u.Tier),
		IsScaler:      u.IsScaler,
		ReferralCount: u.ReferralCount,
		CreatedAt:     u.CreatedAt,
	}
	if u.LastActivityDate != nil {
		day := u.LastActivityDate.Format(dateLayout)
		resp.LastActivityDate = &day
	}
	return resp
}

type rankedResponse struct {
	Rank int          `json:"rank"`
	User userResponse `json:"user"`
}

func toRanked(entries []domain.RankedUser) []rankedResponse {
	out := make([]rankedResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, rankedResponse{Rank: e.Rank, User: toUser(e.User)})
	}
	return out
}

type leaderboardResponse struct {
	GeneratedAt *time.Time       `json:"generated_at,omitempty"`
	Entries     []rankedResponse `json:"entries"`
}

func toSnapshot(snap leaderboard.Snapshot) leaderboardResponse {
	generated := snap.GeneratedAt
	return leaderboardResponse{GeneratedAt: &generated, Entries: toRanked(snap.Entries)}
}

type tierResponse struct {
	Tier      string `json:"tier"`
	MinPoints int64  `json:"min_points"`
	RoleName  string `json:"role_name,omitempty"`
}

func toTier(level domain.TierLevel) tierResponse {
	return tierResponse{Tier: string(level.Tier), MinPoints: level.MinPoints, RoleName: level.RoleName}
}

type progressResponse struct {
	Current      tierResponse  `json:"current"`
	Next         *tierResponse `json:"next,omitempty"`
	PointsNeeded int64         `json:"points_needed"`
}

type profileResponse struct {
	User     userResponse     `json:"user"`
	Rank     int              `json:"rank"`
	Progress progressResponse `json:"progress"`
}

func toProfile(ranked domain.RankedUser, progress domain.TierProgress) profileResponse {
	resp := profileResponse{
		User: toUser(ranked.User),
		Rank: ranked.Rank,
		Progress: progressResponse{
			Current:      toTier(progress.Current),
			PointsNeeded: progress.PointsNeeded,
		},
	}
	if progress.Next != nil {
		next := toTier(*progress.Next)
		resp.Progress.Next = &next
	}
	return resp
}

type entryResponse struct {
	ID            int64     `json:"id"`
	PointsChange  int64     `json:"points_change"`
	Reason        string    `json:"reason"`
	ReferenceID   *int64    `json:"reference_id,omitempty"`
	ReferenceType *string   `json:"reference_type,omitempty"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toEntries(entries []domain.PointsEntry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp := entryResponse{
			ID:           e.ID,
			PointsChange: e.PointsChange,
			Reason:       e.Reason,
			ReferenceID:  e.ReferenceID,
			Note:         e.Note,
			CreatedAt:    e.CreatedAt,
		}
		if e.ReferenceType != nil {
			ref := string(*e.ReferenceType)
			resp.ReferenceType = &ref
		}
		out = append(out, resp)
	}
	return out
}

type activityRequest struct {
	UserID       int64  `json:"user_id"`
	DisplayName  string `json:"display_name"`
	Date         string `json:"date"`
	MessageCount int    `json:"message_count"`
}

type activityResponse struct {
	UserID        int64  `json:"user_id"`
	Date          string `json:"date"`
	MessageCount  int    `json:"message_count"`
	PointsAwarded int64  `json:"points_awarded"`
	Delta         int64  `json:"delta"`
	TotalPoints   int64  `json:"total_points"`
	Tier          string `json:"tier"`
}

type valuePostRequest struct {
	MessageID   int64                  `json:"message_id"`
	ChannelID   int64                  `json:"channel_id"`
	UserID      int64                  `json:"user_id"`
	DisplayName string                 `json:"display_name"`
	PostedAt    *time.Time             `json:"posted_at"`
	Reactions   *domain.ReactionCounts `json:"reactions"`
	Pinned      *bool                  `json:"pinned"`
}

type valuePostResponse struct {
	MessageID   int64                 `json:"message_id"`
	ChannelID   int64                 `json:"channel_id"`
	UserID      int64                 `json:"user_id"`
	PostDate    string                `json:"post_date"`
	Reactions   domain.ReactionCounts `json:"reactions"`
	IsPinned    bool                  `json:"is_pinned"`
	TotalPoints int64                 `json:"total_points"`
	Delta       int64                 `json:"delta"`
	Created     bool                  `json:"created"`
}

type submissionRequest struct {
	UserID       int64    `json:"user_id"`
	DisplayName  string   `json:"display_name"`
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	ProofURL     string   `json:"proof_url"`
	Amount       *float64 `json:"amount"`
	ReferralType string   `json:"referral_type"`
}

type submissionResponse struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	Type            string     `json:"type"`
	Description     string     `json:"description"`
	ProofURL        *string    `json:"proof_url,omitempty"`
	Amount          *float64   `json:"amount,omitempty"`
	ReferralType    *string    `json:"referral_type,omitempty"`
	Status          string     `json:"status"`
	PointsAwarded   int64      `json:"points_awarded"`
	SuggestedPoints int64      `json:"suggested_points"`
	ReviewedBy      *int64     `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type reviewRequest struct {
	ReviewerID int64  `json:"reviewer_id"`
	Points     *int64 `json:"points"`
}
