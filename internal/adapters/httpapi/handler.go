// Package httpapi отдаёт журнал очков по HTTP для внешних интеграций и панели модераторов.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tg-points-bot/internal/domain"
	httpinfra "tg-points-bot/internal/infra/http"
	"tg-points-bot/internal/usecase/leaderboard"
	"tg-points-bot/internal/usecase/points"
)

const (
	defaultLeaderboardLimit = 10
	maxBodyBytes            = 1 << 20
)

// Handler обслуживает /api/v1.
type Handler struct {
	points *points.Service
	boards *leaderboard.Service
	log    zerolog.Logger
}

// NewHandler создаёт обработчик. boards может быть nil, тогда снимок таблицы лидеров недоступен.
func NewHandler(pointsUC *points.Service, boards *leaderboard.Service, log zerolog.Logger) *Handler {
	return &Handler{
		points: pointsUC,
		boards: boards,
		log:    log.With().Str("component", "api").Logger(),
	}
}

// Mount регистрирует маршруты под защитой bearer-токена.
func (h *Handler) Mount(r chi.Router, token string) {
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(httpinfra.BearerAuthMiddleware(token))

		api.Get("/leaderboard", h.leaderboard)
		api.Get("/leaderboard/snapshot", h.snapshot)
		api.Get("/tiers", h.tiers)

		api.Get("/users/{id}", h.profile)
		api.Get("/users/{id}/history", h.history)

		api.Post("/activity", h.recordActivity)
		api.Post("/value-posts", h.recomputePost)
		api.Delete("/value-posts/{messageID}", h.retractPost)

		api.Post("/submissions", h.createSubmission)
		api.Get("/submissions/pending", h.pending)
		api.Post("/submissions/{id}/approve", h.approve)
		api.Post("/submissions/{id}/reject", h.reject)
	})
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultLeaderboardLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.points.TopN(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, leaderboardResponse{Entries: toRanked(entries)})
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if h.boards == nil {
		httpinfra.WriteError(w, http.StatusNotFound, errors.New("снимок таблицы лидеров не настроен"))
		return
	}
	snap, err := h.boards.Latest(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toSnapshot(snap))
}

func (h *Handler) tiers(w http.ResponseWriter, r *http.Request) {
	table := h.points.Tiers()
	out := make([]tierResponse, 0, len(table))
	for _, level := range table {
		out = append(out, toTier(level))
	}
	httpinfra.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ranked, err := h.points.RankOf(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	progress := h.points.Tiers().Progress(ranked.User.TotalPoints)
	httpinfra.WriteJSON(w, http.StatusOK, toProfile(ranked, progress))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.points.RecentHistory(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toEntries(entries))
}

func (h *Handler) recordActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		h.fail(w, r, domain.Invalid("date", "ожидается YYYY-MM-DD"))
		return
	}
	res, err := h.points.RecordActivity(r.Context(), domain.UserRef{ID: req.UserID, DisplayName: req.DisplayName}, date, req.MessageCount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, activityResponse{
		UserID:        res.Activity.UserID,
		Date:          res.Activity.ActivityDate.Format(dateLayout),
		MessageCount:  res.Activity.MessageCount,
		PointsAwarded: res.Activity.PointsAwarded,
		Delta:         res.Delta,
		TotalPoints:   res.User.TotalPoints,
		Tier:          string(res.User.Tier),
	})
}

func (h *Handler) recomputePost(w http.ResponseWriter, r *http.Request) {
	var req valuePostRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	obs := points.PostObservation{
		MessageID: req.MessageID,
		ChannelID: req.ChannelID,
		Reactions: req.Reactions,
		Pinned:    req.Pinned,
	}
	if req.UserID != 0 {
		obs.Author = &domain.UserRef{ID: req.UserID, DisplayName: req.DisplayName}
	}
	if req.PostedAt != nil {
		obs.PostedAt = *req.PostedAt
	}
	res, err := h.points.RecomputePost(r.Context(), obs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	httpinfra.WriteJSON(w, status, toPostResult(res))
}

func (h *Handler) retractPost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "messageID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.points.RetractPost(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toPostResult(res))
}

func toPostResult(res points.PostResult) valuePostResponse {
	return valuePostResponse{
		MessageID:   res.Post.MessageID,
		ChannelID:   res.Post.ChannelID,
		UserID:      res.Post.UserID,
		PostDate:    res.Post.PostDate.Format(dateLayout),
		Reactions:   res.Post.Reactions(),
		IsPinned:    res.Post.IsPinned,
		TotalPoints: res.Post.TotalPoints,
		Delta:       res.Delta,
		Created:     res.Created,
	}
}

func (h *Handler) createSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sub, err := h.points.CreateSubmission(r.Context(), points.NewSubmission{
		User:         domain.UserRef{ID: req.UserID, DisplayName: req.DisplayName},
		Type:         domain.SubmissionType(req.Type),
		Description:  req.Description,
		ProofURL:     req.ProofURL,
		Amount:       req.Amount,
		ReferralType: req.ReferralType,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, h.toSubmission(sub))
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	subs, err := h.points.PendingSubmissions(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]submissionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, h.toSubmission(sub))
	}
	httpinfra.WriteJSON(w, http.StatusOK, out)
}

// approve начисляет указанные очки, а без них — рекомендованные правилами.
func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.reviewInput(w, r)
	if !ok {
		return
	}
	var award int64
	if req.Points != nil {
		award = *req.Points
	} else {
		sub, err := h.points.GetSubmission(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		award = h.points.SuggestPoints(sub)
	}
	sub, err := h.points.ApproveSubmission(r.Context(), id, req.ReviewerID, award)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, h.toSubmission(sub))
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.reviewInput(w, r)
	if !ok {
		return
	}
	sub, err := h.points.RejectSubmission(r.Context(), id, req.ReviewerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, h.toSubmission(sub))
}

func (h *Handler) reviewInput(w http.ResponseWriter, r *http.Request) (int64, reviewRequest, bool) {
	var req reviewRequest
	id, err := pathID(r, "id")
	if err == nil {
		err = decode(w, r, &req)
	}
	if err != nil {
		h.fail(w, r, err)
		return 0, reviewRequest{}, false
	}
	return id, req, true
}

func (h *Handler) toSubmission(sub domain.Submission) submissionResponse {
	resp := submissionResponse{
		ID:              sub.ID,
		UserID:          sub.UserID,
		Type:            string(sub.Type),
		Description:     sub.Description,
		ProofURL:        sub.ProofURL,
		Amount:          sub.Amount,
		Status:          string(sub.Status),
		PointsAwarded:   sub.PointsAwarded,
		SuggestedPoints: h.points.SuggestPoints(sub),
		ReviewedBy:      sub.ReviewedBy,
		ReviewedAt:      sub.ReviewedAt,
		CreatedAt:       sub.CreatedAt,
	}
	if sub.ReferralType != nil {
		ref := string(*sub.ReferralType)
		resp.ReferralType = &ref
	}
	return resp
}

// fail переводит ошибку сервиса в HTTP статус.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", httpinfra.RequestID(r)).
			Str("path", r.URL.Path).
			Msg("api: ошибка обработки запроса")
	}
	if status == http.StatusInternalServerError {
		err = errors.New("внутренняя ошибка")
	}
	httpinfra.WriteError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransientConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Invalid("body", fmt.Sprintf("некорректный JSON: %v", err))
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Invalid(name, "ожидается положительное число")
	}
	return id, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Invalid(name, "ожидается число")
	}
	return v, nil
}
