package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Me(ctx context.Context) (*user.Profile, error)
	Get(ctx context.Context, username string) (*user.Profile, error)
	List(ctx context.Context) ([]*model.User, error)
	UpdateTags(ctx context.Context, tagIDs []string) (*model.User, error)
}

// UserHandler はユーザー参照・更新のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type updateTagsRequest struct {
	Tags []string `json:"tags"`
}

// Me はログイン中のユーザーを投稿付きで返す。
// GET /api/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Me(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(profile, true))
}

// GetUser はユーザー名を指定してユーザーを返す。
// GET /api/users/{username}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Get(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(profile, false))
}

// ListUsers はユーザー一覧を返す。
// GET /api/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(users, func(u *model.User, _ int) userResponse {
		return toUserResponse(u, false)
	}))
}

// UpdateTags はログイン中のユーザーの興味タグを置き換える。
// PUT /api/me/tags
func (h *UserHandler) UpdateTags(w http.ResponseWriter, r *http.Request) {
	var req updateTagsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	u, err := h.service.UpdateTags(r.Context(), req.Tags)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u, true))
}
