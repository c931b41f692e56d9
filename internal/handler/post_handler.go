package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/postboard/internal/model"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	List(ctx context.Context) ([]*model.Post, error)
	Get(ctx context.Context, id string) (*model.Post, error)
	Create(ctx context.Context, content string, tagIDs []string) (*model.Post, error)
	Remove(ctx context.Context, id string) error
	AddComment(ctx context.Context, postID, text string) (*model.Comment, error)
	RemoveComment(ctx context.Context, postID, commentID string) error
	Like(ctx context.Context, postID string) (int, error)
	UpdateTags(ctx context.Context, postID string, tagIDs []string) (*model.Post, error)
}

// PostHandler は投稿・コメント・いいねのHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface) *PostHandler {
	return &PostHandler{
		service: service,
	}
}

type createPostRequest struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// addPostRequest は旧形式の投稿リクエスト。本文はpostTextで受け取る。
type addPostRequest struct {
	PostText string   `json:"postText"`
	Tags     []string `json:"tags"`
}

type addCommentRequest struct {
	Text string `json:"text"`
}

type likesResponse struct {
	ID    string `json:"id"`
	Likes int    `json:"likes"`
}

// ListPosts は投稿一覧を新しい順に返す。
// GET /api/posts
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponses(posts))
}

// GetPost は投稿を1件返す。
// GET /api/posts/{id}
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// CreatePost は投稿を作成する。
// POST /api/posts
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	h.create(w, r, req.Content, req.Tags)
}

// AddPost はpostTextを本文として投稿を作成する。
// POST /api/posts/text
func (h *PostHandler) AddPost(w http.ResponseWriter, r *http.Request) {
	var req addPostRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	h.create(w, r, req.PostText, req.Tags)
}

func (h *PostHandler) create(w http.ResponseWriter, r *http.Request, content string, tagIDs []string) {
	post, err := h.service.Create(r.Context(), content, tagIDs)
	if err != nil {
		// PARTIALLY_APPLIEDの場合もentity_idで投稿IDを返す
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostResponse(post))
}

// RemovePost は投稿を削除する。投稿者本人のみ。
// DELETE /api/posts/{id}
func (h *PostHandler) RemovePost(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddComment は投稿にコメントを追加する。
// POST /api/posts/{id}/comments
func (h *PostHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req addCommentRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	comment, err := h.service.AddComment(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommentResponse(*comment))
}

// RemoveComment はコメントを削除する。
// DELETE /api/posts/{id}/comments/{commentId}
func (h *PostHandler) RemoveComment(w http.ResponseWriter, r *http.Request) {
	err := h.service.RemoveComment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "commentId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Like は投稿のいいね数を1増やす。
// POST /api/posts/{id}/likes
func (h *PostHandler) Like(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	likes, err := h.service.Like(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, likesResponse{ID: id, Likes: likes})
}

// UpdateTags は投稿のタグを置き換える。投稿者本人のみ。
// PUT /api/posts/{id}/tags
func (h *PostHandler) UpdateTags(w http.ResponseWriter, r *http.Request) {
	var req updateTagsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	post, err := h.service.UpdateTags(r.Context(), chi.URLParam(r, "id"), req.Tags)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post))
}
