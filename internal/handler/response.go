// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/user"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// userResponse はユーザー情報のAPIレスポンス。
// メールアドレスは本人にのみ返す。
type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	PostIDs   []string  `json:"post_ids"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// profileResponse はユーザーと投稿一覧をまとめたレスポンス。
type profileResponse struct {
	userResponse
	Posts []postResponse `json:"posts"`
}

// commentResponse はコメントのAPIレスポンス。
type commentResponse struct {
	ID             string    `json:"id"`
	PostID         string    `json:"post_id"`
	AuthorID       string    `json:"author_id"`
	AuthorUsername string    `json:"author_username"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// postResponse は投稿のAPIレスポンス。
type postResponse struct {
	ID             string            `json:"id"`
	AuthorID       string            `json:"author_id"`
	AuthorUsername string            `json:"author_username"`
	Description    string            `json:"description"`
	TagIDs         []string          `json:"tag_ids"`
	Comments       []commentResponse `json:"comments"`
	Likes          int               `json:"likes"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// tagResponse はタグのAPIレスポンス。
type tagResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func toUserResponse(u *model.User, includeEmail bool) userResponse {
	resp := userResponse{
		ID:        u.ID,
		Username:  u.Username,
		PostIDs:   nonNil(u.PostIDs),
		Tags:      nonNil(u.Tags),
		CreatedAt: u.CreatedAt,
	}
	if includeEmail {
		resp.Email = u.Email
	}
	return resp
}

func toProfileResponse(p *user.Profile, includeEmail bool) profileResponse {
	return profileResponse{
		userResponse: toUserResponse(p.User, includeEmail),
		Posts:        toPostResponses(p.Posts),
	}
}

func toCommentResponse(c model.Comment) commentResponse {
	return commentResponse{
		ID:             c.ID,
		PostID:         c.PostID,
		AuthorID:       c.AuthorID,
		AuthorUsername: c.AuthorUsername,
		Text:           c.Text,
		CreatedAt:      c.CreatedAt,
	}
}

func toPostResponse(p *model.Post) postResponse {
	return postResponse{
		ID:             p.ID,
		AuthorID:       p.AuthorID,
		AuthorUsername: p.AuthorUsername,
		Description:    p.Description,
		TagIDs:         nonNil(p.TagIDs),
		Comments:       lo.Map(p.Comments, func(c model.Comment, _ int) commentResponse { return toCommentResponse(c) }),
		Likes:          p.Likes,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func toPostResponses(posts []*model.Post) []postResponse {
	return lo.Map(posts, func(p *model.Post, _ int) postResponse { return toPostResponse(p) })
}

func toTagResponse(t *model.Tag) tagResponse {
	return tagResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSONBody はリクエストボディをdstにデコードする。
// 失敗した場合は400レスポンスを書き込みfalseを返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidInput,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := middleware.HTTPStatus(apiErr.Code)
		if statusCode >= http.StatusInternalServerError {
			attrs := []any{slog.String("code", apiErr.Code)}
			if apiErr.Cause != nil {
				attrs = append(attrs, slog.String("cause", apiErr.Cause.Error()))
			}
			slog.Error("service error", attrs...)
		}
		middleware.WriteErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
