// Package post は投稿・コメント・いいねの更新処理と参照を提供する。
//
// 更新処理は「認可 → 検証 → 反映 → 確定または部分反映」の順に進み、リトライはしない。
// 2段階の書き込みを伴う操作では、1段目が確定してから2段目を試み、
// 2段目が失敗した場合はPARTIALLY_APPLIEDを返す。
package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/hitoshi/postboard/internal/identity"
	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/repository"
	"github.com/hitoshi/postboard/internal/security"
)

// 入力の上限（文字数）
const (
	MaxContentLength = 5000
	MaxCommentLength = 1000
)

// DefaultSecondWriteTimeout は2段目の書き込みの既定タイムアウト。
const DefaultSecondWriteTimeout = 5 * time.Second

// 操作名。メトリクスのラベルとログに使う。
const (
	opCreatePost     = "create_post"
	opRemovePost     = "remove_post"
	opAddComment     = "add_comment"
	opRemoveComment  = "remove_comment"
	opLike           = "like_post"
	opUpdatePostTags = "update_post_tags"
)

// PostListWriter は著者の投稿リストの更新インターフェース。
// repository.UserRepositoryの部分集合として定義する。
type PostListWriter interface {
	AppendPostID(ctx context.Context, userID, postID string) error
	RemovePostID(ctx context.Context, userID, postID string) error
}

// TagFinder はタグの存在確認に使うインターフェース。
type TagFinder interface {
	FindByID(ctx context.Context, id string) (*model.Tag, error)
}

// MutationRecorder は更新処理の結果を記録する。
type MutationRecorder interface {
	RecordMutation(operation, outcome string)
}

// Config は投稿サービスの設定。
type Config struct {
	SecondWriteTimeout time.Duration
}

// Service は投稿に関するビジネスロジックを提供する。
type Service struct {
	posts     repository.PostRepository
	users     PostListWriter
	tags      TagFinder
	sanitizer security.TextSanitizer
	recorder  MutationRecorder
	config    Config
	now       func() time.Time
}

// NewService はServiceを生成する。recorderがnilの場合は記録しない。
func NewService(
	posts repository.PostRepository,
	users PostListWriter,
	tags TagFinder,
	sanitizer security.TextSanitizer,
	recorder MutationRecorder,
	config Config,
) *Service {
	if config.SecondWriteTimeout <= 0 {
		config.SecondWriteTimeout = DefaultSecondWriteTimeout
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		posts:     posts,
		users:     users,
		tags:      tags,
		sanitizer: sanitizer,
		recorder:  recorder,
		config:    config,
		now:       time.Now,
	}
}

// List は全投稿を新しい順で返す。認証不要。
func (s *Service) List(ctx context.Context) ([]*model.Post, error) {
	posts, err := s.posts.List(ctx)
	if err != nil {
		return nil, model.NewUnavailableError(err)
	}
	return posts, nil
}

// Get は指定IDの投稿をコメント付きで返す。認証不要。
func (s *Service) Get(ctx context.Context, id string) (*model.Post, error) {
	return s.load(ctx, id)
}

// Create は投稿を作成し、著者の投稿リストに追加する。
// 投稿の作成後にリストへの追加が失敗した場合は、作成済みの投稿とPARTIALLY_APPLIEDエラーを両方返す。
func (s *Service) Create(ctx context.Context, content string, tagIDs []string) (*model.Post, error) {
	principal, err := identity.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	text, err := s.cleanText(content, "本文", MaxContentLength)
	if err != nil {
		return nil, err
	}
	tagIDs, err = s.validateTags(ctx, tagIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	post := &model.Post{
		ID:             uuid.New().String(),
		AuthorID:       principal.ID,
		AuthorUsername: principal.Username,
		Description:    text,
		TagIDs:         tagIDs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// 1段目: 投稿の作成
	if err := s.posts.Create(ctx, post); err != nil {
		s.recorder.RecordMutation(opCreatePost, metrics.OutcomeFailed)
		return nil, model.NewUnavailableError(err)
	}

	// 2段目: 著者の投稿リストへの追加
	if err := s.secondWrite(ctx, func(wctx context.Context) error {
		return s.users.AppendPostID(wctx, principal.ID, post.ID)
	}); err != nil {
		slog.Error("post created but author post list not updated",
			slog.String("post_id", post.ID),
			slog.String("user_id", principal.ID),
			slog.String("error", err.Error()),
		)
		s.recorder.RecordMutation(opCreatePost, metrics.OutcomePartiallyApplied)
		return post, model.NewPartiallyAppliedError("投稿の作成", post.ID, err)
	}

	s.recorder.RecordMutation(opCreatePost, metrics.OutcomeConfirmed)
	slog.Info("post created",
		slog.String("post_id", post.ID),
		slog.String("user_id", principal.ID),
	)
	return post, nil
}

// Remove は投稿を削除し、著者の投稿リストから取り除く。投稿者本人のみ実行できる。
func (s *Service) Remove(ctx context.Context, id string) error {
	principal, err := identity.RequireAuthenticated(ctx)
	if err != nil {
		return err
	}

	post, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !post.OwnedBy(principal) {
		return model.NewForbiddenError("投稿", id)
	}

	// 1段目: 投稿の削除（コメントも削除される）
	deleted, err := s.posts.Delete(ctx, id)
	if err != nil {
		s.recorder.RecordMutation(opRemovePost, metrics.OutcomeFailed)
		return model.NewUnavailableError(err)
	}
	if !deleted {
		return model.NewNotFoundError("投稿", id)
	}

	// 2段目: 著者の投稿リストからの除去
	if err := s.secondWrite(ctx, func(wctx context.Context) error {
		return s.users.RemovePostID(wctx, post.AuthorID, id)
	}); err != nil {
		slog.Error("post deleted but author post list not updated",
			slog.String("post_id", id),
			slog.String("user_id", post.AuthorID),
			slog.String("error", err.Error()),
		)
		s.recorder.RecordMutation(opRemovePost, metrics.OutcomePartiallyApplied)
		return model.NewPartiallyAppliedError("投稿の削除", id, err)
	}

	s.recorder.RecordMutation(opRemovePost, metrics.OutcomeConfirmed)
	slog.Info("post removed",
		slog.String("post_id", id),
		slog.String("user_id", principal.ID),
	)
	return nil
}

// AddComment は投稿にコメントを追加する。
func (s *Service) AddComment(ctx context.Context, postID, text string) (*model.Comment, error) {
	principal, err := identity.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	cleaned, err := s.cleanText(text, "コメント", MaxCommentLength)
	if err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, postID); err != nil {
		return nil, err
	}

	comment := &model.Comment{
		ID:             uuid.New().String(),
		PostID:         postID,
		AuthorID:       principal.ID,
		AuthorUsername: principal.Username,
		Text:           cleaned,
		CreatedAt:      s.now(),
	}
	if err := s.posts.AddComment(ctx, comment); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewNotFoundError("投稿", postID)
		}
		s.recorder.RecordMutation(opAddComment, metrics.OutcomeFailed)
		return nil, model.NewUnavailableError(err)
	}

	s.recorder.RecordMutation(opAddComment, metrics.OutcomeConfirmed)
	return comment, nil
}

// RemoveComment はコメントを削除する。コメントの投稿者または投稿の所有者のみ実行できる。
func (s *Service) RemoveComment(ctx context.Context, postID, commentID string) error {
	principal, err := identity.RequireAuthenticated(ctx)
	if err != nil {
		return err
	}

	post, err := s.load(ctx, postID)
	if err != nil {
		return err
	}
	comment, err := s.posts.FindComment(ctx, postID, commentID)
	if err != nil {
		return model.NewUnavailableError(err)
	}
	if comment == nil {
		return model.NewNotFoundError("コメント", commentID)
	}
	if comment.AuthorID != principal.ID && !post.OwnedBy(principal) {
		return model.NewForbiddenError("コメント", commentID)
	}

	if err := s.posts.DeleteComment(ctx, postID, commentID); err != nil {
		s.recorder.RecordMutation(opRemoveComment, metrics.OutcomeFailed)
		return model.NewUnavailableError(err)
	}

	s.recorder.RecordMutation(opRemoveComment, metrics.OutcomeConfirmed)
	return nil
}

// Like はいいね数を1つ増やし、更新後の値を返す。増分は1回の原子的な更新で行う。
func (s *Service) Like(ctx context.Context, postID string) (int, error) {
	if _, err := identity.RequireAuthenticated(ctx); err != nil {
		return 0, err
	}

	likes, err := s.posts.IncrementLikes(ctx, postID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, model.NewNotFoundError("投稿", postID)
	}
	if err != nil {
		s.recorder.RecordMutation(opLike, metrics.OutcomeFailed)
		return 0, model.NewUnavailableError(err)
	}

	s.recorder.RecordMutation(opLike, metrics.OutcomeConfirmed)
	return likes, nil
}

// UpdateTags は投稿のタグを置き換える。投稿者本人のみ実行できる。
func (s *Service) UpdateTags(ctx context.Context, postID string, tagIDs []string) (*model.Post, error) {
	principal, err := identity.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	post, err := s.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !post.OwnedBy(principal) {
		return nil, model.NewForbiddenError("投稿", postID)
	}
	tagIDs, err = s.validateTags(ctx, tagIDs)
	if err != nil {
		return nil, err
	}

	if err := s.posts.UpdateTags(ctx, postID, tagIDs); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewNotFoundError("投稿", postID)
		}
		s.recorder.RecordMutation(opUpdatePostTags, metrics.OutcomeFailed)
		return nil, model.NewUnavailableError(err)
	}

	s.recorder.RecordMutation(opUpdatePostTags, metrics.OutcomeConfirmed)
	post.TagIDs = tagIDs
	post.UpdatedAt = s.now()
	return post, nil
}

// load は投稿を取得する。存在しない場合はNOT_FOUNDを返す。
func (s *Service) load(ctx context.Context, id string) (*model.Post, error) {
	post, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewUnavailableError(err)
	}
	if post == nil {
		return nil, model.NewNotFoundError("投稿", id)
	}
	return post, nil
}

// secondWrite は2段目の書き込みを実行する。
// クライアントが切断しても中断しないよう呼び出し元のキャンセルから切り離し、独自のタイムアウトで打ち切る。
func (s *Service) secondWrite(ctx context.Context, write func(context.Context) error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.SecondWriteTimeout)
	defer cancel()
	return write(wctx)
}

// cleanText はマークアップを除去し、1文字以上limit文字以下であることを検証する。
func (s *Service) cleanText(raw, field string, limit int) (string, error) {
	text := s.sanitizer.Sanitize(raw)
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return "", model.NewInvalidInputError(field + "が空です")
	}
	if n > limit {
		return "", model.NewInvalidInputError(fmt.Sprintf("%sは%d文字以内で入力してください", field, limit))
	}
	return text, nil
}

// validateTags は重複を除いたタグIDがすべて存在することを確認する。
func (s *Service) validateTags(ctx context.Context, tagIDs []string) ([]string, error) {
	tagIDs = lo.Uniq(lo.Compact(tagIDs))
	for _, id := range tagIDs {
		tag, err := s.tags.FindByID(ctx, id)
		if err != nil {
			return nil, model.NewUnavailableError(err)
		}
		if tag == nil {
			return nil, model.NewNotFoundError("タグ", id)
		}
	}
	return tagIDs, nil
}
