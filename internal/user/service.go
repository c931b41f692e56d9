// Package user はユーザーの参照と興味タグの更新を提供する。
package user

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/lo"

	"github.com/hitoshi/postboard/internal/identity"
	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/repository"
)

const opUpdateUserTags = "update_user_tags"

// PostFinder は投稿の取得インターフェース。
type PostFinder interface {
	FindByID(ctx context.Context, id string) (*model.Post, error)
}

// TagFinder はタグの存在確認に使うインターフェース。
type TagFinder interface {
	FindByID(ctx context.Context, id string) (*model.Tag, error)
}

// MutationRecorder は更新処理の結果を記録する。
type MutationRecorder interface {
	RecordMutation(operation, outcome string)
}

// Profile はユーザーと、その投稿リスト順に並べた投稿。
type Profile struct {
	User  *model.User
	Posts []*model.Post
}

// Service はユーザー参照のサービス層。
type Service struct {
	users    repository.UserRepository
	posts    PostFinder
	tags     TagFinder
	recorder MutationRecorder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users repository.UserRepository, posts PostFinder, tags TagFinder, recorder MutationRecorder) *Service {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Service{
		users:    users,
		posts:    posts,
		tags:     tags,
		recorder: recorder,
	}
}

// Me は呼び出し元自身のプロフィールを返す。
func (s *Service) Me(ctx context.Context) (*Profile, error) {
	principal, err := identity.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.users.FindByID(ctx, principal.ID)
	if err != nil {
		return nil, model.NewUnavailableError(err)
	}
	if u == nil {
		// トークンは有効だがユーザーが削除済み
		return nil, model.NewNotFoundError("ユーザー", principal.ID)
	}
	return s.profile(ctx, u)
}

// Get はユーザー名（完全一致）でプロフィールを返す。認証不要。
func (s *Service) Get(ctx context.Context, username string) (*Profile, error) {
	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, model.NewUnavailableError(err)
	}
	if u == nil {
		return nil, model.NewNotFoundError("ユーザー", username)
	}
	return s.profile(ctx, u)
}

// List は全ユーザーを作成順で返す。認証不要。
func (s *Service) List(ctx context.Context) ([]*model.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, model.NewUnavailableError(err)
	}
	return users, nil
}

// UpdateTags は呼び出し元自身の興味タグを置き換える。
func (s *Service) UpdateTags(ctx context.Context, tagIDs []string) (*model.User, error) {
	principal, err := identity.RequireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

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

	if err := s.users.UpdateTags(ctx, principal.ID, tagIDs); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewNotFoundError("ユーザー", principal.ID)
		}
		s.recorder.RecordMutation(opUpdateUserTags, metrics.OutcomeFailed)
		return nil, model.NewUnavailableError(err)
	}
	s.recorder.RecordMutation(opUpdateUserTags, metrics.OutcomeConfirmed)

	u, err := s.users.FindByID(ctx, principal.ID)
	if err != nil {
		return nil, model.NewUnavailableError(err)
	}
	if u == nil {
		return nil, model.NewNotFoundError("ユーザー", principal.ID)
	}
	return u, nil
}

// profile は投稿リストの順に投稿を読み込む。
// 2段目の書き込みが確定していない投稿IDは欠落として読み飛ばす。
func (s *Service) profile(ctx context.Context, u *model.User) (*Profile, error) {
	posts := make([]*model.Post, 0, len(u.PostIDs))
	for _, id := range u.PostIDs {
		p, err := s.posts.FindByID(ctx, id)
		if err != nil {
			return nil, model.NewUnavailableError(err)
		}
		if p == nil {
			slog.Warn("post list references missing post",
				slog.String("user_id", u.ID),
				slog.String("post_id", id),
			)
			continue
		}
		posts = append(posts, p)
	}
	return &Profile{User: u, Posts: posts}, nil
}
