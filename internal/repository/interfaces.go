// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/postboard/internal/model"
)

// ErrDuplicate は一意制約違反を表す。Fieldに違反したカラム名を持つ。
type ErrDuplicate struct {
	Field string
}

// Error はerrorインターフェースを実装する。
func (e *ErrDuplicate) Error() string {
	return "duplicate " + e.Field
}

// IsDuplicate はerrが一意制約違反かどうかを判定し、違反したフィールド名を返す。
func IsDuplicate(err error) (string, bool) {
	var dup *ErrDuplicate
	if errors.As(err, &dup) {
		return dup.Field, true
	}
	return "", false
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名（完全一致）でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// List は全ユーザーを作成順で返す。
	List(ctx context.Context) ([]*model.User, error)

	// SearchByUsername はユーザー名に部分文字列を含むユーザーを大文字小文字を区別せずに作成順で返す。
	SearchByUsername(ctx context.Context, fragment string) ([]*model.User, error)

	// Create はユーザーを作成する。ユーザー名・メールアドレスの重複はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// AppendPostID は著者の投稿リスト末尾に投稿IDを追加する。
	AppendPostID(ctx context.Context, userID, postID string) error

	// RemovePostID は著者の投稿リストから投稿IDを取り除く。含まれていない場合も成功とする。
	RemovePostID(ctx context.Context, userID, postID string) error

	// UpdateTags はユーザーの興味タグを置き換える。
	UpdateTags(ctx context.Context, userID string, tagIDs []string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しない場合も成功とする。
	DeleteByID(ctx context.Context, id string) error
}

// PostRepository は投稿とコメントの永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの投稿をコメント付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// List は全投稿を新しい順で返す。
	List(ctx context.Context) ([]*model.Post, error)

	// ListByTagID は指定タグを含む投稿を新しい順で返す。
	ListByTagID(ctx context.Context, tagID string) ([]*model.Post, error)

	// SearchByDescription は本文に部分文字列を含む投稿を大文字小文字を区別せずに作成順で返す。
	SearchByDescription(ctx context.Context, text string) ([]*model.Post, error)

	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// Delete は投稿を削除する。コメントはCASCADE削除される。
	// 削除対象が存在しなかった場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// IncrementLikes はいいね数を1つ増やし、更新後の値を返す。
	// 投稿が存在しない場合はErrNotFoundを返す。
	IncrementLikes(ctx context.Context, id string) (int, error)

	// UpdateTags は投稿のタグを置き換える。
	UpdateTags(ctx context.Context, id string, tagIDs []string) error

	// AddComment はコメントを追加する。
	AddComment(ctx context.Context, comment *model.Comment) error

	// FindComment は投稿内のコメントを取得する。見つからない場合はnilを返す。
	FindComment(ctx context.Context, postID, commentID string) (*model.Comment, error)

	// DeleteComment はコメントを削除する。
	DeleteComment(ctx context.Context, postID, commentID string) error
}

// TagRepository はタグの永続化インターフェース。
type TagRepository interface {
	// FindByID は指定IDのタグを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Tag, error)

	// FindByName は名前（完全一致）でタグを取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Tag, error)

	// List は全タグを名前順で返す。
	List(ctx context.Context) ([]*model.Tag, error)

	// CreateIfAbsent は同名タグが無ければ作成する。
	// 戻り値は保存済みのタグと、今回作成したかどうか。
	CreateIfAbsent(ctx context.Context, tag *model.Tag) (*model.Tag, bool, error)
}

// SessionCleaner は期限切れセッションの削除インターフェース。
type SessionCleaner interface {
	// DeleteExpired はbeforeより前に期限切れになったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ErrNotFound は更新対象が存在しないことを表す。
var ErrNotFound = errors.New("not found")
