package repository

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/hitoshi/postboard/internal/model"
)

// MemoryStore は全リポジトリをプロセス内メモリで実装したストア。
// `serve --memory` での開発起動とテストで使用する。
// 返却する値はすべてコピーで、呼び出し側の変更はストアに影響しない。
type MemoryStore struct {
	mu sync.RWMutex

	users      map[string]*model.User
	userOrder  []string
	identities map[string]*model.Identity // key: provider + "\x00" + provider_user_id
	sessions   map[string]*model.Session
	posts      map[string]*model.Post
	postOrder  []string
	tags       map[string]*model.Tag

	now func() time.Time
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]*model.User),
		identities: make(map[string]*model.Identity),
		sessions:   make(map[string]*model.Session),
		posts:      make(map[string]*model.Post),
		tags:       make(map[string]*model.Tag),
		now:        time.Now,
	}
}

// Users はUserRepositoryとしてのビューを返す。
func (s *MemoryStore) Users() *MemoryUserRepo { return &MemoryUserRepo{s: s} }

// Identities はIdentityRepositoryとしてのビューを返す。
func (s *MemoryStore) Identities() *MemoryIdentityRepo { return &MemoryIdentityRepo{s: s} }

// Sessions はSessionRepositoryとしてのビューを返す。
func (s *MemoryStore) Sessions() *MemorySessionRepo { return &MemorySessionRepo{s: s} }

// Posts はPostRepositoryとしてのビューを返す。
func (s *MemoryStore) Posts() *MemoryPostRepo { return &MemoryPostRepo{s: s} }

// Tags はTagRepositoryとしてのビューを返す。
func (s *MemoryStore) Tags() *MemoryTagRepo { return &MemoryTagRepo{s: s} }

func identityKey(provider, providerUserID string) string {
	return provider + "\x00" + providerUserID
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.PostIDs = slices.Clone(u.PostIDs)
	c.Tags = slices.Clone(u.Tags)
	return &c
}

func clonePost(p *model.Post) *model.Post {
	c := *p
	c.TagIDs = slices.Clone(p.TagIDs)
	c.Comments = slices.Clone(p.Comments)
	return &c
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// MemoryUserRepo はMemoryStore上のユーザーリポジトリ。
type MemoryUserRepo struct{ s *MemoryStore }

func (r *MemoryUserRepo) findBy(match func(*model.User) bool) *model.User {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, id := range r.s.userOrder {
		if u := r.s.users[id]; match(u) {
			return cloneUser(u)
		}
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if u, ok := r.s.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

// FindByUsername はユーザー名でユーザーを取得する。
func (r *MemoryUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	return r.findBy(func(u *model.User) bool { return u.Username == username }), nil
}

// FindByEmail はメールアドレスでユーザーを大文字小文字を区別せずに取得する。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, nil
	}
	return r.findBy(func(u *model.User) bool { return strings.EqualFold(u.Email, email) }), nil
}

// List は全ユーザーを作成順で返す。
func (r *MemoryUserRepo) List(_ context.Context) ([]*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return lo.Map(r.s.userOrder, func(id string, _ int) *model.User {
		return cloneUser(r.s.users[id])
	}), nil
}

// SearchByUsername はユーザー名に部分文字列を含むユーザーを作成順で返す。
func (r *MemoryUserRepo) SearchByUsername(ctx context.Context, fragment string) ([]*model.User, error) {
	users, _ := r.List(ctx)
	return lo.Filter(users, func(u *model.User, _ int) bool {
		return containsFold(u.Username, fragment)
	}), nil
}

func (r *MemoryUserRepo) insertLocked(user *model.User) error {
	for _, u := range r.s.users {
		if u.Username == user.Username {
			return &ErrDuplicate{Field: "username"}
		}
		if user.Email != "" && strings.EqualFold(u.Email, user.Email) {
			return &ErrDuplicate{Field: "email"}
		}
	}
	r.s.users[user.ID] = cloneUser(user)
	r.s.userOrder = append(r.s.userOrder, user.ID)
	return nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.insertLocked(user)
}

// CreateWithIdentity はユーザーとidentityをまとめて作成する。どちらかが重複した場合は何も保存しない。
func (r *MemoryUserRepo) CreateWithIdentity(_ context.Context, user *model.User, identity *model.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := identityKey(identity.Provider, identity.ProviderUserID)
	if _, ok := r.s.identities[key]; ok {
		return &ErrDuplicate{Field: "provider_user_id"}
	}
	if err := r.insertLocked(user); err != nil {
		return err
	}
	c := *identity
	r.s.identities[key] = &c
	return nil
}

func (r *MemoryUserRepo) update(userID string, fn func(u *model.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = r.s.now()
	return nil
}

// AppendPostID は著者の投稿リスト末尾に投稿IDを追加する。
func (r *MemoryUserRepo) AppendPostID(_ context.Context, userID, postID string) error {
	return r.update(userID, func(u *model.User) {
		u.PostIDs = append(u.PostIDs, postID)
	})
}

// RemovePostID は著者の投稿リストから投稿IDを取り除く。
func (r *MemoryUserRepo) RemovePostID(_ context.Context, userID, postID string) error {
	return r.update(userID, func(u *model.User) {
		u.PostIDs = lo.Without(u.PostIDs, postID)
	})
}

// UpdateTags はユーザーの興味タグを置き換える。
func (r *MemoryUserRepo) UpdateTags(_ context.Context, userID string, tagIDs []string) error {
	return r.update(userID, func(u *model.User) {
		u.Tags = slices.Clone(tagIDs)
	})
}

// MemoryIdentityRepo はMemoryStore上のidentityリポジトリ。
type MemoryIdentityRepo struct{ s *MemoryStore }

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
func (r *MemoryIdentityRepo) FindByProviderAndProviderUserID(_ context.Context, provider, providerUserID string) (*model.Identity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if id, ok := r.s.identities[identityKey(provider, providerUserID)]; ok {
		c := *id
		return &c, nil
	}
	return nil, nil
}

// MemorySessionRepo はMemoryStore上のセッションリポジトリ。
type MemorySessionRepo struct{ s *MemoryStore }

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *session
	r.s.sessions[session.ID] = &c
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess, ok := r.s.sessions[id]
	if !ok || !sess.ExpiresAt.After(r.s.now()) {
		return nil, nil
	}
	c := *sess
	return &c, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, id)
	return nil
}

// DeleteExpired はbeforeより前に期限切れになったセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, sess := range r.s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// MemoryPostRepo はMemoryStore上の投稿リポジトリ。
type MemoryPostRepo struct{ s *MemoryStore }

// withAuthor は投稿に現在の著者名を埋めたコピーを返す。呼び出し側でロックを保持すること。
func (r *MemoryPostRepo) withAuthor(p *model.Post) *model.Post {
	c := clonePost(p)
	if u, ok := r.s.users[p.AuthorID]; ok {
		c.AuthorUsername = u.Username
	}
	for i := range c.Comments {
		if u, ok := r.s.users[c.Comments[i].AuthorID]; ok {
			c.Comments[i].AuthorUsername = u.Username
		}
	}
	return c
}

// FindByID は指定IDの投稿をコメント付きで取得する。
func (r *MemoryPostRepo) FindByID(_ context.Context, id string) (*model.Post, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if p, ok := r.s.posts[id]; ok {
		return r.withAuthor(p), nil
	}
	return nil, nil
}

// inCreationOrder は条件に合う投稿を作成順で返す。
func (r *MemoryPostRepo) inCreationOrder(match func(*model.Post) bool) []*model.Post {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*model.Post
	for _, id := range r.s.postOrder {
		if p := r.s.posts[id]; match(p) {
			out = append(out, r.withAuthor(p))
		}
	}
	return out
}

// List は全投稿を新しい順で返す。
func (r *MemoryPostRepo) List(_ context.Context) ([]*model.Post, error) {
	posts := r.inCreationOrder(func(*model.Post) bool { return true })
	slices.Reverse(posts)
	return posts, nil
}

// ListByTagID は指定タグを含む投稿を新しい順で返す。
func (r *MemoryPostRepo) ListByTagID(_ context.Context, tagID string) ([]*model.Post, error) {
	posts := r.inCreationOrder(func(p *model.Post) bool { return slices.Contains(p.TagIDs, tagID) })
	slices.Reverse(posts)
	return posts, nil
}

// SearchByDescription は本文に部分文字列を含む投稿を作成順で返す。
func (r *MemoryPostRepo) SearchByDescription(_ context.Context, text string) ([]*model.Post, error) {
	return r.inCreationOrder(func(p *model.Post) bool { return containsFold(p.Description, text) }), nil
}

// Create は投稿を作成する。
func (r *MemoryPostRepo) Create(_ context.Context, post *model.Post) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.posts[post.ID] = clonePost(post)
	r.s.postOrder = append(r.s.postOrder, post.ID)
	return nil
}

// Delete は投稿を削除する。
func (r *MemoryPostRepo) Delete(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.posts[id]; !ok {
		return false, nil
	}
	delete(r.s.posts, id)
	r.s.postOrder = lo.Without(r.s.postOrder, id)
	return true, nil
}

func (r *MemoryPostRepo) update(id string, fn func(p *model.Post)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[id]
	if !ok {
		return ErrNotFound
	}
	fn(p)
	p.UpdatedAt = r.s.now()
	return nil
}

// IncrementLikes はいいね数を1つ増やし、更新後の値を返す。
func (r *MemoryPostRepo) IncrementLikes(_ context.Context, id string) (int, error) {
	var likes int
	err := r.update(id, func(p *model.Post) {
		p.Likes++
		likes = p.Likes
	})
	return likes, err
}

// UpdateTags は投稿のタグを置き換える。
func (r *MemoryPostRepo) UpdateTags(_ context.Context, id string, tagIDs []string) error {
	return r.update(id, func(p *model.Post) {
		p.TagIDs = slices.Clone(tagIDs)
	})
}

// AddComment はコメントを追加する。
func (r *MemoryPostRepo) AddComment(_ context.Context, comment *model.Comment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[comment.PostID]
	if !ok {
		return ErrNotFound
	}
	p.Comments = append(p.Comments, *comment)
	return nil
}

// FindComment は投稿内のコメントを取得する。
func (r *MemoryPostRepo) FindComment(ctx context.Context, postID, commentID string) (*model.Comment, error) {
	p, _ := r.FindByID(ctx, postID)
	if p == nil {
		return nil, nil
	}
	c, ok := lo.Find(p.Comments, func(c model.Comment) bool { return c.ID == commentID })
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// DeleteComment はコメントを削除する。
func (r *MemoryPostRepo) DeleteComment(_ context.Context, postID, commentID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.posts[postID]; ok {
		p.Comments = lo.Reject(p.Comments, func(c model.Comment, _ int) bool { return c.ID == commentID })
	}
	return nil
}

// MemoryTagRepo はMemoryStore上のタグリポジトリ。
type MemoryTagRepo struct{ s *MemoryStore }

// FindByID は指定IDのタグを取得する。
func (r *MemoryTagRepo) FindByID(_ context.Context, id string) (*model.Tag, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if t, ok := r.s.tags[id]; ok {
		c := *t
		return &c, nil
	}
	return nil, nil
}

func (r *MemoryTagRepo) findByNameLocked(name string) *model.Tag {
	for _, t := range r.s.tags {
		if t.Name == name {
			c := *t
			return &c
		}
	}
	return nil
}

// FindByName は名前でタグを取得する。
func (r *MemoryTagRepo) FindByName(_ context.Context, name string) (*model.Tag, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.findByNameLocked(name), nil
}

// List は全タグを名前順で返す。
func (r *MemoryTagRepo) List(_ context.Context) ([]*model.Tag, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	tags := lo.MapToSlice(r.s.tags, func(_ string, t *model.Tag) *model.Tag {
		c := *t
		return &c
	})
	slices.SortFunc(tags, func(a, b *model.Tag) int { return strings.Compare(a.Name, b.Name) })
	return tags, nil
}

// CreateIfAbsent は同名タグが無ければ作成する。
func (r *MemoryTagRepo) CreateIfAbsent(_ context.Context, tag *model.Tag) (*model.Tag, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing := r.findByNameLocked(tag.Name); existing != nil {
		return existing, false, nil
	}
	c := *tag
	r.s.tags[tag.ID] = &c
	out := c
	return &out, true, nil
}

// compile-time interface check
var (
	_ UserRepository     = (*MemoryUserRepo)(nil)
	_ IdentityRepository = (*MemoryIdentityRepo)(nil)
	_ SessionRepository  = (*MemorySessionRepo)(nil)
	_ SessionCleaner     = (*MemorySessionRepo)(nil)
	_ PostRepository     = (*MemoryPostRepo)(nil)
	_ TagRepository      = (*MemoryTagRepo)(nil)
)
