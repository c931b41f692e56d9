// Package search は検索クエリを分類し、ユーザーと投稿を1つの結果列にまとめて返す。
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/postboard/internal/model"
)

// DefaultTagCacheSize はタグ名キャッシュの既定サイズ。
const DefaultTagCacheSize = 1024

// Mode はクエリの検索モード。
type Mode string

const (
	ModeTag  Mode = "tag"  // 先頭が # のクエリ
	ModeUser Mode = "user" // 先頭が @ のクエリ
	ModeText Mode = "text" // それ以外
)

// Classify はクエリの前後の空白を除いてから、先頭文字でモードを決めて検索語を返す。
// 空白の除去は分類より先に行うため、" #go" はタグ検索、"\t@ali" はユーザー検索になる。
// 記号の判定は半角の # と @ のみで、全角記号はテキスト検索として扱う。
func Classify(raw string) (Mode, string) {
	q := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(q, "#"):
		return ModeTag, q[1:]
	case strings.HasPrefix(q, "@"):
		return ModeUser, q[1:]
	default:
		return ModeText, q
	}
}

// Kind は検索結果の種別。
type Kind string

const (
	KindUser Kind = "user"
	KindPost Kind = "post"
)

// Result はユーザーまたは投稿のどちらか一方を持つ検索結果。
// UserResult・PostResult以外では生成できず、種別は生成時に確定する。
type Result struct {
	kind Kind
	user model.UserSummary
	post model.PostSummary
}

// UserResult はユーザーの検索結果を生成する。
func UserResult(u model.UserSummary) Result {
	return Result{kind: KindUser, user: u}
}

// PostResult は投稿の検索結果を生成する。
func PostResult(p model.PostSummary) Result {
	return Result{kind: KindPost, post: p}
}

// Kind は結果の種別を返す。
func (r Result) Kind() Kind { return r.kind }

// User はユーザー結果の場合にその内容を返す。
func (r Result) User() (model.UserSummary, bool) {
	return r.user, r.kind == KindUser
}

// Post は投稿結果の場合にその内容を返す。
func (r Result) Post() (model.PostSummary, bool) {
	return r.post, r.kind == KindPost
}

// MarshalJSON は {"type":"user","user":{...}} または {"type":"post","post":{...}} 形式で出力する。
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case KindUser:
		return json.Marshal(struct {
			Type Kind              `json:"type"`
			User model.UserSummary `json:"user"`
		}{r.kind, r.user})
	case KindPost:
		return json.Marshal(struct {
			Type Kind              `json:"type"`
			Post model.PostSummary `json:"post"`
		}{r.kind, r.post})
	default:
		return nil, fmt.Errorf("search result without kind")
	}
}

// UserSearcher はユーザー名の部分一致検索を提供する。
type UserSearcher interface {
	SearchByUsername(ctx context.Context, fragment string) ([]*model.User, error)
}

// PostSearcher は投稿のタグ検索と本文検索を提供する。
type PostSearcher interface {
	ListByTagID(ctx context.Context, tagID string) ([]*model.Post, error)
	SearchByDescription(ctx context.Context, text string) ([]*model.Post, error)
}

// TagFinder はタグ名の完全一致検索を提供する。
type TagFinder interface {
	FindByName(ctx context.Context, name string) (*model.Tag, error)
}

// Recorder は検索のメトリクスを記録する。
type Recorder interface {
	RecordSearch(mode string, results int, duration time.Duration)
	RecordSearchFailure(mode string)
}

// Router はクエリをモードごとのリポジトリ検索に振り分ける。
type Router struct {
	users    UserSearcher
	posts    PostSearcher
	tags     TagFinder
	tagIDs   *lru.Cache[string, string] // タグ名 → タグID
	recorder Recorder
}

// NewRouter はRouterを生成する。cacheSizeが0以下の場合はDefaultTagCacheSizeを使う。
func NewRouter(users UserSearcher, posts PostSearcher, tags TagFinder, cacheSize int, recorder Recorder) (*Router, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultTagCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tag cache: %w", err)
	}
	return &Router{
		users:    users,
		posts:    posts,
		tags:     tags,
		tagIDs:   cache,
		recorder: recorder,
	}, nil
}

// Search はクエリを分類して検索し、結果を1つの列にまとめて返す。
// 該当なしは空の列でありエラーではない。リポジトリの失敗はUNAVAILABLEとして返す。
func (r *Router) Search(ctx context.Context, raw string) ([]Result, error) {
	start := time.Now()
	mode, term := Classify(raw)
	if term == "" {
		return []Result{}, nil
	}

	var (
		results []Result
		err     error
	)
	switch mode {
	case ModeTag:
		results, err = r.byTag(ctx, term)
	case ModeUser:
		results, err = r.byUser(ctx, term)
	default:
		results, err = r.byText(ctx, term)
	}

	if err != nil {
		slog.Error("search failed",
			slog.String("mode", string(mode)),
			slog.String("error", err.Error()),
		)
		if r.recorder != nil {
			r.recorder.RecordSearchFailure(string(mode))
		}
		return nil, model.NewUnavailableError(err)
	}

	if r.recorder != nil {
		r.recorder.RecordSearch(string(mode), len(results), time.Since(start))
	}
	return results, nil
}

// byTag は完全一致するタグが付いた投稿を新しい順で返す。
// タグは削除・改名されないため、見つかった名前だけをキャッシュする。
func (r *Router) byTag(ctx context.Context, name string) ([]Result, error) {
	tagID, ok := r.tagIDs.Get(name)
	if !ok {
		tag, err := r.tags.FindByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if tag == nil {
			return []Result{}, nil
		}
		tagID = tag.ID
		r.tagIDs.Add(name, tagID)
	}

	posts, err := r.posts.ListByTagID(ctx, tagID)
	if err != nil {
		return nil, err
	}
	return postResults(posts), nil
}

func (r *Router) byUser(ctx context.Context, fragment string) ([]Result, error) {
	users, err := r.users.SearchByUsername(ctx, fragment)
	if err != nil {
		return nil, err
	}
	return userResults(users), nil
}

// byText は本文検索とユーザー名検索を並行に実行し、投稿、ユーザーの順に連結する。
func (r *Router) byText(ctx context.Context, text string) ([]Result, error) {
	var (
		posts []*model.Post
		users []*model.User
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		posts, err = r.posts.SearchByDescription(gctx, text)
		return err
	})
	g.Go(func() error {
		var err error
		users, err = r.users.SearchByUsername(gctx, text)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(posts)+len(users))
	results = append(results, postResults(posts)...)
	results = append(results, userResults(users)...)
	return results, nil
}

func postResults(posts []*model.Post) []Result {
	return lo.Map(posts, func(p *model.Post, _ int) Result {
		return PostResult(p.Summary())
	})
}

func userResults(users []*model.User) []Result {
	return lo.Map(users, func(u *model.User, _ int) Result {
		return UserResult(u.Summary())
	})
}
