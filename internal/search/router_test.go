package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/repository"
)

type fixture struct {
	store  *repository.MemoryStore
	router *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	router, err := NewRouter(store.Users(), store.Posts(), store.Tags(), 16, nil)
	require.NoError(t, err)
	return &fixture{store: store, router: router}
}

func (f *fixture) addUser(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, f.store.Users().Create(context.Background(), &model.User{ID: "id-" + name, Username: name}))
}

func (f *fixture) addPost(t *testing.T, id, author, text string, at time.Time, tagIDs ...string) {
	t.Helper()
	require.NoError(t, f.store.Posts().Create(context.Background(), &model.Post{
		ID: id, AuthorID: "id-" + author, Description: text, TagIDs: tagIDs, CreatedAt: at,
	}))
}

func kinds(results []Result) []Kind {
	out := make([]Kind, len(results))
	for i, r := range results {
		out[i] = r.Kind()
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		raw      string
		wantMode Mode
		wantTerm string
	}{
		{"#golang", ModeTag, "golang"},
		{"@ali", ModeUser, "ali"},
		{"hello world", ModeText, "hello world"},
		{"  #golang  ", ModeTag, "golang"},
		{" #go", ModeTag, "go"},
		{"\t@ali", ModeUser, "ali"},
		{"# go", ModeTag, " go"},
		{"#", ModeTag, ""},
		{"@", ModeUser, ""},
		{"", ModeText, ""},
		{"a#b", ModeText, "a#b"},
		{"＃全角", ModeText, "＃全角"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			mode, term := Classify(tt.raw)
			assert.Equal(t, tt.wantMode, mode)
			assert.Equal(t, tt.wantTerm, term)
		})
	}
}

func TestSearch_UserModeKeepsRepositoryOrder(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "Alice")
	f.addUser(t, "alibaba")
	f.addUser(t, "Bob")

	results, err := f.router.Search(context.Background(), "@ali")
	require.NoError(t, err)
	require.Len(t, results, 2)

	first, ok := results[0].User()
	require.True(t, ok)
	assert.Equal(t, "Alice", first.Username)
	second, ok := results[1].User()
	require.True(t, ok)
	assert.Equal(t, "alibaba", second.Username)
}

func TestSearch_UnknownTagIsEmpty(t *testing.T) {
	f := newFixture(t)

	results, err := f.router.Search(context.Background(), "#nonexistent-tag")
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearch_TagModeNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice")
	_, _, err := f.store.Tags().CreateIfAbsent(ctx, &model.Tag{ID: "t-go", Name: "go"})
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.addPost(t, "p1", "alice", "first", base, "t-go")
	f.addPost(t, "p2", "alice", "untagged", base.Add(time.Minute))
	f.addPost(t, "p3", "alice", "third", base.Add(2*time.Minute), "t-go")

	results, err := f.router.Search(ctx, "#go")
	require.NoError(t, err)
	require.Len(t, results, 2)

	p, ok := results[0].Post()
	require.True(t, ok)
	assert.Equal(t, "p3", p.ID)
	assert.Equal(t, "alice", p.AuthorUsername)
	p, _ = results[1].Post()
	assert.Equal(t, "p1", p.ID)

	// 大文字小文字は区別する
	results, err = f.router.Search(ctx, "#Go")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_TagCreatedAfterMissIsFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addUser(t, "alice")

	results, err := f.router.Search(ctx, "#late")
	require.NoError(t, err)
	assert.Empty(t, results)

	_, _, err = f.store.Tags().CreateIfAbsent(ctx, &model.Tag{ID: "t-late", Name: "late"})
	require.NoError(t, err)
	f.addPost(t, "p1", "alice", "tagged later", time.Now(), "t-late")

	results, err = f.router.Search(ctx, "#late")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearch_TextModePostsThenUsers(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "gopher")
	f.addUser(t, "rustacean")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.addPost(t, "p1", "rustacean", "I like GOPHER plushies", base)
	f.addPost(t, "p2", "gopher", "unrelated", base.Add(time.Minute))
	f.addPost(t, "p3", "rustacean", "another gopher post", base.Add(2*time.Minute))

	results, err := f.router.Search(context.Background(), "gopher")
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindPost, KindPost, KindUser}, kinds(results))

	p, _ := results[0].Post()
	assert.Equal(t, "p1", p.ID)
	p, _ = results[1].Post()
	assert.Equal(t, "p3", p.ID)
	u, _ := results[2].User()
	assert.Equal(t, "gopher", u.Username)
}

func TestSearch_EmptyTermsDoNotTouchRepositories(t *testing.T) {
	failing := &failingRepos{err: errors.New("must not be called")}
	router, err := NewRouter(failing, failing, failing, 0, nil)
	require.NoError(t, err)

	for _, q := range []string{"", "   ", "#", "@", " @ "} {
		results, err := router.Search(context.Background(), q)
		require.NoError(t, err, q)
		assert.Empty(t, results, q)
	}
	assert.Zero(t, failing.calls.Load())
}

func TestSearch_LikeMetacharactersAreLiteral(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "alice")
	f.addPost(t, "p1", "alice", "100% sure", time.Now())
	f.addPost(t, "p2", "alice", "1000 sure", time.Now())

	results, err := f.router.Search(context.Background(), "100%")
	require.NoError(t, err)
	require.Len(t, results, 1)
	p, _ := results[0].Post()
	assert.Equal(t, "p1", p.ID)
}

func TestSearch_RepositoryFailureIsUnavailable(t *testing.T) {
	failing := &failingRepos{err: errors.New("connection refused")}
	rec := &recorder{}
	router, err := NewRouter(failing, failing, failing, 0, rec)
	require.NoError(t, err)

	for _, q := range []string{"#go", "@ali", "text"} {
		_, err := router.Search(context.Background(), q)
		require.Error(t, err, q)
		assert.True(t, model.IsCode(err, model.ErrCodeUnavailable), q)
	}
	assert.Equal(t, []string{"tag", "user", "text"}, rec.failures)
}

func TestSearch_RecordsMetrics(t *testing.T) {
	store := repository.NewMemoryStore()
	rec := &recorder{}
	router, err := NewRouter(store.Users(), store.Posts(), store.Tags(), 0, rec)
	require.NoError(t, err)
	require.NoError(t, store.Users().Create(context.Background(), &model.User{ID: "u1", Username: "alice"}))

	_, err = router.Search(context.Background(), "@ali")
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, rec.modes)
	assert.Equal(t, []int{1}, rec.counts)
}

func TestResult_MarshalJSON(t *testing.T) {
	u, err := json.Marshal(UserResult(model.UserSummary{ID: "u1", Username: "alice", PostCount: 2}))
	require.NoError(t, err)
	var gotUser map[string]any
	require.NoError(t, json.Unmarshal(u, &gotUser))
	assert.Equal(t, "user", gotUser["type"])
	assert.Equal(t, "alice", gotUser["user"].(map[string]any)["username"])
	assert.NotContains(t, gotUser, "post")

	p, err := json.Marshal(PostResult(model.PostSummary{ID: "p1", Description: "hi", TagIDs: []string{}}))
	require.NoError(t, err)
	var gotPost map[string]any
	require.NoError(t, json.Unmarshal(p, &gotPost))
	assert.Equal(t, "post", gotPost["type"])
	assert.Equal(t, "hi", gotPost["post"].(map[string]any)["description"])
	assert.NotContains(t, gotPost, "user")

	_, err = json.Marshal(Result{})
	assert.Error(t, err)
}

func TestResult_AccessorsMatchKind(t *testing.T) {
	r := UserResult(model.UserSummary{ID: "u1"})
	_, ok := r.Post()
	assert.False(t, ok)
	_, ok = r.User()
	assert.True(t, ok)
}

type failingRepos struct {
	err   error
	calls atomic.Int32
}

func (f *failingRepos) SearchByUsername(context.Context, string) ([]*model.User, error) {
	f.calls.Add(1)
	return nil, f.err
}

func (f *failingRepos) ListByTagID(context.Context, string) ([]*model.Post, error) {
	f.calls.Add(1)
	return nil, f.err
}

func (f *failingRepos) SearchByDescription(context.Context, string) ([]*model.Post, error) {
	f.calls.Add(1)
	return nil, f.err
}

func (f *failingRepos) FindByName(context.Context, string) (*model.Tag, error) {
	f.calls.Add(1)
	return nil, f.err
}

type recorder struct {
	modes    []string
	counts   []int
	failures []string
}

func (r *recorder) RecordSearch(mode string, results int, _ time.Duration) {
	r.modes = append(r.modes, mode)
	r.counts = append(r.counts, results)
}

func (r *recorder) RecordSearchFailure(mode string) {
	r.failures = append(r.failures, mode)
}
