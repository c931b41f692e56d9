package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/search"
)

type mockSearchService struct {
	searchFn func(ctx context.Context, raw string) ([]search.Result, error)
}

func (m *mockSearchService) Search(ctx context.Context, raw string) ([]search.Result, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, raw)
	}
	return nil, nil
}

func TestSearchHandler_ReturnsTaggedResults(t *testing.T) {
	var gotQuery string
	h := NewSearchHandler(&mockSearchService{
		searchFn: func(ctx context.Context, raw string) ([]search.Result, error) {
			gotQuery = raw
			return []search.Result{
				search.PostResult(model.PostSummary{ID: "p-1", Description: "go rocks", TagIDs: []string{}}),
				search.UserResult(model.UserSummary{ID: "u-1", Username: "gopher"}),
			}, nil
		},
	})

	w := httptest.NewRecorder()
	h.Search(w, httptest.NewRequest(http.MethodGet, "/api/search?q=go", nil))

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if gotQuery != "go" {
		t.Errorf("query = %q, want go", gotQuery)
	}

	var got []map[string]json.RawMessage
	if err := json.NewDecoder(w.Result().Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	if string(got[0]["type"]) != `"post"` || got[0]["post"] == nil {
		t.Errorf("first result = %v, want post", got[0])
	}
	if string(got[1]["type"]) != `"user"` || got[1]["user"] == nil {
		t.Errorf("second result = %v, want user", got[1])
	}
}

func TestSearchHandler_URLEncodedSigils(t *testing.T) {
	var gotQuery string
	h := NewSearchHandler(&mockSearchService{
		searchFn: func(ctx context.Context, raw string) ([]search.Result, error) {
			gotQuery = raw
			return nil, nil
		},
	})

	w := httptest.NewRecorder()
	h.Search(w, httptest.NewRequest(http.MethodGet, "/api/search?q=%23golang", nil))

	if gotQuery != "#golang" {
		t.Errorf("query = %q, want #golang", gotQuery)
	}
	// 0件は空配列で返す
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestSearchHandler_StoreFailure_Returns503(t *testing.T) {
	h := NewSearchHandler(&mockSearchService{
		searchFn: func(ctx context.Context, raw string) ([]search.Result, error) {
			return nil, model.NewUnavailableError(errors.New("timeout"))
		},
	})

	w := httptest.NewRecorder()
	h.Search(w, httptest.NewRequest(http.MethodGet, "/api/search?q=@al", nil))

	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusServiceUnavailable)
	}
}
