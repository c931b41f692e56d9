package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/postboard/internal/identity"
	"github.com/hitoshi/postboard/internal/model"
)

// --- テスト用モック ---

type mockSessionFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// rejectAllVerifier はすべてのトークンを拒否する。
type rejectAllVerifier struct{}

func (rejectAllVerifier) Verify(string) (model.Principal, error) {
	return model.Principal{}, errors.New("invalid token")
}

// acceptVerifier は"good-token"だけを受け付ける。
type acceptVerifier struct{}

func (acceptVerifier) Verify(raw string) (model.Principal, error) {
	if raw == "good-token" {
		return model.Principal{ID: "user-bearer", Username: "bearer"}, nil
	}
	return model.Principal{}, errors.New("invalid token")
}

func linkedSession(id, userID string) *model.Session {
	return &model.Session{
		ID:        id,
		Identity:  model.ExternalIdentity{Provider: "github", ProviderUserID: "42", UserID: userID, Username: "octocat"},
		ExpiresAt: time.Now().Add(1 * time.Hour),
	}
}

// newTestChain はrouter.goと同じ順序でミドルウェアを組み立てる。
// Recovery -> SecurityHeaders -> CORS -> Identity -> Logging -> RateLimit -> CSRF
func newTestChain(t *testing.T, logBuf *bytes.Buffer, sessions identity.SessionFinder, h http.Handler) http.Handler {
	t.Helper()
	rl := NewRateLimiter(testLimiterConfig(100, 10))
	t.Cleanup(rl.Stop)

	logger := slog.New(slog.NewJSONHandler(logBuf, nil))
	identityMW := identity.NewMiddleware(identity.NewResolver(acceptVerifier{}), sessions, nil)

	return NewRecoveryMiddleware()(
		NewSecurityHeadersMiddleware(false)(
			NewCORSMiddleware("http://localhost:3000")(
				identityMW(
					NewLoggingMiddleware(logger, nil)(
						rl.GeneralMiddleware()(
							NewCSRFMiddleware(CSRFConfig{})(h)))))))
}

// TestMiddlewareChain_SessionCallerReachesHandlerAndLog は
// Cookieセッションから解決した呼び出し元がハンドラーとアクセスログの両方に届くことを検証する。
func TestMiddlewareChain_SessionCallerReachesHandlerAndLog(t *testing.T) {
	sessions := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return linkedSession(id, "user-chain-test"), nil
		},
	}

	var capturedUserID string
	var buf bytes.Buffer
	handler := newTestChain(t, &buf, sessions, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUserID, _ = identity.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: identity.SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedUserID != "user-chain-test" {
		t.Errorf("userID = %q, want %q", capturedUserID, "user-chain-test")
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry["user_id"] != "user-chain-test" {
		t.Errorf("logged user_id = %v, want %q", entry["user_id"], "user-chain-test")
	}
	if w.Result().Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be set")
	}
}

// TestMiddlewareChain_AnonymousPassesThrough は
// 資格情報の無いリクエストもチェーンでは拒否されず、Anonymousとしてハンドラーに届くことを検証する。
func TestMiddlewareChain_AnonymousPassesThrough(t *testing.T) {
	var caller model.Caller
	var buf bytes.Buffer
	handler := newTestChain(t, &buf, &mockSessionFinder{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller = identity.CallerFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/posts", nil))

	if _, ok := caller.(model.Anonymous); !ok {
		t.Errorf("caller = %#v, want Anonymous", caller)
	}
}

// TestMiddlewareChain_BearerPOSTSkipsCSRF は
// Bearerトークンで認証した状態変更リクエストにはCSRFトークンが不要であることを検証する。
func TestMiddlewareChain_BearerPOSTSkipsCSRF(t *testing.T) {
	handlerCalled := false
	var buf bytes.Buffer
	handler := newTestChain(t, &buf, &mockSessionFinder{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/posts", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusCreated)
	}
	if !handlerCalled {
		t.Error("handler should have been called")
	}
}

// TestMiddlewareChain_SessionPOSTRequiresCSRF は
// Cookieセッションでの状態変更リクエストにCSRFトークンが必要であることを検証する。
func TestMiddlewareChain_SessionPOSTRequiresCSRF(t *testing.T) {
	sessions := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return linkedSession(id, "user-post-test"), nil
		},
	}
	var buf bytes.Buffer
	handler := newTestChain(t, &buf, sessions, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/posts", nil)
	req.AddCookie(&http.Cookie{Name: identity.SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusForbidden {
		t.Errorf("without token: status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/posts", nil)
	req.AddCookie(&http.Cookie{Name: identity.SessionCookieName, Value: "valid-session"})
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "csrf-value"})
	req.Header.Set(csrfHeaderName, "csrf-value")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("with token: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

// TestMiddlewareChain_PanicIsRecovered はハンドラーのpanicが統一フォーマットの500になることを検証する。
func TestMiddlewareChain_PanicIsRecovered(t *testing.T) {
	var buf bytes.Buffer
	handler := newTestChain(t, &buf, &mockSessionFinder{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/posts", nil))

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
}

// TestMiddlewareChain_SessionWithBearerHeader は
// Cookieセッションが優先されたリクエストはBearerヘッダーがあってもCSRF検証を受けることを検証する。
func TestMiddlewareChain_SessionWithBearerHeader(t *testing.T) {
	sessions := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id == "valid-session" {
				return linkedSession(id, "user-cookie"), nil
			}
			return nil, nil
		},
	}

	tests := []struct {
		name       string
		sessionID  string
		bearer     string
		wantStatus int
		wantCaller string
	}{
		{"linked session with junk bearer", "valid-session", "junk", http.StatusForbidden, ""},
		{"linked session with valid bearer", "valid-session", "good-token", http.StatusForbidden, ""},
		{"unknown session with valid bearer", "stale-session", "good-token", http.StatusNoContent, "user-bearer"},
		{"unknown session with junk bearer", "stale-session", "junk", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var caller string
			var buf bytes.Buffer
			handler := newTestChain(t, &buf, sessions, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p, err := identity.RequireAuthenticated(r.Context())
				if err != nil {
					WriteAPIError(w, model.NewUnauthenticatedError())
					return
				}
				caller = p.ID
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/posts", nil)
			req.AddCookie(&http.Cookie{Name: identity.SessionCookieName, Value: tt.sessionID})
			req.Header.Set("Authorization", "Bearer "+tt.bearer)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if caller != tt.wantCaller {
				t.Errorf("caller = %q, want %q", caller, tt.wantCaller)
			}
		})
	}
}
