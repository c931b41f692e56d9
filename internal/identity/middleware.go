package identity

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/postboard/internal/model"
)

// SessionCookieName はOAuthログイン後のセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// ResolutionRecorder は解決元を記録する。metrics.Collectorが実装する。
type ResolutionRecorder interface {
	RecordIdentityResolution(source string)
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

// NewMiddleware はリクエストごとに1回だけ呼び出し元を解決し、コンテキストに格納するミドルウェアを返す。
// 資格情報が無い・不正な場合もリクエストは拒否せず、Anonymousとして後続に渡す。
// 拒否するかどうかは各操作がRequireAuthenticatedで判断する。
func NewMiddleware(resolver *Resolver, sessions SessionFinder, recorder ResolutionRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var creds Credentials

			// 1. Cookieからセッションを読み取る（読み取りのみ）
			if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
				session, err := sessions.FindByID(r.Context(), cookie.Value)
				if err != nil {
					slog.Warn("failed to load session, treating as no session",
						slog.String("error", err.Error()),
					)
				} else if session != nil {
					ext := session.Identity
					creds.External = &ext
				}
			}

			// 2. Bearerトークン
			if raw, ok := BearerToken(r); ok {
				creds.BearerToken = raw
			}

			// 3. 解決してコンテキストに注入
			caller, source := resolver.Resolve(creds)
			if recorder != nil {
				recorder.RecordIdentityResolution(string(source))
			}
			if source == SourceInvalidToken {
				slog.Debug("bearer token rejected",
					slog.String("path", r.URL.Path),
				)
			}

			ctx := WithSource(WithCaller(r.Context(), caller), source)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
