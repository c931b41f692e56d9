package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/postboard/internal/identity"
	"github.com/hitoshi/postboard/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通確認する依存先。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     identity.SessionFinder
	TokenVerifier     identity.TokenVerifier
	IdentityRecorder  identity.ResolutionRecorder
	StatusRecorder    middleware.StatusRecorder
	Logger            *slog.Logger
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 運用エンドポイント
	HealthChecker  HealthChecker // nilなら常に正常
	MetricsHandler http.Handler  // nilなら/metricsを公開しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドメイン
	UserService   UserServiceInterface
	PostService   PostServiceInterface
	TagService    TagServiceInterface
	SearchService SearchServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → SecurityHeaders → CORS → Identity → Logging → RateLimit(General) → CSRF
//
// 呼び出し元はIdentityで1回だけ解決する。認証の要否は各サービスの操作が判断するため、
// ルーター上では公開ルートと認証必須ルートを分けない。
// /healthと/metricsはCORS以降のチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	postHandler := NewPostHandler(deps.PostService)
	tagHandler := NewTagHandler(deps.TagService)
	searchHandler := NewSearchHandler(deps.SearchService)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(identity.NewMiddleware(identity.NewResolver(deps.TokenVerifier), deps.SessionFinder, deps.IdentityRecorder))
		r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		loginLimit := deps.RateLimiter.LoginMiddleware()

		// OAuthフロー
		r.Route("/auth/{provider}", func(r chi.Router) {
			r.Get("/login", authHandler.OAuthLogin)
			r.Get("/callback", authHandler.OAuthCallback)
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

			// 認証（ログイン・登録は専用レート制限を追加）
			r.With(loginLimit).Post("/auth/login", authHandler.Login)
			r.Post("/auth/logout", authHandler.Logout)

			r.Get("/search", searchHandler.Search)

			// ユーザー
			r.Get("/me", userHandler.Me)
			r.Put("/me/tags", userHandler.UpdateTags)
			r.Route("/users", func(r chi.Router) {
				r.Get("/", userHandler.ListUsers)
				r.With(loginLimit).Post("/", authHandler.Register)
				r.Get("/{username}", userHandler.GetUser)
			})

			// 投稿
			r.Route("/posts", func(r chi.Router) {
				r.Get("/", postHandler.ListPosts)
				r.Post("/", postHandler.CreatePost)
				r.Post("/text", postHandler.AddPost)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", postHandler.GetPost)
					r.Delete("/", postHandler.RemovePost)
					r.Post("/likes", postHandler.Like)
					r.Put("/tags", postHandler.UpdateTags)
					r.Post("/comments", postHandler.AddComment)
					r.Delete("/comments/{commentId}", postHandler.RemoveComment)
				})
			})

			// タグ
			r.Route("/tags", func(r chi.Router) {
				r.Get("/", tagHandler.ListTags)
				r.Post("/", tagHandler.CreateTag)
				r.Get("/{id}", tagHandler.GetTag)
			})
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
