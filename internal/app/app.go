package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/hitoshi/postboard/internal/auth"
	"github.com/hitoshi/postboard/internal/config"
	"github.com/hitoshi/postboard/internal/database"
	"github.com/hitoshi/postboard/internal/handler"
	"github.com/hitoshi/postboard/internal/logger"
	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/post"
	"github.com/hitoshi/postboard/internal/repository"
	"github.com/hitoshi/postboard/internal/search"
	"github.com/hitoshi/postboard/internal/security"
	"github.com/hitoshi/postboard/internal/tag"
	"github.com/hitoshi/postboard/internal/token"
	"github.com/hitoshi/postboard/internal/user"
	"github.com/hitoshi/postboard/internal/worker/cleanup"
)

// cleanupInterval は期限切れセッション削除の実行間隔。
const cleanupInterval = time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer, opts ...config.Option) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	var opts []config.Option
	if UseMemoryStore(args) {
		opts = append(opts, config.WithMemoryStore())
	}

	cfg, err := Init(w, opts...)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("memory_store", cfg.MemoryStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// stores はストレージ種別ごとに組み立てたリポジトリ一式。
type stores struct {
	db    *sql.DB
	redis *redis.Client

	users      repository.UserRepository
	identities repository.IdentityRepository
	sessions   repository.SessionRepository
	posts      repository.PostRepository
	tags       repository.TagRepository

	// cleaner はセッションの定期削除先。RedisのセッションはTTLで消えるためnil。
	cleaner repository.SessionCleaner
}

// openStores は設定に応じてインメモリまたはPostgreSQLのストアを開く。
// REDIS_URLがあればセッションだけRedisに置く。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}

	if cfg.MemoryStore {
		mem := repository.NewMemoryStore()
		st.users = mem.Users()
		st.identities = mem.Identities()
		st.posts = mem.Posts()
		st.tags = mem.Tags()
		sessions := mem.Sessions()
		st.sessions, st.cleaner = sessions, sessions
		slog.Info("using in-memory store")
	} else {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("database connection established")

		st.db = db
		st.users = repository.NewPostgresUserRepo(db)
		st.identities = repository.NewPostgresIdentityRepo(db)
		st.posts = repository.NewPostgresPostRepo(db)
		st.tags = repository.NewPostgresTagRepo(db)
		sessions := repository.NewPostgresSessionRepo(db)
		st.sessions, st.cleaner = sessions, sessions
	}

	if cfg.RedisURL != "" {
		client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis session store enabled")
		st.redis = client
		st.sessions = repository.NewRedisSessionRepo(client)
		st.cleaner = nil
	}

	return st, nil
}

// Close は開いている接続を閉じる。
func (s *stores) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}

// healthChecker はDBがあればそれを、なければnilを返す。
// nilの*sql.DBをインターフェースに入れないようにする。
func (s *stores) healthChecker() handler.HealthChecker {
	if s.db == nil {
		return nil
	}
	return s.db
}

// newRegistry はGo/プロセスのコレクターを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// rateLimiterConfig は設定のreq/minをreq/secに変換する。バーストは1分間の上限と同じにする。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitLogin > 0 {
		rl.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
		rl.LoginBurst = cfg.RateLimitLogin
	}
	return rl
}

// oauthProviders は資格情報が揃っているプロバイダーだけを返す。
func oauthProviders(cfg *config.Config) []auth.OAuthProvider {
	outbound := security.NewOutboundClient(security.DefaultOutboundTimeout)

	var providers []auth.OAuthProvider
	if cfg.GitHubEnabled() {
		providers = append(providers, auth.NewGitHubProvider(auth.ProviderConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
			HTTPClient:   outbound,
		}))
	}
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleProvider(auth.ProviderConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPClient:   outbound,
		}))
	}
	return providers
}

// buildRouter は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
// 戻り値のRateLimiterはサーバー停止時にStopすること。
func buildRouter(cfg *config.Config, st *stores, reg *prometheus.Registry, collector *metrics.Collector) (http.Handler, *middleware.RateLimiter, error) {
	sanitizer := security.NewTextSanitizer()

	codec, err := token.NewCodec(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	searchRouter, err := search.NewRouter(st.users, st.posts, st.tags, cfg.TagCacheSize, collector)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create search router: %w", err)
	}

	authService := auth.NewService(
		st.users, st.identities, st.sessions,
		codec, auth.NewBcryptHasher(bcrypt.DefaultCost),
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
		oauthProviders(cfg)...,
	)
	postService := post.NewService(
		st.posts, st.users, st.tags, sanitizer, collector,
		post.Config{SecondWriteTimeout: cfg.SecondWriteTimeout},
	)

	limiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))

	deps := &handler.RouterDeps{
		SessionFinder:     st.sessions,
		TokenVerifier:     codec,
		IdentityRecorder:  collector,
		StatusRecorder:    collector,
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: limiter,

		HealthChecker:  st.healthChecker(),
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		UserService:   user.NewService(st.users, st.posts, st.tags, collector),
		PostService:   postService,
		TagService:    tag.NewService(st.tags, sanitizer, collector),
		SearchService: searchRouter,
	}

	return handler.NewRouter(deps), limiter, nil
}

// newCleanupJob はセッション削除ジョブを返す。削除対象のストアがなければnil。
func newCleanupJob(cfg *config.Config, st *stores, recorder cleanup.Recorder) *cleanup.CleanupJob {
	if st.cleaner == nil {
		return nil
	}
	job := cleanup.NewCleanupJob(st.cleaner, recorder, slog.Default())
	job.RetentionDays = cfg.SessionRetentionDays
	return job
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := newRegistry()
	collector := metrics.NewCollector(reg)
	router, limiter, err := buildRouter(cfg, st, reg, collector)
	if err != nil {
		return err
	}
	defer limiter.Stop()

	// インメモリストアはワーカープロセスと共有できないため、サーバー内で削除ジョブを回す
	if cfg.MemoryStore {
		if job := newCleanupJob(cfg, st, collector); job != nil {
			go job.Start(ctx, cleanupInterval)
		}
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除ジョブを起動直後と以降1時間ごとに実行し、ctxのキャンセルで終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.MemoryStore {
		return fmt.Errorf("worker requires DATABASE_URL: in-memory sessions are cleaned by the server process")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// ワーカーは/metricsを公開しないため、削除件数はログにだけ残す
	job := newCleanupJob(cfg, st, metrics.Nop{})
	if job == nil {
		slog.Info("sessions are stored in redis; nothing to clean up")
		<-ctx.Done()
		return nil
	}

	slog.Info("worker starting",
		slog.Duration("interval", cleanupInterval),
		slog.Int("retention_days", job.RetentionDays),
	)
	job.Start(ctx, cleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.MemoryStore {
		return fmt.Errorf("migrate requires DATABASE_URL")
	}

	current, dirty, err := database.Status(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		// 前回の失敗したマイグレーションを手動で解消するまで進めない
		return fmt.Errorf("schema version %d is dirty", current)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Uint64("current_version", uint64(current)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
