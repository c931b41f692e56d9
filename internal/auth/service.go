// Package auth はパスワード認証、ユーザー登録、OAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/repository"
)

// ユーザー名の制約
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,30}$`)

// usernameDisallowed はユーザー名に使えない文字にマッチする。
var usernameDisallowed = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// maxUsernameAttempts は連番を付けて空きユーザー名を探す回数の上限。
const maxUsernameAttempts = 20

// TokenIssuer はアクセストークンの発行インターフェース。
type TokenIssuer interface {
	Issue(principal model.Principal) (string, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Result はログイン・登録の結果。
type Result struct {
	Token string
	User  *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	providers   map[string]OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	tokens      TokenIssuer
	hasher      PasswordHasher
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。providersが空の場合はOAuthログインを提供しない。
func NewService(
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	tokens TokenIssuer,
	hasher PasswordHasher,
	config ServiceConfig,
	providers ...OAuthProvider,
) *Service {
	byName := make(map[string]OAuthProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Service{
		providers:   byName,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		hasher:      hasher,
		config:      config,
		now:         time.Now,
	}
}

// Register はユーザーを作成し、アクセストークンを発行する。
func (s *Service) Register(ctx context.Context, username, email, password string) (*Result, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if err := validateRegistration(username, email, password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if field, ok := repository.IsDuplicate(err); ok {
			return nil, model.NewConflictError(fieldLabel(field))
		}
		return nil, model.NewUnavailableError(err)
	}

	token, err := s.tokens.Issue(model.PrincipalOf(user))
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return &Result{Token: token, User: user}, nil
}

// Login はメールアドレスとパスワードで認証し、アクセストークンを発行する。
// メールアドレス不一致とパスワード不一致は同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, model.NewUnavailableError(err)
	}
	if user == nil || !s.hasher.Verify(user.PasswordHash, password) {
		return nil, model.NewInvalidCredentialsError()
	}

	token, err := s.tokens.Issue(model.PrincipalOf(user))
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return &Result{Token: token, User: user}, nil
}

// LoginURL はOAuth認証URLを生成する。
func (s *Service) LoginURL(provider, state string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", model.NewNotFoundError("認証プロバイダー", provider)
	}
	return p.GetLoginURL(state), nil
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録の外部IDの場合はusersレコードとidentitiesレコードを同時に作成する。
func (s *Service) HandleCallback(ctx context.Context, provider, code string) (*model.Session, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, model.NewNotFoundError("認証プロバイダー", provider)
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. 外部IDに紐付くユーザーを特定、なければ作成
	user, err := s.findOrCreateUser(ctx, info)
	if err != nil {
		return nil, err
	}

	// 3. セッションを発行
	session, err := s.createSession(ctx, model.ExternalIdentity{
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		DisplayName:    info.Name,
		Email:          info.Email,
		UserID:         user.ID,
		Username:       user.Username,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// Logout はセッションを破棄する。セッションが無い場合も成功とする。
// 発行済みのアクセストークンは失効しない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return model.NewUnavailableError(err)
	}
	slog.Info("user logged out")
	return nil
}

func (s *Service) findOrCreateUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		user, err := s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, fmt.Errorf("identity %s references missing user %s", identity.ID, identity.UserID)
		}
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
		return user, nil
	}

	username, err := s.availableUsername(ctx, info)
	if err != nil {
		return nil, err
	}

	// 既に使われているメールアドレスは引き継がない
	email := normalizeEmail(info.Email)
	if email != "" {
		existing, err := s.userRepo.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if existing != nil {
			email = ""
		}
	}

	now := s.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Username:  username,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}
	if err := s.userRepo.CreateWithIdentity(ctx, user, newIdentity); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

// availableUsername は外部IDの情報から未使用のユーザー名を導出する。
func (s *Service) availableUsername(ctx context.Context, info *OAuthUserInfo) (string, error) {
	base := deriveUsername(info)
	for i := 1; i <= maxUsernameAttempts; i++ {
		candidate := base
		if i > 1 {
			suffix := fmt.Sprintf("-%d", i)
			candidate = truncate(base, MaxUsernameLength-len(suffix)) + suffix
		}
		existing, err := s.userRepo.FindByUsername(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to find user by username: %w", err)
		}
		if existing == nil {
			return candidate, nil
		}
	}
	suffix := "-" + uuid.New().String()[:8]
	return truncate(base, MaxUsernameLength-len(suffix)) + suffix, nil
}

// deriveUsername はログイン名・表示名・メールアドレスの順に候補を選び、使用可能な文字だけを残す。
func deriveUsername(info *OAuthUserInfo) string {
	local, _, _ := strings.Cut(info.Email, "@")
	for _, raw := range []string{info.Login, info.Name, local} {
		name := usernameDisallowed.ReplaceAllString(raw, "")
		if name == "" {
			continue
		}
		if len(name) < MinUsernameLength {
			name += "_user"
		}
		return truncate(name, MaxUsernameLength)
	}
	return info.Provider + "_user"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// normalizeEmail はメールアドレスを比較・保存用に小文字へ揃える。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(username, email, password string) error {
	if !usernamePattern.MatchString(username) {
		return model.NewInvalidInputError(fmt.Sprintf(
			"ユーザー名は%d〜%d文字の英数字と_.-で入力してください", MinUsernameLength, MaxUsernameLength))
	}
	if at := strings.Index(email, "@"); at <= 0 || at == len(email)-1 {
		return model.NewInvalidInputError("メールアドレスの形式が正しくありません")
	}
	if len(password) < MinPasswordLength {
		return model.NewInvalidInputError(fmt.Sprintf("パスワードは%d文字以上で入力してください", MinPasswordLength))
	}
	if len(password) > MaxPasswordBytes {
		return model.NewInvalidInputError(fmt.Sprintf("パスワードは%dバイト以内で入力してください", MaxPasswordBytes))
	}
	return nil
}

func fieldLabel(field string) string {
	switch field {
	case "username":
		return "ユーザー名"
	case "email":
		return "メールアドレス"
	default:
		return field
	}
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, external model.ExternalIdentity) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		Identity:  external,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
