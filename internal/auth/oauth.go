package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/hitoshi/postboard/internal/security"
)

// プロバイダー名
const (
	ProviderGitHub = "github"
	ProviderGoogle = "google"
)

const (
	githubUserInfoURL = "https://api.github.com/user"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	// userinfoレスポンスの上限
	maxUserInfoBytes = 1 << 20
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	Provider       string
	ProviderUserID string
	Login          string // GitHubのログイン名。Googleでは空
	Name           string
	Email          string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// Name はプロバイダー名を返す。
	Name() string
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ProviderConfig はOAuthプロバイダーの設定。
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	HTTPClient  *http.Client
}

// oauth2Provider はx/oauth2による認可コードフローの共通実装。
type oauth2Provider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	client      *http.Client
	authParams  []oauth2.AuthCodeOption
	parse       func(body []byte) (*OAuthUserInfo, error)
}

func newOAuth2Provider(name string, cfg ProviderConfig, endpoint oauth2.Endpoint, scopes []string, userInfoURL string) *oauth2Provider {
	if cfg.AuthURL != "" || cfg.TokenURL != "" {
		endpoint = oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
	if cfg.UserInfoURL != "" {
		userInfoURL = cfg.UserInfoURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = security.NewOutboundClient(security.DefaultOutboundTimeout)
	}
	return &oauth2Provider{
		name: name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		userInfoURL: userInfoURL,
		client:      client,
	}
}

// NewGitHubProvider はGitHubのOAuthプロバイダーを生成する。
func NewGitHubProvider(cfg ProviderConfig) OAuthProvider {
	p := newOAuth2Provider(ProviderGitHub, cfg, github.Endpoint, []string{"read:user", "user:email"}, githubUserInfoURL)
	p.parse = parseGitHubUser
	return p
}

// NewGoogleProvider はGoogleのOAuthプロバイダーを生成する。
func NewGoogleProvider(cfg ProviderConfig) OAuthProvider {
	p := newOAuth2Provider(ProviderGoogle, cfg, google.Endpoint, []string{"openid", "email", "profile"}, googleUserInfoURL)
	p.parse = parseGoogleUser
	p.authParams = []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("prompt", "select_account")}
	return p
}

func (p *oauth2Provider) Name() string {
	return p.name
}

func (p *oauth2Provider) GetLoginURL(state string) string {
	return p.config.AuthCodeURL(state, p.authParams...)
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *oauth2Provider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d", resp.StatusCode)
	}

	info, err := p.parse(body)
	if err != nil {
		return nil, err
	}
	info.Provider = p.name
	return info, nil
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func parseGitHubUser(body []byte) (*OAuthUserInfo, error) {
	var u githubUser
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("empty id in user info response")
	}
	return &OAuthUserInfo{
		ProviderUserID: strconv.FormatInt(u.ID, 10),
		Login:          u.Login,
		Name:           u.Name,
		Email:          u.Email,
	}, nil
}

type googleUser struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func parseGoogleUser(body []byte) (*OAuthUserInfo, error) {
	var u googleUser
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if u.Sub == "" {
		return nil, fmt.Errorf("empty sub in user info response")
	}
	return &OAuthUserInfo{
		ProviderUserID: u.Sub,
		Name:           u.Name,
		Email:          u.Email,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*oauth2Provider)(nil)
