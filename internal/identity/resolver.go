// Package identity はリクエストの資格情報から呼び出し元を解決し、
// 認証必須操作のガードを提供する。
//
// 解決は1リクエストにつき1回だけ行い、結果はコンテキストに格納する。
// ハンドラーやサービスは資格情報を直接読まず、CallerFromContext と
// RequireAuthenticated だけを使う。
package identity

import (
	"github.com/hitoshi/postboard/internal/model"
)

// Source は呼び出し元をどの資格情報から解決したかを表す。
type Source string

// 解決元
const (
	SourceOAuth        Source = "oauth"
	SourceBearer       Source = "bearer"
	SourceAnonymous    Source = "anonymous"
	SourceInvalidToken Source = "invalid_token"
)

// TokenVerifier はBearerトークンを検証する。token.Codecが実装する。
type TokenVerifier interface {
	Verify(raw string) (model.Principal, error)
}

// Credentials は1リクエスト分の資格情報。
type Credentials struct {
	BearerToken string                  // Authorizationヘッダーのトークン。無ければ空
	External    *model.ExternalIdentity // セッションCookieから読み込んだOAuth由来のID。無ければnil
}

// Resolver は資格情報から呼び出し元を決定する。共有状態を持たず並行利用できる。
type Resolver struct {
	verifier TokenVerifier
}

// NewResolver はResolverを生成する。
func NewResolver(verifier TokenVerifier) *Resolver {
	return &Resolver{verifier: verifier}
}

// Resolve は資格情報を優先順に評価し、最初に成功したものから呼び出し元を返す。
// 紐付け済みのOAuth ID、Bearerトークンの順に評価し、いずれも無ければAnonymousを返す。
// 複数の資格情報を組み合わせることはなく、エラーも返さない。
func (r *Resolver) Resolve(creds Credentials) (model.Caller, Source) {
	if ext := creds.External; ext != nil && ext.Linked() {
		return model.Principal{
			ID:       ext.UserID,
			Username: ext.Username,
			Email:    ext.Email,
		}, SourceOAuth
	}

	if creds.BearerToken != "" {
		principal, err := r.verifier.Verify(creds.BearerToken)
		if err != nil {
			return model.Anonymous{}, SourceInvalidToken
		}
		return principal, SourceBearer
	}

	return model.Anonymous{}, SourceAnonymous
}
