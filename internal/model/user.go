// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
type User struct {
	ID           string
	Username     string
	Email        string // OAuthのみのユーザーは空になりうる
	PasswordHash string // OAuthのみのユーザーは空
	PostIDs      []string
	Tags         []string // 興味のあるタグのID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はOAuthログイン後のCookieセッションを表す。
// プロバイダーへのリダイレクトを跨いでOAuth由来の外部IDを運ぶ用途に限る。
type Session struct {
	ID        string
	Identity  ExternalIdentity
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserSummary は検索結果などで返すユーザーの公開情報。
type UserSummary struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	PostCount int       `json:"post_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary はUserを公開用のUserSummaryに変換する。
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Username:  u.Username,
		PostCount: len(u.PostIDs),
		CreatedAt: u.CreatedAt,
	}
}
