package model

// Caller はリクエストを発行した主体を表す。
// 実装はPrincipalとAnonymousのみで、型スイッチで網羅的に判定できる。
type Caller interface {
	caller()
}

// Principal は検証済みの呼び出し元ID。1リクエストの間は不変。
type Principal struct {
	ID       string
	Username string
	Email    string
}

// Anonymous は検証済みIDがないことを表す。
// nilのPrincipalではなく独立した型として扱う。
type Anonymous struct{}

func (Principal) caller() {}
func (Anonymous) caller() {}

// ExternalIdentity はOAuthプロバイダーが検証した外部ID。
// UserID、Usernameはユーザーとの紐付け後に設定される。
type ExternalIdentity struct {
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
	DisplayName    string `json:"display_name"`
	Email          string `json:"email,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Username       string `json:"username,omitempty"`
}

// Linked はユーザーとの紐付けが完了しているかを返す。
func (e ExternalIdentity) Linked() bool {
	return e.UserID != ""
}

// PrincipalOf はUserからPrincipalを生成する。
func PrincipalOf(u *User) Principal {
	return Principal{ID: u.ID, Username: u.Username, Email: u.Email}
}
