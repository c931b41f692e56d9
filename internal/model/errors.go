// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// 呼び出し側はメッセージ文言ではなくCodeでエラー種別を判定する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, post, system
	Action   string // ユーザー向け対処方法
	EntityID string // 部分適用時などに作成済みエンティティのIDを伝える
	Cause    error  // ログ用の内部原因。レスポンスには含めない
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は内部原因を返す。
func (e *APIError) Unwrap() error {
	return e.Cause
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeUnavailable        = "UNAVAILABLE"
	ErrCodePartiallyApplied   = "PARTIALLY_APPLIED"
	ErrCodeRateLimited        = "RATE_LIMITED"
)

// unauthenticatedMessage は未認証エラーの固定メッセージ。
// 認証失敗の理由（トークン欠落・期限切れ・改ざん）によって変えてはならない。
const unauthenticatedMessage = "ログインが必要です。"

// IsCode はerrのチェーンに指定コードのAPIErrorが含まれるかを判定する。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  unauthenticatedMessage,
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレス不一致とパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewForbiddenError は所有権不足エラーを生成する。
func NewForbiddenError(resource, id string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この%sを変更する権限がありません: %s", resource, id),
		Category: "auth",
		Action:   "自分が作成したものだけを変更できます。",
	}
}

// NewNotFoundError は参照先エンティティ未検出エラーを生成する。
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された%sが見つかりません: %s", resource, id),
		Category: "post",
		Action:   "IDを確認してください。",
	}
}

// NewConflictError は一意制約違反エラーを生成する。
func NewConflictError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  fmt.Sprintf("この%sは既に使用されています。", field),
		Category: "validation",
		Action:   "別の値を指定してください。",
	}
}

// NewInvalidInputError は入力値検証エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnavailableError はバックエンドストア障害エラーを生成する。
// causeはログ出力用に保持し、ストア内部の詳細はメッセージに含めない。
func NewUnavailableError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeUnavailable,
		Message:  "データストアに一時的にアクセスできません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Cause:    cause,
	}
}

// NewPartiallyAppliedError は複数ステップの更新が途中までしか確定しなかったことを表す。
// entityIDには最初のステップで確定したエンティティのIDを設定する。
// 呼び出し側は自動リトライせず、状態を確認してから対処すること。
func NewPartiallyAppliedError(op, entityID string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodePartiallyApplied,
		Message:  fmt.Sprintf("%sは一部のみ反映されました。", op),
		Category: "system",
		Action:   "再実行する前に現在の状態を確認してください。",
		EntityID: entityID,
		Cause:    cause,
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
