package identity

import (
	"context"

	"github.com/hitoshi/postboard/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	callerContextKey = contextKey("caller")
	sourceContextKey = contextKey("source")
)

// WithCaller はコンテキストに呼び出し元を格納する。
func WithCaller(ctx context.Context, caller model.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// CallerFromContext はコンテキストから呼び出し元を取得する。
// 未設定の場合はAnonymousを返す。
func CallerFromContext(ctx context.Context) model.Caller {
	if caller, ok := ctx.Value(callerContextKey).(model.Caller); ok && caller != nil {
		return caller
	}
	return model.Anonymous{}
}

// WithSource はコンテキストに解決元を格納する。
func WithSource(ctx context.Context, source Source) context.Context {
	return context.WithValue(ctx, sourceContextKey, source)
}

// SourceFromContext は呼び出し元をどの資格情報から解決したかを返す。
// 未設定の場合はSourceAnonymous。
func SourceFromContext(ctx context.Context) Source {
	if source, ok := ctx.Value(sourceContextKey).(Source); ok {
		return source
	}
	return SourceAnonymous
}

// RequireAuthenticated は呼び出し元が認証済みであることを確認し、Principalを返す。
// 未認証の場合は理由を含まない固定メッセージのUNAUTHENTICATEDエラーを返す。
func RequireAuthenticated(ctx context.Context) (model.Principal, error) {
	switch caller := CallerFromContext(ctx).(type) {
	case model.Principal:
		return caller, nil
	case model.Anonymous:
		return model.Principal{}, model.NewUnauthenticatedError()
	default:
		return model.Principal{}, model.NewUnauthenticatedError()
	}
}

// UserIDFromContext は認証済みの場合にユーザーIDを返す。ログ出力やレート制限のキーに使う。
func UserIDFromContext(ctx context.Context) (string, bool) {
	if p, ok := CallerFromContext(ctx).(model.Principal); ok {
		return p.ID, true
	}
	return "", false
}
