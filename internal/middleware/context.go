// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"

	"github.com/hitoshi/authbridge/internal/credential"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// claimsContextKey はアクセスガードが検証したクレームを格納するキー。
var claimsContextKey = contextKey("claims")

// ContextWithClaims はコンテキストに検証済みクレームを注入する。
func ContextWithClaims(ctx context.Context, claims *credential.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext はアクセスガードを通過したリクエストのクレームを取得する。
func ClaimsFromContext(ctx context.Context) (*credential.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*credential.Claims)
	return claims, ok && claims != nil
}

// logFieldsKey はロギングミドルウェアが用意するリクエスト単位のログ項目を格納するキー。
var logFieldsKey = contextKey("log_fields")

// logFields は内側のハンドラーから外側のロギングミドルウェアへ渡すログ項目。
type logFields struct {
	userID string
	role   string
}

// AnnotateUser はリクエストログに認証済みユーザーを記録する。
// ロギングミドルウェアを経由しないリクエストでは何もしない。
func AnnotateUser(ctx context.Context, userID, role string) {
	if f, ok := ctx.Value(logFieldsKey).(*logFields); ok {
		f.userID = userID
		f.role = role
	}
}
