// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/idgate/internal/identity"
	"github.com/hitoshi/idgate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// StateSource は現在の解決済みアイデンティティ状態の供給元。
// identity.Resolverが実装する。
type StateSource interface {
	Current() identity.State
}

// NewRequireSignedInMiddleware はサインイン済み状態を要求するミドルウェアを返す。
// 状態ごとの画面判定はしない。セッションが紐づく状態であればユーザーIDを
// リクエストコンテキストに注入し、匿名状態には401を返す。
func NewRequireSignedInMiddleware(source StateSource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := source.Current()
			if st.Kind == identity.KindAnonymous || st.UserID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotSignedInError())
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, st.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRequireVerifiedMiddleware は承認済み状態を要求するミドルウェアを返す。
// 投稿・検索・メッセージなどのメイン機能はこのゲートの内側に置かれる。
// 承認済み以外の状態には403を返す。
func NewRequireVerifiedMiddleware(source StateSource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := source.Current()
			if st.Kind == identity.KindAnonymous || st.UserID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotSignedInError())
				return
			}
			if st.Kind != identity.KindVerified {
				WriteErrorResponse(w, http.StatusForbidden, model.NewNotVerifiedError())
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, st.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// アイデンティティミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
