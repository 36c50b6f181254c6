// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/gradebook/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey        = contextKey("user")
	requestInfoContextKey = contextKey("request_info")
	requestIDContextKey   = contextKey("request_id")
)

// UserResolver はセッショントークンからユーザーを解決するインターフェース。
// auth.Serviceが実装する。
type UserResolver interface {
	CurrentUser(ctx context.Context, token string) (model.User, bool, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッショントークンを読み取り、
// 所有ユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない・無効なトークンには401、ストア障害には500を返す。
func NewSessionMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				http.Error(w, "missing session", http.StatusUnauthorized)
				return
			}

			user, found, err := resolver.CurrentUser(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			if !found {
				http.Error(w, "invalid session", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// UserFromContext はセッションミドルウェアが注入したユーザーを取得する。
func UserFromContext(ctx context.Context) (model.User, bool) {
	user, ok := ctx.Value(userContextKey).(model.User)
	return user, ok
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 未認証の場合はok=falseを返す。
func UserIDFromContext(ctx context.Context) (int64, bool) {
	if user, ok := UserFromContext(ctx); ok {
		return user.ID, true
	}
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok && info.userID != 0 {
		return info.userID, true
	}
	return 0, false
}

// ContextWithUser はコンテキストにユーザーを注入する。
// ロギングミドルウェアの内側で呼ばれた場合はアクセスログにもユーザーIDを残す。
func ContextWithUser(ctx context.Context, user model.User) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.userID = user.ID
	}
	return context.WithValue(ctx, userContextKey, user)
}
