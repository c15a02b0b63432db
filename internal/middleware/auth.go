// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hirely/hirely-api/internal/auth"
	"github.com/hirely/hirely-api/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey  = contextKey("user")
	tokenContextKey = contextKey("access_token")
)

// Authenticator はAuthorizationヘッダからユーザーコンテキストを解決する。
// auth.Serviceの部分集合として定義する。
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (*model.User, string, error)
}

// NewAuthMiddleware はBearerトークンを検証し、ユーザーとトークンをコンテキストに注入する。
// 失敗時は401とWWW-Authenticate: Bearerを返す。
func NewAuthMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, token, err := authenticator.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				apiErr, ok := err.(*model.APIError)
				if !ok {
					apiErr = model.NewUnauthorizedError("")
				}
				WriteUnauthorized(w, apiErr)
				return
			}

			if info := requestInfoFromContext(r.Context()); info != nil {
				info.userID = user.ID
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user, token)))
		})
	}
}

// NewRequireActiveUserMiddleware は無効化されたユーザーのリクエストを400で拒否する。
// NewAuthMiddlewareの後に配置する。
func NewRequireActiveUserMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r.Context())
			if err != nil {
				WriteUnauthorized(w, model.NewUnauthorizedError(""))
				return
			}
			if err := auth.RequireActiveUser(user); err != nil {
				WriteErrorResponse(w, http.StatusBadRequest, err.(*model.APIError))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, err := UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	if user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// TokenFromContext は認証に使われたアクセストークンを取得する。
// ログアウトやパスワード変更などIdPへトークンを転送する操作で使用する。
func TokenFromContext(ctx context.Context) (string, error) {
	token, ok := ctx.Value(tokenContextKey).(string)
	if !ok || token == "" {
		return "", fmt.Errorf("access token not found in context")
	}
	return token, nil
}

// ContextWithUser はコンテキストにユーザーとアクセストークンを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User, token string) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return context.WithValue(ctx, tokenContextKey, token)
}
