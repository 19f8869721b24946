// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/sessionauth/internal/model"
	"github.com/hitoshi/sessionauth/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	accountContextKey     = contextKey("account")
	requestInfoContextKey = contextKey("request_info")
)

// SessionResolver はセッションCookieからアカウントを解決する。
// session.Workflowが実装する。
type SessionResolver interface {
	CurrentUser(ctx context.Context, jar session.CookieJar) (*model.Account, error)
}

// NewSessionMiddleware はセッションCookieを検証し、
// 解決したアカウントをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, err := resolver.CurrentUser(r.Context(), session.NewHTTPCookieJar(w, r))
			if err != nil {
				switch {
				case errors.Is(err, session.ErrNoSession):
				case errors.Is(err, session.ErrSessionInvalid), errors.Is(err, session.ErrProfileMissing):
					slog.Info("session rejected",
						slog.String("path", r.URL.Path),
						slog.String("reason", err.Error()),
					)
				default:
					slog.Error("failed to resolve session",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithAccount(r.Context(), account)))
		})
	}
}

// AccountFromContext はリクエストコンテキストからアカウントを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func AccountFromContext(ctx context.Context) (*model.Account, error) {
	account, ok := ctx.Value(accountContextKey).(*model.Account)
	if !ok || account == nil || account.ID == "" {
		return nil, errors.New("account not found in context")
	}
	return account, nil
}

// AccountIDFromContext はリクエストコンテキストからアカウントIDを取得する。
func AccountIDFromContext(ctx context.Context) (string, error) {
	account, err := AccountFromContext(ctx)
	if err != nil {
		return "", err
	}
	return account.ID, nil
}

// ContextWithAccount はコンテキストにアカウントを注入する。
// ロギングミドルウェアの内側で呼ばれた場合は、アクセスログにもアカウントIDを記録する。
func ContextWithAccount(ctx context.Context, account *model.Account) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok && account != nil {
		info.setAccountID(account.ID)
	}
	return context.WithValue(ctx, accountContextKey, account)
}

func writeUnauthorized(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}
