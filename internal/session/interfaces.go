package session

import (
	"context"
	"time"

	"github.com/hitoshi/sessionauth/internal/model"
)

// IdentityProvider はトークンの検証・発行とアカウント解決を行う外部コラボレーター。
// エラーはmodel.AuthErrorのコードで種別を表す。
type IdentityProvider interface {
	VerifyIDToken(ctx context.Context, idToken string) (string, error)
	IssueSessionToken(ctx context.Context, idToken string, ttl time.Duration) (string, error)
	VerifySessionToken(ctx context.Context, sessionToken string, checkRevoked bool) (string, error)
	// FindAccountByEmail は見つからない場合にコードauth/user-not-foundのエラーを返す。
	FindAccountByEmail(ctx context.Context, email string) (string, error)
}

// ProfileStore はアカウントIDをキーとするプロフィールドキュメントのストア。
type ProfileStore interface {
	// Get は見つからない場合にnil, nilを返す。
	Get(ctx context.Context, accountID string) (*model.Profile, error)
	Put(ctx context.Context, accountID string, profile model.Profile) error
}

// CookieJar はリクエスト・レスポンスのCookieチャネル。
type CookieJar interface {
	Set(name, value string, attrs CookieAttributes) error
	Get(name string) (string, bool)
	Delete(name string, attrs CookieAttributes)
}
