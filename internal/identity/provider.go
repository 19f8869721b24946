// Package identity はIDトークンの検証、セッショントークンの発行・検証、
// アカウント台帳の参照を行うIdentity Providerを提供する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/sessionauth/internal/model"
	"github.com/hitoshi/sessionauth/internal/repository"
)

// セッショントークンの有効期間の上下限。
const (
	MinSessionTTL = 5 * time.Minute
	MaxSessionTTL = 14 * 24 * time.Hour
)

// sessionIssuer はセッショントークンのiss。IDトークンと取り違えないよう固定値にする。
const sessionIssuer = "sessionauth"

// Config はProviderの設定。
type Config struct {
	// IDトークンのiss・aud
	Issuer   string
	Audience string

	// セッショントークンのHS256署名鍵
	SessionSecret []byte

	// セッション発行に必要な直近認証からの最大経過時間
	MaxAuthAge time.Duration

	// アカウント台帳・失効ストア呼び出しのタイムアウト
	Timeout time.Duration
}

// Provider はIdentity Providerの実装。
type Provider struct {
	config      Config
	keys        *KeySet
	accounts    repository.AccountRepository
	revocations RevocationStore
	now         func() time.Time
}

// Option はProviderのオプション設定。
type Option func(*Provider)

// WithClock は現在時刻の取得関数を差し替える（テスト用）。
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// NewProvider はProviderを生成する。
func NewProvider(
	config Config,
	keys *KeySet,
	accounts repository.AccountRepository,
	revocations RevocationStore,
	opts ...Option,
) (*Provider, error) {
	if len(config.SessionSecret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	if config.Issuer == "" || config.Audience == "" {
		return nil, errors.New("id token issuer and audience are required")
	}
	if config.MaxAuthAge <= 0 {
		config.MaxAuthAge = 5 * time.Minute
	}

	p := &Provider{
		config:      config,
		keys:        keys,
		accounts:    accounts,
		revocations: revocations,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Close は鍵のバックグラウンド更新を停止する。
func (p *Provider) Close() {
	p.keys.Close()
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.config.Timeout)
}

// VerifyIDToken はIDトークンを検証し、アカウントID（sub）を返す。
func (p *Provider) VerifyIDToken(ctx context.Context, idToken string) (string, error) {
	claims, err := p.parseIDToken(idToken)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// IssueSessionToken はIDトークンを検証し、ttl有効なセッショントークンを発行する。
// IDトークンのauth_timeがMaxAuthAgeより古い場合は再認証を要求する。
func (p *Provider) IssueSessionToken(ctx context.Context, idToken string, ttl time.Duration) (string, error) {
	if ttl < MinSessionTTL || ttl > MaxSessionTTL {
		return "", model.NewAuthError(model.CodeInvalidSessionCookieTTL,
			fmt.Errorf("ttl %s is outside [%s, %s]", ttl, MinSessionTTL, MaxSessionTTL))
	}

	claims, err := p.parseIDToken(idToken)
	if err != nil {
		return "", err
	}

	now := p.now()
	authTime := claims.AuthTime.Time
	if now.Sub(authTime) > p.config.MaxAuthAge {
		return "", model.NewAuthError(model.CodeRecentSignInRequired,
			fmt.Errorf("authenticated %s ago", now.Sub(authTime).Truncate(time.Second)))
	}

	session := sessionClaims{
		AuthTime: jwt.NewNumericDate(authTime),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   claims.Subject,
			Audience:  jwt.ClaimStrings{p.config.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, session).SignedString(p.config.SessionSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	slog.Debug("session token issued",
		slog.String("account_id", claims.Subject),
		slog.String("jti", session.ID),
	)
	return token, nil
}

// VerifySessionToken はセッショントークンを検証し、アカウントIDを返す。
// checkRevokedがtrueの場合、アカウントの存在と失効時刻も確認する。
func (p *Provider) VerifySessionToken(ctx context.Context, sessionToken string, checkRevoked bool) (string, error) {
	claims, err := p.parseSessionToken(sessionToken)
	if err != nil {
		return "", err
	}
	if !checkRevoked {
		return claims.Subject, nil
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	exists, err := p.accounts.Exists(ctx, claims.Subject)
	if err != nil {
		return "", model.NewAuthError(model.CodeProviderUnavailable, err)
	}
	if !exists {
		return "", model.NewAuthError(model.CodeUserNotFound,
			fmt.Errorf("account %s no longer exists", claims.Subject))
	}

	validAfter, ok, err := p.revocations.ValidAfter(ctx, claims.Subject)
	if err != nil {
		return "", model.NewAuthError(model.CodeProviderUnavailable, err)
	}
	if ok && claims.AuthTime.Time.Before(validAfter) {
		return "", model.NewAuthError(model.CodeSessionCookieRevoked,
			fmt.Errorf("session authenticated before %s", validAfter.UTC().Format(time.RFC3339)))
	}

	return claims.Subject, nil
}

// FindAccountByEmail はemailでアカウントIDを解決する。
// 見つからない場合はコードauth/user-not-foundのエラーを返す。
func (p *Provider) FindAccountByEmail(ctx context.Context, email string) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	id, err := p.accounts.FindIDByEmail(ctx, email)
	if err != nil {
		return "", model.NewAuthError(model.CodeProviderUnavailable, err)
	}
	if id == "" {
		return "", model.NewAuthError(model.CodeUserNotFound, fmt.Errorf("no account for %s", email))
	}
	return id, nil
}

// CreateAccount はアカウントを作成し、払い出したIDを返す。
// emailが使用済みの場合はコードauth/email-already-existsのエラーを返す。
func (p *Provider) CreateAccount(ctx context.Context, email string) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	id := uuid.New().String()
	if err := p.accounts.Create(ctx, id, email); err != nil {
		return "", err
	}

	slog.Info("account created", slog.String("account_id", id))
	return id, nil
}

// RevokeSessions は現時点までに認証されたアカウントの全セッションを失効させる。
func (p *Provider) RevokeSessions(ctx context.Context, accountID string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	exists, err := p.accounts.Exists(ctx, accountID)
	if err != nil {
		return model.NewAuthError(model.CodeProviderUnavailable, err)
	}
	if !exists {
		return model.NewAuthError(model.CodeUserNotFound, fmt.Errorf("account %s not found", accountID))
	}

	if err := p.revocations.Revoke(ctx, accountID, p.now()); err != nil {
		return model.NewAuthError(model.CodeProviderUnavailable, err)
	}

	slog.Info("sessions revoked", slog.String("account_id", accountID))
	return nil
}
