package identity

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/sessionauth/internal/model"
	"github.com/hitoshi/sessionauth/internal/repository"
)

const (
	testIssuer        = "https://issuer.example.com"
	testAudience      = "sessionauth-web"
	testIDTokenSecret = "idtoken-hmac-secret-for-tests"
	testSessionSecret = "test-session-secret-32bytes-long!"
)

// mockAccountRepo はAccountRepositoryのモック。
type mockAccountRepo struct {
	createFn        func(ctx context.Context, id, email string) error
	findIDByEmailFn func(ctx context.Context, email string) (string, error)
	existsFn        func(ctx context.Context, id string) (bool, error)
}

func (m *mockAccountRepo) Create(ctx context.Context, id, email string) error {
	if m.createFn != nil {
		return m.createFn(ctx, id, email)
	}
	return nil
}

func (m *mockAccountRepo) FindIDByEmail(ctx context.Context, email string) (string, error) {
	if m.findIDByEmailFn != nil {
		return m.findIDByEmailFn(ctx, email)
	}
	return "", nil
}

func (m *mockAccountRepo) Exists(ctx context.Context, id string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, id)
	}
	return true, nil
}

var _ repository.AccountRepository = (*mockAccountRepo)(nil)

// testClock はテスト中に進められる時計。
type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type providerFixture struct {
	provider *Provider
	accounts *mockAccountRepo
	redis    *miniredis.Miniredis
	clock    *testClock
}

func newProviderFixture(t *testing.T) *providerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := &testClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	accounts := &mockAccountRepo{}

	p, err := NewProvider(Config{
		Issuer:        testIssuer,
		Audience:      testAudience,
		SessionSecret: []byte(testSessionSecret),
		MaxAuthAge:    5 * time.Minute,
		Timeout:       time.Second,
	},
		NewHMACKeySet([]byte(testIDTokenSecret)),
		accounts,
		NewRedisRevocationStore(client, MaxSessionTTL),
		WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	return &providerFixture{provider: p, accounts: accounts, redis: mr, clock: clock}
}

// mintIDToken は開発用HMAC鍵で署名したIDトークンを生成する。
func mintIDToken(t *testing.T, sub string, authTime, issuedAt time.Time, mutate ...func(*idTokenClaims)) string {
	t.Helper()

	claims := &idTokenClaims{
		AuthTime: jwt.NewNumericDate(authTime),
		Email:    sub + "@x.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
		},
	}
	for _, m := range mutate {
		m(claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = HMACKeyID
	signed, err := token.SignedString([]byte(testIDTokenSecret))
	if err != nil {
		t.Fatalf("failed to sign id token: %v", err)
	}
	return signed
}

func assertCode(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", want)
	}
	if got := model.AuthErrorCode(err); got != want {
		t.Fatalf("code = %q, want %q (err: %v)", got, want, err)
	}
}

func TestNewProvider_ShortSessionSecret_ReturnsError(t *testing.T) {
	_, err := NewProvider(Config{
		Issuer:        testIssuer,
		Audience:      testAudience,
		SessionSecret: []byte("short"),
	}, NewHMACKeySet([]byte(testIDTokenSecret)), &mockAccountRepo{}, nil)
	if err == nil {
		t.Fatal("expected error for short session secret")
	}
}

func TestNewProvider_MissingIssuer_ReturnsError(t *testing.T) {
	_, err := NewProvider(Config{
		Audience:      testAudience,
		SessionSecret: []byte(testSessionSecret),
	}, NewHMACKeySet([]byte(testIDTokenSecret)), &mockAccountRepo{}, nil)
	if err == nil {
		t.Fatal("expected error for missing issuer")
	}
}

func TestVerifyIDToken_Valid_ReturnsSubject(t *testing.T) {
	f := newProviderFixture(t)
	now := f.clock.Now()

	uid, err := f.provider.VerifyIDToken(context.Background(), mintIDToken(t, "u1", now, now))
	if err != nil {
		t.Fatalf("VerifyIDToken failed: %v", err)
	}
	if uid != "u1" {
		t.Errorf("uid = %q, want %q", uid, "u1")
	}
}

func TestVerifyIDToken_Rejections(t *testing.T) {
	f := newProviderFixture(t)
	now := f.clock.Now()

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{name: "空文字", token: "", code: model.CodeInvalidIDToken},
		{name: "JWTでない", token: "not-a-jwt", code: model.CodeInvalidIDToken},
		{
			name:  "期限切れ",
			token: mintIDToken(t, "u1", now.Add(-2*time.Hour), now.Add(-2*time.Hour)),
			code:  model.CodeIDTokenExpired,
		},
		{
			name: "issuer不一致",
			token: mintIDToken(t, "u1", now, now, func(c *idTokenClaims) {
				c.Issuer = "https://evil.example.com"
			}),
			code: model.CodeInvalidIDToken,
		},
		{
			name: "audience不一致",
			token: mintIDToken(t, "u1", now, now, func(c *idTokenClaims) {
				c.Audience = jwt.ClaimStrings{"other-app"}
			}),
			code: model.CodeInvalidIDToken,
		},
		{
			name:  "subjectなし",
			token: mintIDToken(t, "", now, now),
			code:  model.CodeInvalidIDToken,
		},
		{
			name: "auth_timeなし",
			token: mintIDToken(t, "u1", now, now, func(c *idTokenClaims) {
				c.AuthTime = nil
			}),
			code: model.CodeInvalidIDToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.provider.VerifyIDToken(context.Background(), tt.token)
			assertCode(t, err, tt.code)
		})
	}
}

func TestVerifyIDToken_WrongSigningKey_Rejected(t *testing.T) {
	f := newProviderFixture(t)
	now := f.clock.Now()

	claims := &idTokenClaims{
		AuthTime: jwt.NewNumericDate(now),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = HMACKeyID
	forged, err := token.SignedString([]byte("attacker-controlled-secret"))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	_, err = f.provider.VerifyIDToken(context.Background(), forged)
	assertCode(t, err, model.CodeInvalidIDToken)
}

// セッショントークン自体をIDトークンとして使い回すことはできない
func TestVerifyIDToken_SessionTokenRejected(t *testing.T) {
	f := newProviderFixture(t)
	now := f.clock.Now()

	session, err := f.provider.IssueSessionToken(context.Background(), mintIDToken(t, "u1", now, now), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken failed: %v", err)
	}

	_, err = f.provider.VerifyIDToken(context.Background(), session)
	assertCode(t, err, model.CodeInvalidIDToken)
}

func TestIssueSessionToken_RoundTrip(t *testing.T) {
	f := newProviderFixture(t)
	now := f.clock.Now()

	session, err := f.provider.IssueSessionToken(context.Background(), mintIDToken(t, "u1", now, now), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken failed: %v", err)
	}

	uid, err := f.provider.VerifySessionToken(context.Background(), session, true)
	if err != nil {
		t.Fatalf("VerifySessionToken failed: %v", err)
	}
	if uid != "u1" {
		t.Errorf("uid = %q, want %q", uid, "u1")
	}
}

func TestIssueSessionToken_UniqueTokenIDs(t *testing.T) {
	f := newProviderFixture(t)
	now := f.clock.Now()
	idToken := mintIDToken(t, "u1", now, now)

	a, err := f.provider.IssueSessionToken(context.Background(), idToken, time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken failed: %v", err)
	}
	b, err := f.provider.IssueSessionToken(context.Background(), idToken, time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken failed: %v", err)
	}
	if a == b {
		t.Error("each session token should carry a distinct jti")
	}
}

func TestIssueSessionToken_TTLBounds(t *testing.T) {
	f := newProviderFixture(t)
	now := f.clock.Now()
	idToken := mintIDToken(t, "u1", now, now)

	tests := []struct {
		name    string
		ttl     time.Duration
		wantErr bool
	}{
		{name: "下限未満", ttl: 4 * time.Minute, wantErr: true},
		{name: "下限", ttl: MinSessionTTL, wantErr: false},
		{name: "7日", ttl: 7 * 24 * time.Hour, wantErr: false},
		{name: "上限", ttl: MaxSessionTTL, wantErr: false},
		{name: "上限超過", ttl: MaxSessionTTL + time.Second, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.provider.IssueSessionToken(context.Background(), idToken, tt.ttl)
			if tt.wantErr {
				assertCode(t, err, model.CodeInvalidSessionCookieTTL)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestIssueSessionToken_StaleAuthentication_RequiresRecentLogin(t *testing.T) {
	f := newProviderFixture(t)
	now := f.clock.Now()

	idToken := mintIDToken(t, "u1", now.Add(-10*time.Minute), now)

	_, err := f.provider.IssueSessionToken(context.Background(), idToken, time.Hour)
	assertCode(t, err, model.CodeRecentSignInRequired)
}

func TestIssueSessionToken_InvalidIDToken(t *testing.T) {
	f := newProviderFixture(t)

	_, err := f.provider.IssueSessionToken(context.Background(), "garbage", time.Hour)
	assertCode(t, err, model.CodeInvalidIDToken)
}

func TestVerifySessionToken_Expired(t *testing.T) {
	f := newProviderFixture(t)
	now := f.clock.Now()

	session, err := f.provider.IssueSessionToken(context.Background(), mintIDToken(t, "u1", now, now), MinSessionTTL)
	if err != nil {
		t.Fatalf("IssueSessionToken failed: %v", err)
	}

	f.clock.Advance(MinSessionTTL + time.Second)

	_, err = f.provider.VerifySessionToken(context.Background(), session, false)
	assertCode(t, err, model.CodeSessionCookieExpired)
}

func TestVerifySessionToken_Tampered(t *testing.T) {
	f := newProviderFixture(t)
	now := f.clock.Now()

	session, err := f.provider.IssueSessionToken(context.Background(), mintIDToken(t, "u1", now, now), time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken failed: %v", err)
	}

	// 署名はそのままにペイロードのsubを書き換える
	parts := strings.Split(session, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	forged := strings.Replace(string(payload), `"sub":"u1"`, `"sub":"admin"`, 1)
	tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(forged)) + "." + parts[2]

	_, err = f.provider.VerifySessionToken(context.Background(), tampered, false)
	assertCode(t, err, model.CodeInvalidSessionCookie)
}

func TestVerifySessionToken_IDTokenRejectedAsSession(t *testing.T) {
	f := newProviderFixture(t)
	now := f.clock.Now()

	_, err := f.provider.VerifySessionToken(context.Background(), mintIDToken(t, "u1", now, now), false)
	assertCode(t, err, model.CodeInvalidSessionCookie)
}

func TestVerifySessionToken_DeletedAccount(t *testing.T) {
	f := newProviderFixture(t)
	now := f.clock.Now()

	session, err := f.provider.IssueSessionToken(context.Background(), mintIDToken(t, "u1", now, now), time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken failed: %v", err)
	}

	f.accounts.existsFn = func(ctx context.Context, id string) (bool, error) {
		return false, nil
	}

	// 失効チェックなしでは署名と期限のみ検証する
	if _, err := f.provider.VerifySessionToken(context.Background(), session, false); err != nil {
		t.Fatalf("unexpected error without revocation check: %v", err)
	}

	_, err = f.provider.VerifySessionToken(context.Background(), session, true)
	assertCode(t, err, model.CodeUserNotFound)
}

func TestVerifySessionToken_AccountLookupFailure(t *testing.T) {
	f := newProviderFixture(t)
	now := f.clock.Now()

	session, err := f.provider.IssueSessionToken(context.Background(), mintIDToken(t, "u1", now, now), time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken failed: %v", err)
	}

	f.accounts.existsFn = func(ctx context.Context, id string) (bool, error) {
		return false, errors.New("connection refused")
	}

	_, err = f.provider.VerifySessionToken(context.Background(), session, true)
	assertCode(t, err, model.CodeProviderUnavailable)
}

func TestRevokeSessions_InvalidatesEarlierSessions(t *testing.T) {
	f := newProviderFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	session, err := f.provider.IssueSessionToken(ctx, mintIDToken(t, "u1", now, now), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken failed: %v", err)
	}

	f.clock.Advance(time.Minute)
	if err := f.provider.RevokeSessions(ctx, "u1"); err != nil {
		t.Fatalf("RevokeSessions failed: %v", err)
	}

	// 失効チェックなしでは有効なまま
	if _, err := f.provider.VerifySessionToken(ctx, session, false); err != nil {
		t.Fatalf("unexpected error without revocation check: %v", err)
	}

	_, err = f.provider.VerifySessionToken(ctx, session, true)
	assertCode(t, err, model.CodeSessionCookieRevoked)

	// 失効後に再認証したセッションは有効
	f.clock.Advance(time.Minute)
	later := f.clock.Now()
	fresh, err := f.provider.IssueSessionToken(ctx, mintIDToken(t, "u1", later, later), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("IssueSessionToken failed: %v", err)
	}
	if _, err := f.provider.VerifySessionToken(ctx, fresh, true); err != nil {
		t.Fatalf("fresh session should be valid: %v", err)
	}
}

func TestRevokeSessions_UnknownAccount(t *testing.T) {
	f := newProviderFixture(t)
	f.accounts.existsFn = func(ctx context.Context, id string) (bool, error) {
		return false, nil
	}

	err := f.provider.RevokeSessions(context.Background(), "ghost")
	assertCode(t, err, model.CodeUserNotFound)
}

func TestRevokeSessions_RedisDown(t *testing.T) {
	f := newProviderFixture(t)
	f.redis.Close()

	err := f.provider.RevokeSessions(context.Background(), "u1")
	assertCode(t, err, model.CodeProviderUnavailable)
}

func TestFindAccountByEmail(t *testing.T) {
	f := newProviderFixture(t)
	f.accounts.findIDByEmailFn = func(ctx context.Context, email string) (string, error) {
		switch email {
		case "ada@x.com":
			return "u1", nil
		case "broken@x.com":
			return "", errors.New("connection reset")
		}
		return "", nil
	}

	uid, err := f.provider.FindAccountByEmail(context.Background(), "ada@x.com")
	if err != nil {
		t.Fatalf("FindAccountByEmail failed: %v", err)
	}
	if uid != "u1" {
		t.Errorf("uid = %q, want %q", uid, "u1")
	}

	_, err = f.provider.FindAccountByEmail(context.Background(), "nobody@x.com")
	assertCode(t, err, model.CodeUserNotFound)

	_, err = f.provider.FindAccountByEmail(context.Background(), "broken@x.com")
	assertCode(t, err, model.CodeProviderUnavailable)
}

func TestCreateAccount_AssignsID(t *testing.T) {
	f := newProviderFixture(t)

	var gotID, gotEmail string
	f.accounts.createFn = func(ctx context.Context, id, email string) error {
		gotID, gotEmail = id, email
		return nil
	}

	id, err := f.provider.CreateAccount(context.Background(), "ada@x.com")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if id == "" || id != gotID {
		t.Errorf("returned id %q, stored id %q", id, gotID)
	}
	if gotEmail != "ada@x.com" {
		t.Errorf("email = %q, want %q", gotEmail, "ada@x.com")
	}
}

func TestCreateAccount_DuplicateEmail(t *testing.T) {
	f := newProviderFixture(t)
	f.accounts.createFn = func(ctx context.Context, id, email string) error {
		return model.NewAuthError(model.CodeEmailAlreadyExists, errors.New("duplicate key"))
	}

	_, err := f.provider.CreateAccount(context.Background(), "ada@x.com")
	assertCode(t, err, model.CodeEmailAlreadyExists)
}
