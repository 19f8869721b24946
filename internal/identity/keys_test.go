package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// newJWKSServer はRSA公開鍵を1つ公開するJWKSサーバーを起動する。
func newJWKSServer(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
	if err != nil {
		t.Fatalf("failed to marshal JWKS: %v", err)
	}

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewJWKSKeySet_VerifiesRS256IDToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	srv := newJWKSServer(t, "k1", &key.PublicKey)

	keys, err := NewJWKSKeySet(srv.URL, srv.Client(), time.Hour)
	if err != nil {
		t.Fatalf("NewJWKSKeySet failed: %v", err)
	}
	defer keys.Close()

	clock := &testClock{t: time.Now()}
	p, err := NewProvider(Config{
		Issuer:        testIssuer,
		Audience:      testAudience,
		SessionSecret: []byte(testSessionSecret),
	}, keys, &mockAccountRepo{}, nil, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	now := clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &idTokenClaims{
		AuthTime: jwt.NewNumericDate(now),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	uid, err := p.VerifyIDToken(context.Background(), signed)
	if err != nil {
		t.Fatalf("VerifyIDToken failed: %v", err)
	}
	if uid != "u1" {
		t.Errorf("uid = %q, want %q", uid, "u1")
	}
}

// HMAC署名のトークンはJWKS（RSA）構成では受け付けない
func TestNewJWKSKeySet_RejectsHS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	srv := newJWKSServer(t, "k1", &key.PublicKey)

	keys, err := NewJWKSKeySet(srv.URL, srv.Client(), time.Hour)
	if err != nil {
		t.Fatalf("NewJWKSKeySet failed: %v", err)
	}
	defer keys.Close()

	for _, m := range keys.ValidMethods() {
		if m == "HS256" {
			t.Fatal("JWKS key set must not accept HS256")
		}
	}
}

func TestNewJWKSKeySet_UnreachableURL_ReturnsError(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	url := srv.URL
	client := srv.Client()
	srv.Close()

	if _, err := NewJWKSKeySet(url, client, time.Hour); err == nil {
		t.Fatal("expected error for unreachable JWKS URL")
	}
}

func TestNewHMACKeySet_AcceptsOnlyHS256(t *testing.T) {
	keys := NewHMACKeySet([]byte("secret"))
	defer keys.Close()

	methods := keys.ValidMethods()
	if len(methods) != 1 || methods[0] != "HS256" {
		t.Errorf("ValidMethods = %v, want [HS256]", methods)
	}
}

// 同じシークレットでもHS256以外のalgを名乗るトークンには鍵を返さない
func TestNewHMACKeySet_KeyfuncRejectsOtherHMACAlgorithms(t *testing.T) {
	secret := []byte(testSessionSecret)
	keys := NewHMACKeySet(secret)
	defer keys.Close()

	hs256 := jwt.New(jwt.SigningMethodHS256)
	hs256.Header["kid"] = HMACKeyID
	key, err := keys.Keyfunc(hs256)
	if err != nil {
		t.Fatalf("Keyfunc(HS256) failed: %v", err)
	}
	if got, ok := key.([]byte); !ok || string(got) != string(secret) {
		t.Errorf("Keyfunc(HS256) = %v, want the shared secret", key)
	}

	hs384 := jwt.New(jwt.SigningMethodHS384)
	hs384.Header["kid"] = HMACKeyID
	if _, err := keys.Keyfunc(hs384); !errors.Is(err, keyfunc.ErrJWKAlgMismatch) {
		t.Errorf("Keyfunc(HS384) error = %v, want ErrJWKAlgMismatch", err)
	}
}
