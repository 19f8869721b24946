package identity

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// HMACKeyID は開発用HMAC鍵で署名するIDトークンのkidヘッダー値。
const HMACKeyID = "dev"

// KeySet はIDトークンの署名検証鍵を解決する。
type KeySet struct {
	jwks       *keyfunc.JWKS
	methods    []string
	background bool
}

// NewJWKSKeySet はJWKS URLから公開鍵を取得するKeySetを生成する。
// clientにはSSRF対策済みのHTTPクライアントを渡す。
// 鍵はrefreshInterval毎、および未知のkidを受け取った時点でバックグラウンド更新される。
func NewJWKSKeySet(jwksURL string, client *http.Client, refreshInterval time.Duration) (*KeySet, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Client: client,
		RefreshErrorHandler: func(err error) {
			slog.Warn("failed to refresh JWKS",
				slog.String("url", jwksURL),
				slog.String("error", err.Error()),
			)
		},
		RefreshInterval:   refreshInterval,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	return &KeySet{
		jwks:       jwks,
		methods:    []string{"RS256", "RS384", "RS512", "ES256", "ES384", "PS256"},
		background: true,
	}, nil
}

// NewHMACKeySet は共有シークレットでIDトークンを検証するKeySetを生成する。
// 開発・テスト環境向けで、トークンのkidヘッダーはHMACKeyIDである必要がある。
func NewHMACKeySet(secret []byte) *KeySet {
	return &KeySet{
		jwks: keyfunc.NewGiven(map[string]keyfunc.GivenKey{
			HMACKeyID: keyfunc.NewGivenHMAC(secret, keyfunc.GivenKeyOptions{
					Algorithm: jwt.SigningMethodHS256.Alg(),
				}),
		}),
		methods: []string{"HS256"},
	}
}

// Keyfunc はjwt.Parseに渡す鍵解決関数。
func (k *KeySet) Keyfunc(token *jwt.Token) (any, error) {
	return k.jwks.Keyfunc(token)
}

// ValidMethods は受け入れる署名アルゴリズムを返す。
func (k *KeySet) ValidMethods() []string {
	return k.methods
}

// Close はJWKSのバックグラウンド更新を停止する。
func (k *KeySet) Close() {
	if k.background {
		k.jwks.EndBackground()
	}
}
