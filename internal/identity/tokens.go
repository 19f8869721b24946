package identity

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/sessionauth/internal/model"
)

// idTokenClaims は外部IdPが発行するIDトークンのクレーム。
type idTokenClaims struct {
	AuthTime *jwt.NumericDate `json:"auth_time"`
	Email    string           `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// sessionClaims はセッショントークンのクレーム。
// auth_timeは元のIDトークンから引き継ぎ、失効判定に使う。
type sessionClaims struct {
	AuthTime *jwt.NumericDate `json:"auth_time"`
	jwt.RegisteredClaims
}

func (p *Provider) parseIDToken(idToken string) (*idTokenClaims, error) {
	if idToken == "" {
		return nil, model.NewAuthError(model.CodeInvalidIDToken, errors.New("id token is empty"))
	}

	claims := &idTokenClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, p.keys.Keyfunc,
		jwt.WithValidMethods(p.keys.ValidMethods()),
		jwt.WithIssuer(p.config.Issuer),
		jwt.WithAudience(p.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(p.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, model.NewAuthError(model.CodeIDTokenExpired, err)
	}
	if err != nil {
		return nil, model.NewAuthError(model.CodeInvalidIDToken, err)
	}
	if claims.Subject == "" {
		return nil, model.NewAuthError(model.CodeInvalidIDToken, errors.New("id token has no subject"))
	}
	if claims.AuthTime == nil {
		return nil, model.NewAuthError(model.CodeInvalidIDToken, errors.New("id token has no auth_time"))
	}
	return claims, nil
}

func (p *Provider) parseSessionToken(sessionToken string) (*sessionClaims, error) {
	if sessionToken == "" {
		return nil, model.NewAuthError(model.CodeInvalidSessionCookie, errors.New("session token is empty"))
	}

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(sessionToken, claims,
		func(*jwt.Token) (any, error) { return p.config.SessionSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithAudience(p.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, model.NewAuthError(model.CodeSessionCookieExpired, err)
	}
	if err != nil {
		return nil, model.NewAuthError(model.CodeInvalidSessionCookie, err)
	}
	if claims.Subject == "" || claims.AuthTime == nil {
		return nil, model.NewAuthError(model.CodeInvalidSessionCookie, errors.New("session token is missing required claims"))
	}
	return claims, nil
}
