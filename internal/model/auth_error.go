package model

import (
	"errors"
	"fmt"
)

// Identity Providerが返すエラーコード。
const (
	CodeEmailAlreadyExists      = "auth/email-already-exists"
	CodeUserNotFound            = "auth/user-not-found"
	CodeInvalidIDToken          = "auth/invalid-id-token"
	CodeIDTokenExpired          = "auth/id-token-expired"
	CodeSessionCookieExpired    = "auth/session-cookie-expired"
	CodeSessionCookieRevoked    = "auth/session-cookie-revoked"
	CodeInvalidSessionCookie    = "auth/invalid-session-cookie"
	CodeInvalidSessionCookieTTL = "auth/invalid-session-cookie-duration"
	CodeRecentSignInRequired    = "auth/requires-recent-login"
	CodeProviderUnavailable     = "auth/internal-error"
)

// AuthError はコード付きの認証エラー。
// Postgresの一意制約違反などのストアエラーもこの形に変換して返す。
type AuthError struct {
	Code string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError はコードと原因エラーからAuthErrorを生成する。
func NewAuthError(code string, err error) *AuthError {
	return &AuthError{Code: code, Err: err}
}

// AuthErrorCode はエラーチェーン中のAuthErrorのコードを返す。
// AuthErrorを含まない場合は空文字を返す。
func AuthErrorCode(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// HasAuthCode はエラーチェーンが指定コードのAuthErrorを含むかを返す。
func HasAuthCode(err error, code string) bool {
	return err != nil && AuthErrorCode(err) == code
}
