package security

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/idna"
)

// MaxDisplayNameLength は表示名の最大文字数（rune数）。
const MaxDisplayNameLength = 100

var (
	// ErrEmptyDisplayName はサニタイズ後の表示名が空の場合のエラー。
	ErrEmptyDisplayName = errors.New("display name is empty")
	// ErrDisplayNameTooLong は表示名が上限を超えた場合のエラー。
	ErrDisplayNameTooLong = errors.New("display name is too long")
	// ErrInvalidEmail はメールアドレスの形式が不正な場合のエラー。
	ErrInvalidEmail = errors.New("invalid email address")
)

// ProfileSanitizer はProfile Storeに書き込む前のプロフィール値を正規化する。
type ProfileSanitizer interface {
	// DisplayName はHTMLタグを除去した表示名を返す。
	DisplayName(raw string) (string, error)
	// Email はドメイン部をIDNAでASCII化し、小文字化したメールアドレスを返す。
	Email(raw string) (string, error)
}

// profileSanitizer はbluemondayのStrictPolicyで全タグを除去する。
// script, styleの中身も出力に残らない。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() ProfileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// DisplayName はHTMLを除去した表示名を返す。
// bluemondayはエスケープ済みのテキストを返すため、保存用にアンエスケープする。
func (s *profileSanitizer) DisplayName(raw string) (string, error) {
	name := html.UnescapeString(s.policy.Sanitize(raw))
	name = strings.Join(strings.Fields(name), " ")

	if name == "" {
		return "", ErrEmptyDisplayName
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", ErrDisplayNameTooLong
	}
	return name, nil
}

// Email はメールアドレスを正規化する。
func (s *profileSanitizer) Email(raw string) (string, error) {
	return NormalizeEmail(raw)
}

// NormalizeEmail はメールアドレスを比較可能な形に正規化する。
// 国際化ドメインはPunycodeに変換する。
func NormalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}

	local := email[:at]
	if strings.ContainsAny(local, " @") {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}

	domain, err := idna.Lookup.ToASCII(email[at+1:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	if !strings.Contains(domain, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}

	return strings.ToLower(local) + "@" + domain, nil
}
