package session

import (
	"net/http"
	"time"
)

// CookieName はセッショントークンを保持するCookie名。
const CookieName = "session"

// SessionTTL はセッショントークンとCookieの有効期間。
const SessionTTL = 7 * 24 * time.Hour

// CookieAttributes はセッションCookieの属性。
// 設定・削除のいずれもNewCookieAttributesで生成した同一の値を使う。
type CookieAttributes struct {
	HTTPOnly bool
	Path     string
	SameSite http.SameSite
	Secure   bool
	Domain   string
	MaxAge   int
}

// NewCookieAttributes はセッションCookieの属性を生成する。
// secureはBASE_URLのスキーム等の環境設定から決定する。
func NewCookieAttributes(secure bool, domain string) CookieAttributes {
	return CookieAttributes{
		HTTPOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
		Domain:   domain,
		MaxAge:   int(SessionTTL / time.Second),
	}
}

// HTTPCookieJar はhttp.Request/http.ResponseWriterをCookieJarとして扱うアダプター。
// 同一リクエスト内で設定・削除した値はGetに反映される。
type HTTPCookieJar struct {
	r       *http.Request
	w       http.ResponseWriter
	pending map[string]*string
}

// NewHTTPCookieJar はHTTPCookieJarを生成する。
func NewHTTPCookieJar(w http.ResponseWriter, r *http.Request) *HTTPCookieJar {
	return &HTTPCookieJar{r: r, w: w, pending: make(map[string]*string)}
}

// Set はレスポンスにCookieを設定する。
func (j *HTTPCookieJar) Set(name, value string, attrs CookieAttributes) error {
	c := attrs.cookie(name, value)
	if err := c.Valid(); err != nil {
		return err
	}
	http.SetCookie(j.w, c)
	j.pending[name] = &value
	return nil
}

// Get はCookieの値を返す。
func (j *HTTPCookieJar) Get(name string) (string, bool) {
	if v, ok := j.pending[name]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	c, err := j.r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Delete はCookieを削除する。属性はSetと同じものを使い、MaxAgeのみ負値にする。
func (j *HTTPCookieJar) Delete(name string, attrs CookieAttributes) {
	c := attrs.cookie(name, "")
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(j.w, c)
	j.pending[name] = nil
}

func (a CookieAttributes) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     a.Path,
		Domain:   a.Domain,
		MaxAge:   a.MaxAge,
		HttpOnly: a.HTTPOnly,
		Secure:   a.Secure,
		SameSite: a.SameSite,
	}
}

// compile-time interface check
var _ CookieJar = (*HTTPCookieJar)(nil)
