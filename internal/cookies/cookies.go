// Package cookies はセッションと OAuth ハンドシェイクで使うクッキーの発行・読み取り・削除を一か所にまとめます。
package cookies

import (
	"net/http"
	"strings"
	"time"
)

// クッキー名
const (
	Session  = "session"
	Verifier = "verifier"
	State    = "state"
)

// Codec はクッキー属性を統一して発行します。
// すべて HttpOnly / SameSite=Lax / Path=/ で、Secure は HTTPS のときに付与します。
type Codec struct {
	// ForceSecure が true の場合は平文 HTTP でも Secure を付与します。
	ForceSecure bool
}

// Set は name=value のクッキーを maxAge の有効期間で発行します。
func (c Codec) Set(w http.ResponseWriter, r *http.Request, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   c.secure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear は同じ属性のクッキーを Max-Age=0 で再発行して削除します。
func (c Codec) Clear(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // net/http では負値が Max-Age=0 として出力される
		HttpOnly: true,
		Secure:   c.secure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func (c Codec) secure(r *http.Request) bool {
	return c.ForceSecure || IsHTTPS(r)
}

// Read は name のクッキー値を返します。存在しないか空の場合は false です。
func Read(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// IsHTTPS はリクエストが暗号化された経路で届いたかを判定します。
// TLS 終端がプロキシの場合は X-Forwarded-Proto を参照します。
func IsHTTPS(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if i := strings.IndexByte(proto, ','); i >= 0 {
		proto = proto[:i]
	}
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}
