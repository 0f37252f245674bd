package middleware

import (
	"math"
	"net/http"
	"time"
)

// CookieConfig は発行するCookieに共通の属性。
// すべてHttpOnly・SameSite=Laxで発行し、本番環境ではSecureを付与する。
type CookieConfig struct {
	Domain string
	Secure bool
}

// Set はexpiresAtまで有効なCookieを書き込む。
func (c CookieConfig) Set(w http.ResponseWriter, name, value, path string, expiresAt time.Time) {
	maxAge := int(math.Ceil(time.Until(expiresAt).Seconds()))
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear はCookieを即時失効させる。発行時と同じPathを指定する必要がある。
func (c CookieConfig) Clear(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   c.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
