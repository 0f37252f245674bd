package handler

import (
	"net/http"

	"github.com/hitoshi/authbridge/internal/middleware"
	"github.com/hitoshi/authbridge/internal/session"
)

// cookieValue はCookieの値を返す。存在しない場合は空文字。
func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// setSessionCookies はセッションCookieと、戦略が別名で持つ場合はアクセスCookieを書き込む。
func setSessionCookies(w http.ResponseWriter, cookies middleware.CookieConfig, s session.Strategy, cred *session.Credential) {
	cookies.Set(w, s.CookieName(), cred.Token, "/", cred.ExpiresAt)
	if s.CookieName() != session.AccessCookieName {
		cookies.Set(w, session.AccessCookieName, cred.AccessToken, "/", cred.AccessExpiresAt)
	}
}

// clearSessionCookies はセッションCookieとアクセスCookieを削除する。
func clearSessionCookies(w http.ResponseWriter, cookies middleware.CookieConfig, s session.Strategy) {
	cookies.Clear(w, s.CookieName(), "/")
	if s.CookieName() != session.AccessCookieName {
		cookies.Clear(w, session.AccessCookieName, "/")
	}
}
