package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/authbridge/internal/credential"
	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/security"
)

// アクセスガードの判定結果（メトリクスのラベル値）。
const (
	GuardAllowed    = "allowed"
	GuardRedirected = "redirected"
	GuardExpired    = "expired"
	GuardForbidden  = "forbidden"
	GuardLoggedOut  = "logged_out"
)

// TokenVerifier は署名付きトークンを検証する。credential.Codecが実装する。
type TokenVerifier interface {
	Verify(token string) (*credential.Claims, error)
}

// GuardObserver はアクセスガードの判定を受け取る。
type GuardObserver interface {
	RecordGuardDecision(decision string)
}

// AccessGuardConfig はアクセスガードの設定。
type AccessGuardConfig struct {
	Verifier TokenVerifier

	AdminPathPrefix string
	LoginPath       string
	LogoutPath      string

	// AccessCookieName は検証対象の署名付きトークンのCookie名。
	AccessCookieName string
	// SessionCookieNames はログアウト時に併せて削除するCookie名。
	// アクセストークンの失効時には削除しない（永続化セッションはリフレッシュで再発行できる）。
	SessionCookieNames []string

	Cookies  CookieConfig
	Observer GuardObserver
}

// NewAccessGuard は管理画面へのリクエストをストアに問い合わせずに検査するミドルウェアを返す。
//
//   - ログアウトパス: Cookieを削除し、redirectパラメーター（ローカルパスのみ）か"/"へ302
//   - 管理画面配下（ログインページを除く）: Cookieなし・無効・期限切れはログインへ302
//     （無効なアクセスCookieのみ削除）、管理者以外は401、管理者はクレームをコンテキストに注入して通過
//   - それ以外: そのまま通過
func NewAccessGuard(cfg AccessGuardConfig) func(next http.Handler) http.Handler {
	cookieNames := []string{cfg.AccessCookieName}
	for _, name := range cfg.SessionCookieNames {
		if name != "" && name != cfg.AccessCookieName {
			cookieNames = append(cookieNames, name)
		}
	}

	observe := func(decision string) {
		if cfg.Observer != nil {
			cfg.Observer.RecordGuardDecision(decision)
		}
	}
	clearCookies := func(w http.ResponseWriter) {
		for _, name := range cookieNames {
			cfg.Cookies.Clear(w, name, "/")
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path

			if path == cfg.LogoutPath {
				clearCookies(w)
				target := "/"
				if p, ok := security.SafeRedirectPath(r.URL.Query().Get("redirect")); ok {
					target = p
				}
				observe(GuardLoggedOut)
				http.Redirect(w, r, target, http.StatusFound)
				return
			}

			if !underPrefix(path, cfg.AdminPathPrefix) || underPrefix(path, cfg.LoginPath) {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(cfg.AccessCookieName)
			if err != nil || cookie.Value == "" {
				observe(GuardRedirected)
				http.Redirect(w, r, loginURL(cfg.LoginPath, r), http.StatusFound)
				return
			}

			claims, err := cfg.Verifier.Verify(cookie.Value)
			if err != nil {
				slog.Debug("access token rejected",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				cfg.Cookies.Clear(w, cfg.AccessCookieName, "/")
				observe(GuardExpired)
				http.Redirect(w, r, loginURL(cfg.LoginPath, r), http.StatusFound)
				return
			}

			if claims.Role != model.RoleAdmin {
				observe(GuardForbidden)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			observe(GuardAllowed)
			AnnotateUser(r.Context(), claims.UserID, string(claims.Role))
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// underPrefix はpathがprefixそのものかその配下かを判定する。
func underPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	prefix = strings.TrimRight(prefix, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// loginURL は元のパスをredirectパラメーターに含めたログインURLを組み立てる。
func loginURL(loginPath string, r *http.Request) string {
	q := url.Values{}
	q.Set("redirect", r.URL.RequestURI())
	return loginPath + "?" + q.Encode()
}
