// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authbridge/internal/auth"
	"github.com/hitoshi/authbridge/internal/metrics"
	"github.com/hitoshi/authbridge/internal/middleware"
	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/security"
	"github.com/hitoshi/authbridge/internal/session"
)

const (
	// flowCookiePath はstate・redirect Cookieのスコープ。
	flowCookiePath = "/api/auth"
	// flowCookieTTL はstate・redirect Cookieの有効期間。
	flowCookieTTL = 10 * time.Minute
	// redirectCookieName はログイン後の遷移先を保持するCookie名。
	redirectCookieName = "auth_redirect"
)

// stateCookieName はプロバイダーごとのstate Cookie名を返す。
func stateCookieName(provider string) string {
	return provider + "_oauth_state"
}

// AuthFlow は認証ハンドラーが必要とするサービスインターフェース。
type AuthFlow interface {
	HasProvider(name string) bool
	BeginAuthorization(provider string) (*auth.Authorization, error)
	CompleteAuthorization(ctx context.Context, req auth.CallbackRequest) (*auth.Result, error)
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	flow     AuthFlow
	sessions session.Strategy
	cookies  middleware.CookieConfig
	metrics  metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。collectorがnilの場合は記録しない。
func NewAuthHandler(flow AuthFlow, sessions session.Strategy, cookies middleware.CookieConfig, collector metrics.MetricsCollector) *AuthHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthHandler{
		flow:     flow,
		sessions: sessions,
		cookies:  cookies,
		metrics:  collector,
	}
}

// Begin はOAuthフローを開始する。
// GET /api/auth/{provider}[?redirect=path]
func (h *AuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if !h.flow.HasProvider(provider) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidProviderError(provider))
		return
	}

	a, err := h.flow.BeginAuthorization(provider)
	if err != nil {
		if !errors.Is(err, model.ErrInvalidProvider) {
			slog.Error("failed to begin authorization",
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
		}
		middleware.WriteAuthError(w, err, provider)
		return
	}

	expires := time.Now().Add(flowCookieTTL)
	h.cookies.Set(w, stateCookieName(provider), a.State, flowCookiePath, expires)

	if target, ok := security.SafeRedirectPath(r.URL.Query().Get("redirect")); ok {
		h.cookies.Set(w, redirectCookieName, target, flowCookiePath, expires)
	} else {
		h.cookies.Clear(w, redirectCookieName, flowCookiePath)
	}

	http.Redirect(w, r, a.URL, http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// GET /api/auth/callback/{provider}?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	// 未知のプロバイダーではstate Cookieにも触れない
	if !h.flow.HasProvider(provider) {
		h.metrics.RecordLogin(provider, metrics.LoginInvalidProvider)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidProviderError(provider))
		return
	}
	q := r.URL.Query()

	storedState := cookieValue(r, stateCookieName(provider))
	returnTo := "/"
	if target, ok := security.SafeRedirectPath(cookieValue(r, redirectCookieName)); ok {
		returnTo = target
	}

	// state・redirect Cookieは成功・失敗いずれの場合も破棄する
	h.cookies.Clear(w, stateCookieName(provider), flowCookiePath)
	h.cookies.Clear(w, redirectCookieName, flowCookiePath)

	res, err := h.flow.CompleteAuthorization(r.Context(), auth.CallbackRequest{
		Provider:      provider,
		Code:          q.Get("code"),
		State:         q.Get("state"),
		StoredState:   storedState,
		ProviderError: q.Get("error"),
	})
	if err != nil {
		h.metrics.RecordLogin(provider, loginOutcome(err))
		switch {
		case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrInvalidProvider):
			slog.Warn("oauth callback rejected",
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
		default:
			slog.Error("oauth callback failed",
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
		}
		middleware.WriteAuthError(w, err, provider)
		return
	}

	h.metrics.RecordLogin(provider, metrics.LoginSuccess)
	setSessionCookies(w, h.cookies, h.sessions, res.Credential)
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// Logout はセッションを破棄し、Cookieを削除する。
// GET /api/auth/logout[?redirect=path]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := cookieValue(r, h.sessions.CookieName()); token != "" {
		// 破棄に失敗してもCookieは削除する
		if err := h.sessions.Destroy(r.Context(), token); err != nil {
			slog.Error("failed to destroy session", slog.String("error", err.Error()))
		}
	}

	clearSessionCookies(w, h.cookies, h.sessions)

	target := "/"
	if p, ok := security.SafeRedirectPath(r.URL.Query().Get("redirect")); ok {
		target = p
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// loginOutcome はエラーをメトリクスのラベル値に分類する。
func loginOutcome(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidState):
		return metrics.LoginInvalidState
	case errors.Is(err, model.ErrInvalidProvider):
		return metrics.LoginInvalidProvider
	default:
		return metrics.LoginOAuthError
	}
}
