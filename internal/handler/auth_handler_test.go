package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authbridge/internal/auth"
	"github.com/hitoshi/authbridge/internal/middleware"
	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/session"
)

// newAuthRouter はURLパラメーターを解決するために認証ルートだけを持つルーターを返す。
func newAuthRouter(h *AuthHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/auth/logout", h.Logout)
	r.Get("/api/auth/callback/{provider}", h.Callback)
	r.Get("/api/auth/{provider}", h.Begin)
	return r
}

func TestAuthHandler_Begin_SetsStateCookieAndRedirects(t *testing.T) {
	h := NewAuthHandler(&mockAuthFlow{}, newDatabaseMockStrategy(), middleware.CookieConfig{Secure: true}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/github?redirect=/admin/collections", nil)
	w := httptest.NewRecorder()
	newAuthRouter(h).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://github.com/login/oauth/authorize?state=s1" {
		t.Errorf("Location = %q", loc)
	}

	cookies := cookiesByName(resp)
	state := cookies["github_oauth_state"]
	if state == nil || state.Value != "s1" {
		t.Fatalf("state cookie = %+v", state)
	}
	if !state.HttpOnly || !state.Secure || state.SameSite != http.SameSiteLaxMode || state.Path != "/api/auth" {
		t.Errorf("state cookie attributes = %+v", state)
	}
	if state.MaxAge < 599 || state.MaxAge > 600 {
		t.Errorf("state cookie MaxAge = %d, want 600", state.MaxAge)
	}
	if rc := cookies[redirectCookieName]; rc == nil || rc.Value != "/admin/collections" {
		t.Errorf("redirect cookie = %+v", rc)
	}
}

// 外部URLへの遷移先は保存しないこと
func TestAuthHandler_Begin_IgnoresExternalRedirect(t *testing.T) {
	h := NewAuthHandler(&mockAuthFlow{}, newDatabaseMockStrategy(), middleware.CookieConfig{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/github?redirect=https://evil.example/", nil)
	w := httptest.NewRecorder()
	newAuthRouter(h).ServeHTTP(w, req)

	if rc := cookiesByName(w.Result())[redirectCookieName]; rc != nil && rc.Value != "" {
		t.Errorf("external redirect stored: %+v", rc)
	}
}

func TestAuthHandler_Begin_UnknownProvider_Returns400(t *testing.T) {
	flow := &mockAuthFlow{beginFn: func(provider string) (*auth.Authorization, error) {
		return nil, fmt.Errorf("begin: %w", model.ErrInvalidProvider)
	}}
	h := NewAuthHandler(flow, newDatabaseMockStrategy(), middleware.CookieConfig{}, nil)

	w := httptest.NewRecorder()
	newAuthRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/gitlab", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if _, ok := cookiesByName(w.Result())["gitlab_oauth_state"]; ok {
		t.Error("state cookie must not be set for unknown provider")
	}
}

// 設定されていないプロバイダーはサービスを呼ばずに400を返すこと
func TestAuthHandler_UnconfiguredProvider_RejectedBeforeFlow(t *testing.T) {
	flow := &mockAuthFlow{
		unknown: map[string]bool{"gitlab": true},
		beginFn: func(string) (*auth.Authorization, error) {
			t.Error("BeginAuthorization must not be called")
			return nil, nil
		},
		completeFn: func(context.Context, auth.CallbackRequest) (*auth.Result, error) {
			t.Error("CompleteAuthorization must not be called")
			return nil, nil
		},
	}
	h := NewAuthHandler(flow, newDatabaseMockStrategy(), middleware.CookieConfig{}, nil)

	for _, path := range []string{"/api/auth/gitlab", "/api/auth/callback/gitlab?code=abc&state=s1"} {
		w := httptest.NewRecorder()
		newAuthRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, w.Code)
		}
		if cookies := w.Result().Cookies(); len(cookies) != 0 {
			t.Errorf("%s: unexpected cookies %+v", path, cookies)
		}
	}
}

func TestAuthHandler_Callback_Success(t *testing.T) {
	cred := testCredential()
	flow := &mockAuthFlow{completeFn: func(ctx context.Context, req auth.CallbackRequest) (*auth.Result, error) {
		return &auth.Result{User: &model.User{ID: "user-1", Role: model.RoleAdmin}, Credential: cred}, nil
	}}
	h := NewAuthHandler(flow, newDatabaseMockStrategy(), middleware.CookieConfig{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback/github?code=abc&state=s1", nil)
	req.AddCookie(&http.Cookie{Name: "github_oauth_state", Value: "s1"})
	req.AddCookie(&http.Cookie{Name: redirectCookieName, Value: "/admin/collections"})
	w := httptest.NewRecorder()
	newAuthRouter(h).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/admin/collections" {
		t.Errorf("Location = %q, want /admin/collections", loc)
	}

	want := auth.CallbackRequest{Provider: "github", Code: "abc", State: "s1", StoredState: "s1"}
	if flow.lastReq != want {
		t.Errorf("callback request = %+v, want %+v", flow.lastReq, want)
	}

	cookies := cookiesByName(resp)
	if c := cookies[session.DatabaseCookieName]; c == nil || c.Value != "opaque-token" || c.Path != "/" {
		t.Errorf("session cookie = %+v", c)
	}
	if c := cookies[session.AccessCookieName]; c == nil || c.Value != "signed.access.token" {
		t.Errorf("access cookie = %+v", c)
	}
	if c := cookies["github_oauth_state"]; c == nil || c.MaxAge >= 0 {
		t.Errorf("state cookie should be cleared: %+v", c)
	}
	if c := cookies[redirectCookieName]; c == nil || c.MaxAge >= 0 {
		t.Errorf("redirect cookie should be cleared: %+v", c)
	}
}

// 失敗時もフロー用Cookieを破棄し、セッションCookieは発行しないこと
func TestAuthHandler_Callback_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"state mismatch", model.ErrInvalidState, http.StatusBadRequest},
		{"unknown provider", fmt.Errorf("x: %w", model.ErrInvalidProvider), http.StatusBadRequest},
		{"exchange failure", fmt.Errorf("%w: boom", model.ErrOAuthProcess), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := &mockAuthFlow{completeFn: func(context.Context, auth.CallbackRequest) (*auth.Result, error) {
				return nil, tt.err
			}}
			h := NewAuthHandler(flow, newDatabaseMockStrategy(), middleware.CookieConfig{}, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/auth/callback/github?code=abc&state=wrong", nil)
			req.AddCookie(&http.Cookie{Name: "github_oauth_state", Value: "s1"})
			w := httptest.NewRecorder()
			newAuthRouter(h).ServeHTTP(w, req)

			resp := w.Result()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			cookies := cookiesByName(resp)
			if c := cookies["github_oauth_state"]; c == nil || c.MaxAge >= 0 {
				t.Errorf("state cookie should be cleared: %+v", c)
			}
			if c := cookies[redirectCookieName]; c == nil || c.MaxAge >= 0 {
				t.Errorf("redirect cookie should be cleared: %+v", c)
			}
			if _, ok := cookies[session.DatabaseCookieName]; ok {
				t.Error("session cookie must not be set on failure")
			}
		})
	}
}

func TestAuthHandler_Callback_PassesProviderError(t *testing.T) {
	flow := &mockAuthFlow{completeFn: func(context.Context, auth.CallbackRequest) (*auth.Result, error) {
		return nil, model.ErrOAuthProcess
	}}
	h := NewAuthHandler(flow, newDatabaseMockStrategy(), middleware.CookieConfig{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback/github?error=access_denied&state=s1", nil)
	newAuthRouter(h).ServeHTTP(httptest.NewRecorder(), req)

	if flow.lastReq.ProviderError != "access_denied" {
		t.Errorf("ProviderError = %q", flow.lastReq.ProviderError)
	}
	if flow.lastReq.StoredState != "" {
		t.Errorf("StoredState = %q, want empty without cookie", flow.lastReq.StoredState)
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	strategy := newDatabaseMockStrategy()
	h := NewAuthHandler(&mockAuthFlow{}, strategy, middleware.CookieConfig{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/logout?redirect=/admin/login", nil)
	req.AddCookie(&http.Cookie{Name: session.DatabaseCookieName, Value: "opaque-token"})
	w := httptest.NewRecorder()
	newAuthRouter(h).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/admin/login" {
		t.Errorf("status = %d Location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if len(strategy.destroyed) != 1 || strategy.destroyed[0] != "opaque-token" {
		t.Errorf("destroyed = %v", strategy.destroyed)
	}
	cookies := cookiesByName(resp)
	for _, name := range []string{session.DatabaseCookieName, session.AccessCookieName} {
		if c := cookies[name]; c == nil || c.MaxAge >= 0 {
			t.Errorf("%s should be cleared: %+v", name, c)
		}
	}
}

// セッション破棄に失敗してもCookieを削除してリダイレクトすること
func TestAuthHandler_Logout_DestroyFailureStillClears(t *testing.T) {
	strategy := newDatabaseMockStrategy()
	strategy.destroyFn = func(context.Context, string) error { return model.ErrStoreUnavailable }
	h := NewAuthHandler(&mockAuthFlow{}, strategy, middleware.CookieConfig{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/logout?redirect=//evil.example", nil)
	req.AddCookie(&http.Cookie{Name: session.DatabaseCookieName, Value: "opaque-token"})
	w := httptest.NewRecorder()
	newAuthRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusFound || w.Header().Get("Location") != "/" {
		t.Errorf("status = %d Location = %q", w.Code, w.Header().Get("Location"))
	}
	if c := cookiesByName(w.Result())[session.DatabaseCookieName]; c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared: %+v", c)
	}
}
