package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hitoshi/authbridge/internal/auth"
	"github.com/hitoshi/authbridge/internal/credential"
	"github.com/hitoshi/authbridge/internal/middleware"
	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/session"
)

// newTestRouter はjwt戦略で全ルートを組み立てる。
func newTestRouter(t *testing.T, flow AuthFlow, rl *middleware.RateLimiter) (http.Handler, *credential.Codec) {
	t.Helper()
	codec := credential.NewCodec([]byte(handlerSecret))
	strategy := session.NewTokenStrategy(codec, 2*time.Hour)
	cookies := middleware.CookieConfig{}

	var buf bytes.Buffer
	deps := &RouterDeps{
		Logger:      slog.New(slog.NewJSONHandler(&buf, nil)),
		AccessGuard: middleware.NewAccessGuard(middleware.AccessGuardConfig{
			Verifier:           codec,
			AdminPathPrefix:    "/admin",
			LoginPath:          "/admin/login",
			LogoutPath:         "/logout",
			AccessCookieName:   session.AccessCookieName,
			SessionCookieNames: []string{strategy.CookieName()},
			Cookies:            cookies,
		}),
		RateLimiter:     rl,
		Auth:            NewAuthHandler(flow, strategy, cookies, nil),
		User:            NewUserHandler(strategy, &mockUnlinker{}, cookies, nil),
		Health:          NewHealthHandler(nil),
		Metrics:         http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) }),
		AdminPathPrefix: "/admin",
		LoginPath:       "/admin/login",
		Admin:           NewAdminHandler([]string{"github"}),
	}
	return NewRouter(deps), codec
}

func TestRouter_Routes(t *testing.T) {
	router, _ := newTestRouter(t, &mockAuthFlow{}, nil)

	tests := []struct {
		method, path string
		wantStatus   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/auth/github", http.StatusFound},
		{http.MethodGet, "/api/auth/logout", http.StatusFound},
		{http.MethodPost, "/api/users/refresh-token", http.StatusUnauthorized},
		{http.MethodGet, "/api/users/me", http.StatusUnauthorized},
		{http.MethodDelete, "/api/users/me/accounts/github", http.StatusUnauthorized},
		{http.MethodGet, "/admin/login", http.StatusOK},
		{http.MethodGet, "/admin", http.StatusFound},
		{http.MethodGet, "/logout", http.StatusFound},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
		if w.Code != tt.wantStatus {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, w.Code, tt.wantStatus)
		}
	}
}

func TestRouter_AuthResponsesAreNotCached(t *testing.T) {
	router, _ := newTestRouter(t, &mockAuthFlow{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/github", nil))
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", w.Header().Get("Cache-Control"))
	}
}

// ログインからガード通過までの一連の流れ
func TestRouter_LoginFlowThroughGuard(t *testing.T) {
	var issued *session.Credential
	flow := &mockAuthFlow{}
	router, codec := newTestRouter(t, flow, nil)
	strategy := session.NewTokenStrategy(codec, 2*time.Hour)
	flow.completeFn = func(ctx context.Context, req auth.CallbackRequest) (*auth.Result, error) {
		if req.State != req.StoredState {
			return nil, model.ErrInvalidState
		}
		user := &model.User{ID: "user-1", Email: "octo@example.com", Role: model.RoleAdmin}
		cred, err := strategy.Create(ctx, user)
		issued = cred
		return &auth.Result{User: user, Credential: cred}, err
	}

	// 1. 未ログインで管理画面 → ログインへ
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	loc, _ := url.Parse(w.Header().Get("Location"))
	if w.Code != http.StatusFound || loc.Path != "/admin/login" || loc.Query().Get("redirect") != "/admin" {
		t.Fatalf("step1: status = %d Location = %q", w.Code, loc)
	}

	// 2. 認可開始
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/github?redirect=/admin", nil))
	flowCookies := w.Result().Cookies()

	// 3. コールバック
	req := httptest.NewRequest(http.MethodGet, "/api/auth/callback/github?code=c&state=s1", nil)
	for _, c := range flowCookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/admin" {
		t.Fatalf("step3: status = %d Location = %q", w.Code, w.Header().Get("Location"))
	}
	access := cookiesByName(w.Result())[session.AccessCookieName]
	if access == nil || access.Value != issued.AccessToken {
		t.Fatalf("step3: access cookie = %+v", access)
	}

	// 4. 管理画面へアクセス
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(access)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("step4: status = %d, want 200", w.Code)
	}
}

func TestRouter_RateLimitOnAuthRoutesOnly(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: 0.01, Burst: 1, CleanupInterval: time.Minute}, "auth", nil)
	defer rl.Stop()
	router, _ := newTestRouter(t, &mockAuthFlow{}, rl)

	statuses := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/github", nil))
		statuses = append(statuses, w.Code)
	}
	if statuses[0] != http.StatusFound || statuses[1] != http.StatusTooManyRequests {
		t.Errorf("statuses = %v, want [302 429]", statuses)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/health should not be rate limited: %d", w.Code)
	}
}
