package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/authbridge/internal/auth"
	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/session"
)

// --- モック定義 ---

type mockAuthFlow struct {
	unknown    map[string]bool
	beginFn    func(provider string) (*auth.Authorization, error)
	completeFn func(ctx context.Context, req auth.CallbackRequest) (*auth.Result, error)
	lastReq    auth.CallbackRequest
}

func (m *mockAuthFlow) HasProvider(name string) bool {
	return !m.unknown[name]
}

func (m *mockAuthFlow) BeginAuthorization(provider string) (*auth.Authorization, error) {
	if m.beginFn != nil {
		return m.beginFn(provider)
	}
	return &auth.Authorization{Provider: provider, URL: "https://github.com/login/oauth/authorize?state=s1", State: "s1"}, nil
}

func (m *mockAuthFlow) CompleteAuthorization(ctx context.Context, req auth.CallbackRequest) (*auth.Result, error) {
	m.lastReq = req
	if m.completeFn != nil {
		return m.completeFn(ctx, req)
	}
	return nil, nil
}

type mockStrategy struct {
	kind       string
	cookieName string
	readFn     func(ctx context.Context, token string) (*session.State, error)
	refreshFn  func(ctx context.Context, token string) (*session.Credential, error)
	destroyFn  func(ctx context.Context, token string) error
	destroyed  []string
}

func (m *mockStrategy) Kind() string { return m.kind }

func (m *mockStrategy) CookieName() string { return m.cookieName }

func (m *mockStrategy) Create(context.Context, *model.User) (*session.Credential, error) {
	return nil, nil
}

func (m *mockStrategy) Read(ctx context.Context, token string) (*session.State, error) {
	if m.readFn != nil {
		return m.readFn(ctx, token)
	}
	return nil, nil
}

func (m *mockStrategy) Refresh(ctx context.Context, token string) (*session.Credential, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, token)
	}
	return nil, nil
}

func (m *mockStrategy) Destroy(ctx context.Context, token string) error {
	m.destroyed = append(m.destroyed, token)
	if m.destroyFn != nil {
		return m.destroyFn(ctx, token)
	}
	return nil
}

type mockUnlinker struct {
	unlinkFn func(ctx context.Context, userID, provider string) (bool, error)
	calls    []string
}

func (m *mockUnlinker) UnlinkAccount(ctx context.Context, userID, provider string) (bool, error) {
	m.calls = append(m.calls, userID+"/"+provider)
	if m.unlinkFn != nil {
		return m.unlinkFn(ctx, userID, provider)
	}
	return false, nil
}

// --- compile-time interface checks ---
var _ AuthFlow = (*mockAuthFlow)(nil)
var _ AccountUnlinker = (*mockUnlinker)(nil)
var _ session.Strategy = (*mockStrategy)(nil)

func newDatabaseMockStrategy() *mockStrategy {
	return &mockStrategy{kind: session.KindDatabase, cookieName: session.DatabaseCookieName}
}

func testCredential() *session.Credential {
	now := time.Now()
	return &session.Credential{
		Token:           "opaque-token",
		ExpiresAt:       now.Add(30 * 24 * time.Hour),
		AccessToken:     "signed.access.token",
		AccessExpiresAt: now.Add(2 * time.Hour),
	}
}

// cookiesByName はレスポンスのSet-Cookieを名前で引けるようにする。
func cookiesByName(resp *http.Response) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range resp.Cookies() {
		out[c.Name] = c
	}
	return out
}
