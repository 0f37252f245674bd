package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/authbridge/internal/credential"
	"github.com/hitoshi/authbridge/internal/model"
)

// TokenStrategy は署名付きトークンのみでセッションを表現する戦略。
// サーバー側に状態を持たないため、ログアウトはCookieの削除のみで完結する。
type TokenStrategy struct {
	codec *credential.Codec
	ttl   time.Duration
}

// NewTokenStrategy はTokenStrategyを生成する。
func NewTokenStrategy(codec *credential.Codec, ttl time.Duration) *TokenStrategy {
	return &TokenStrategy{codec: codec, ttl: ttl}
}

func (s *TokenStrategy) Kind() string { return KindJWT }

func (s *TokenStrategy) CookieName() string { return AccessCookieName }

// Create はユーザーのクレームからトークンを発行する。
func (s *TokenStrategy) Create(_ context.Context, user *model.User) (*Credential, error) {
	token, exp, err := mintAccess(s.codec, credential.ClaimsFromUser(user), s.ttl)
	if err != nil {
		return nil, fmt.Errorf("create token session: %w", err)
	}
	return &Credential{Token: token, ExpiresAt: exp, AccessToken: token, AccessExpiresAt: exp}, nil
}

// Read はトークンを検証する。無効な場合はnilを返す。
func (s *TokenStrategy) Read(_ context.Context, token string) (*State, error) {
	claims, err := s.codec.Verify(token)
	if err != nil {
		return nil, nil
	}
	return &State{
		User:      userFromClaims(claims),
		Claims:    claims,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh は有効なトークンのクレームを引き継いで有効期限を延長したトークンを発行する。
// ロールなどのクレームは再取得しない。
func (s *TokenStrategy) Refresh(_ context.Context, token string) (*Credential, error) {
	claims, err := s.codec.Verify(token)
	if err != nil {
		return nil, nil
	}

	next := *claims
	next.RegisteredClaims = jwt.RegisteredClaims{}
	refreshed, exp, err := mintAccess(s.codec, next, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("refresh token session: %w", err)
	}
	return &Credential{Token: refreshed, ExpiresAt: exp, AccessToken: refreshed, AccessExpiresAt: exp}, nil
}

// Destroy は何もしない。
func (s *TokenStrategy) Destroy(context.Context, string) error {
	return nil
}

// compile-time interface check
var _ Strategy = (*TokenStrategy)(nil)
