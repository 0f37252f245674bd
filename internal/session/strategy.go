// Package session は2種類のセッション戦略（署名付きトークンのみ／永続化セッション）を
// 共通の create/read/refresh/destroy 契約で提供する。
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/authbridge/internal/credential"
	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/repository"
)

// 戦略の識別子。
const (
	KindJWT      = "jwt"
	KindDatabase = "database"
)

// Cookie名。
const (
	// AccessCookieName はエッジのアクセスガードが検証する署名付きトークンのCookie名。
	// jwt戦略ではセッションCookieを兼ねる。
	AccessCookieName = "payload-token"
	// DatabaseCookieName はdatabase戦略の不透明セッショントークンのCookie名。
	DatabaseCookieName = "authjs.session-token"
	// SecureDatabaseCookieName は本番環境（Secure Cookie）でのDatabaseCookieName。
	SecureDatabaseCookieName = "__Secure-authjs.session-token"
)

// Credential はクライアントに渡すセッション資格情報。
type Credential struct {
	// Token はセッションCookieに保存する値。
	Token     string
	ExpiresAt time.Time
	// AccessToken はアクセスCookieに保存する署名付きトークン。jwt戦略ではTokenと同じ。
	AccessToken     string
	AccessExpiresAt time.Time
}

// State はセッションの読み取り結果。
type State struct {
	User      *model.User
	Claims    *credential.Claims
	ExpiresAt time.Time
}

// Strategy はセッション戦略の共通インターフェース。
// Read/Refreshは資格情報が無効な場合にnil, nilを返す。
type Strategy interface {
	Kind() string
	CookieName() string
	Create(ctx context.Context, user *model.User) (*Credential, error)
	Read(ctx context.Context, token string) (*State, error)
	Refresh(ctx context.Context, token string) (*Credential, error)
	Destroy(ctx context.Context, token string) error
}

// Config はセッション戦略の設定。
type Config struct {
	Strategy        string
	SessionMaxAge   time.Duration
	TokenExpiration time.Duration
	SecureCookies   bool
}

// New は設定に従って戦略を1つ選択する。起動時に1回だけ呼び出す。
func New(cfg Config, codec *credential.Codec, users repository.UserRepository, sessions repository.SessionRepository) (Strategy, error) {
	if cfg.TokenExpiration <= 0 {
		return nil, fmt.Errorf("token expiration must be positive")
	}

	switch cfg.Strategy {
	case KindJWT:
		return NewTokenStrategy(codec, cfg.TokenExpiration), nil
	case KindDatabase:
		if users == nil || sessions == nil {
			return nil, fmt.Errorf("database session strategy requires user and session repositories")
		}
		if cfg.SessionMaxAge <= 0 {
			return nil, fmt.Errorf("session max age must be positive")
		}
		return NewDatabaseStrategy(codec, users, sessions, DatabaseConfig{
			SessionMaxAge:   cfg.SessionMaxAge,
			TokenExpiration: cfg.TokenExpiration,
			SecureCookies:   cfg.SecureCookies,
		}), nil
	default:
		return nil, fmt.Errorf("unknown session strategy %q", cfg.Strategy)
	}
}

// mintAccess はユーザーのクレームからアクセストークンを発行し、トークンに記録された有効期限を返す。
func mintAccess(codec *credential.Codec, claims credential.Claims, ttl time.Duration) (string, time.Time, error) {
	token, err := codec.Mint(claims, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	minted, ok := codec.Parse(token)
	if !ok || minted.ExpiresAt == nil {
		return "", time.Time{}, fmt.Errorf("minted token has no expiry")
	}
	return token, minted.ExpiresAt.Time, nil
}

// userFromClaims はトークンのクレームからユーザー表現を組み立てる。
func userFromClaims(c *credential.Claims) *model.User {
	return &model.User{
		ID:        c.UserID,
		Email:     c.Email,
		Name:      c.Name,
		AvatarURL: c.ImageURL,
		Role:      c.Role,
	}
}
