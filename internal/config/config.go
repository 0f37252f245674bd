package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hitoshi/authbridge/internal/model"
)

// セッション戦略の識別子。
const (
	SessionStrategyJWT      = "jwt"
	SessionStrategyDatabase = "database"
)

// セッション永続化バックエンドの識別子（database戦略でのみ使用）。
const (
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`
	RedisURL    string `env:"REDIS_URL"`

	// OAuth
	GitHubClientID     string        `env:"GITHUB_CLIENT_ID,notEmpty"`
	GitHubClientSecret string        `env:"GITHUB_CLIENT_SECRET,notEmpty"`
	GitHubRedirectURL  string        `env:"GITHUB_REDIRECT_URL"`
	OAuthHTTPTimeout   time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"10s"`

	// Session
	AuthSecret      string `env:"AUTH_SECRET,notEmpty"`
	SessionStrategy string `env:"SESSION_STRATEGY" envDefault:"jwt"`
	SessionBackend  string `env:"SESSION_BACKEND" envDefault:"postgres"`
	SessionMaxAge   int    `env:"SESSION_MAX_AGE" envDefault:"2592000"` // 秒（30日）
	TokenExpiration int    `env:"TOKEN_EXPIRATION" envDefault:"7200"`   // 秒
	DefaultUserRole string `env:"DEFAULT_USER_ROLE"`

	// Access guard
	AdminPathPrefix string `env:"ADMIN_PATH_PREFIX" envDefault:"/admin"`
	LoginPath       string `env:"LOGIN_PATH" envDefault:"/admin/login"`
	LogoutPath      string `env:"LOGOUT_PATH" envDefault:"/logout"`

	// Rate Limit（req/min/IP）
	RateLimitAuth int `env:"RATE_LIMIT_AUTH" envDefault:"30"`

	// Logging
	AuthVerbose bool `env:"AUTH_VERBOSE"`

	// Server
	AppEnv     string `env:"APP_ENV" envDefault:"development"`
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,notEmpty"`

	// Cookie
	CookieDomain string `env:"COOKIE_DOMAIN"`
	CookieSecure bool
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CookieSecure = cfg.IsProduction()

	if cfg.GitHubRedirectURL == "" {
		cfg.GitHubRedirectURL = cfg.BaseURL + "/api/auth/callback/github"
	}

	// 開発環境では初回ログインユーザーを管理者にする
	if cfg.DefaultUserRole == "" {
		if cfg.IsProduction() {
			cfg.DefaultUserRole = string(model.RoleUser)
		} else {
			cfg.DefaultUserRole = string(model.RoleAdmin)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction は本番環境で起動しているかを返す。
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// SessionMaxAgeDuration はSessionMaxAgeをtime.Durationで返す。
func (c *Config) SessionMaxAgeDuration() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// TokenExpirationDuration はTokenExpirationをtime.Durationで返す。
func (c *Config) TokenExpirationDuration() time.Duration {
	return time.Duration(c.TokenExpiration) * time.Second
}

func (c *Config) validate() error {
	var problems []string

	switch c.SessionStrategy {
	case SessionStrategyJWT, SessionStrategyDatabase:
	default:
		problems = append(problems, fmt.Sprintf("SESSION_STRATEGY must be %q or %q", SessionStrategyJWT, SessionStrategyDatabase))
	}

	switch c.SessionBackend {
	case SessionBackendPostgres:
	case SessionBackendRedis:
		if c.RedisURL == "" {
			problems = append(problems, "REDIS_URL is required when SESSION_BACKEND=redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("SESSION_BACKEND must be %q or %q", SessionBackendPostgres, SessionBackendRedis))
	}

	if len(c.AuthSecret) < 32 {
		problems = append(problems, "AUTH_SECRET must be at least 32 bytes")
	}
	if c.SessionMaxAge <= 0 {
		problems = append(problems, "SESSION_MAX_AGE must be positive")
	}
	if c.TokenExpiration <= 0 {
		problems = append(problems, "TOKEN_EXPIRATION must be positive")
	}
	if !model.Role(c.DefaultUserRole).Valid() {
		problems = append(problems, "DEFAULT_USER_ROLE must be admin or user")
	}
	if !strings.HasPrefix(c.AdminPathPrefix, "/") || !strings.HasPrefix(c.LoginPath, "/") || !strings.HasPrefix(c.LogoutPath, "/") {
		problems = append(problems, "ADMIN_PATH_PREFIX, LOGIN_PATH and LOGOUT_PATH must start with /")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
