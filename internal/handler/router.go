package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/authbridge/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	AccessGuard func(http.Handler) http.Handler
	RateLimiter *middleware.RateLimiter

	// ハンドラー
	Auth   *AuthHandler
	User   *UserHandler
	Health http.Handler

	// Metrics は/metricsのハンドラー。nilの場合はルートを登録しない。
	Metrics http.Handler

	// AdminPathPrefix配下はアクセスガードが保護する。
	AdminPathPrefix string
	LoginPath       string
	Admin           *AdminHandler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders → AccessGuard
//
// アクセスガードはルーティング前に全リクエストへ適用し、ログアウトパスはガード自身が処理する。
// /api/auth/* にはクライアントIP単位のレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware("/api/auth", "/api/users", deps.AdminPathPrefix))
	if deps.AccessGuard != nil {
		r.Use(deps.AccessGuard)
	}

	// --- 運用系 ---
	r.Get("/health", deps.Health.ServeHTTP)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	// --- 認証フロー ---
	r.Route("/api/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Get("/logout", deps.Auth.Logout)
		r.Get("/callback/{provider}", deps.Auth.Callback)
		r.Get("/{provider}", deps.Auth.Begin)
	})

	// --- セッション ---
	r.Route("/api/users", func(r chi.Router) {
		r.Post("/refresh-token", deps.User.RefreshToken)
		r.Get("/me", deps.User.Me)
		r.Delete("/me/accounts/{provider}", deps.User.UnlinkAccount)
	})

	// --- 管理画面（アクセスガード配下） ---
	if deps.Admin != nil && deps.AdminPathPrefix != "" {
		prefix := strings.TrimRight(deps.AdminPathPrefix, "/")
		r.Get(deps.LoginPath, deps.Admin.Login)
		r.Get(prefix, deps.Admin.Session)
	}

	return r
}
