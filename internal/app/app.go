package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authbridge/internal/auth"
	"github.com/hitoshi/authbridge/internal/config"
	"github.com/hitoshi/authbridge/internal/credential"
	"github.com/hitoshi/authbridge/internal/database"
	"github.com/hitoshi/authbridge/internal/handler"
	"github.com/hitoshi/authbridge/internal/identity"
	"github.com/hitoshi/authbridge/internal/logger"
	"github.com/hitoshi/authbridge/internal/metrics"
	"github.com/hitoshi/authbridge/internal/middleware"
	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/repository"
	"github.com/hitoshi/authbridge/internal/security"
	"github.com/hitoshi/authbridge/internal/session"
	"github.com/hitoshi/authbridge/internal/worker/cleanup"
)

// cleanupInterval はワーカーが期限切れレコードを削除する間隔。
const cleanupInterval = time.Hour

// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, false)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetVerbose(cfg.AuthVerbose)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_strategy", cfg.SessionStrategy),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// stores は起動モード間で共有する永続化層。
type stores struct {
	db       *sql.DB
	redis    *redis.Client // SESSION_BACKEND=redis の場合のみ非nil
	users    *repository.PostgresUserRepo
	sessions repository.SessionRepository
}

// openStores はDB（と設定によりRedis）へ接続し、リポジトリを初期化する。
func openStores(cfg *config.Config) (*stores, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	s := &stores{
		db:    db,
		users: repository.NewPostgresUserRepo(db),
	}

	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		client, err := database.OpenRedis(cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.redis = client
		s.sessions = repository.NewRedisSessionRepo(client)
		slog.Info("using redis session backend")
	default:
		s.sessions = repository.NewPostgresSessionRepo(db)
	}
	return s, nil
}

func (s *stores) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
	s.db.Close()
}

// pingers はヘルスチェック対象の依存サービスを返す。
func (s *stores) pingers() map[string]handler.Pinger {
	deps := map[string]handler.Pinger{"postgres": s.db}
	if s.redis != nil {
		deps["redis"] = database.RedisPinger{Client: s.redis}
	}
	return deps
}

// server はHTTPサーバーの構成要素。
type server struct {
	router      http.Handler
	rateLimiter *middleware.RateLimiter
}

// buildServer は全依存関係をワイヤリングしてルーターを構築する。
func buildServer(cfg *config.Config, st *stores, reg *prometheus.Registry) (*server, error) {
	collector := metrics.NewCollector(reg)
	codec := credential.NewCodec([]byte(cfg.AuthSecret))
	cookies := middleware.CookieConfig{Domain: cfg.CookieDomain, Secure: cfg.CookieSecure}

	strategy, err := session.New(session.Config{
		Strategy:        cfg.SessionStrategy,
		SessionMaxAge:   cfg.SessionMaxAgeDuration(),
		TokenExpiration: cfg.TokenExpirationDuration(),
		SecureCookies:   cfg.CookieSecure,
	}, codec, st.users, st.sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to configure session strategy: %w", err)
	}

	guard := security.NewSSRFGuard()
	github := auth.NewGitHubOAuthProvider(auth.GitHubOAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
		HTTPClient:   guard.NewSafeClient(cfg.OAuthHTTPTimeout),
	})
	reconciler := identity.NewReconciler(st.users, st.sessions, security.NewProfileSanitizer(guard), model.Role(cfg.DefaultUserRole))
	authService := auth.NewService([]auth.Provider{github}, reconciler, strategy, auth.ServiceConfig{
		ExchangeTimeout: cfg.OAuthHTTPTimeout,
		Observer:        collector,
	})

	rateLimiter := middleware.NewRateLimiter(middleware.AuthRateLimiterConfig(cfg.RateLimitAuth), "auth", collector)

	deps := &handler.RouterDeps{
		Logger:      slog.Default(),
		AccessGuard: middleware.NewAccessGuard(middleware.AccessGuardConfig{
			Verifier:           codec,
			AdminPathPrefix:    cfg.AdminPathPrefix,
			LoginPath:          cfg.LoginPath,
			LogoutPath:         cfg.LogoutPath,
			AccessCookieName:   session.AccessCookieName,
			SessionCookieNames: []string{strategy.CookieName()},
			Cookies:            cookies,
			Observer:           collector,
		}),
		RateLimiter:     rateLimiter,
		Auth:            handler.NewAuthHandler(authService, strategy, cookies, collector),
		User:            handler.NewUserHandler(strategy, reconciler, cookies, collector),
		Health:          handler.NewHealthHandler(st.pingers()),
		Metrics:         metrics.Handler(reg),
		AdminPathPrefix: cfg.AdminPathPrefix,
		LoginPath:       cfg.LoginPath,
		Admin:           handler.NewAdminHandler([]string{github.Name()}),
	}

	return &server{
		router:      handler.NewRouter(deps),
		rateLimiter: rateLimiter,
	}, nil
}

// newRegistry はプロセス・ランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	srv, err := buildServer(cfg, st, newRegistry())
	if err != nil {
		return err
	}
	defer srv.rateLimiter.Stop()

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newCleanupJob は設定に応じたクリーンアップジョブを生成する。
// Redisバックエンドのセッションは有効期限で消えるため対象外にする。
func newCleanupJob(cfg *config.Config, st *stores, recorder cleanup.SweepRecorder) *cleanup.CleanupJob {
	var sessions cleanup.SessionSweeper
	if sweeper, ok := st.sessions.(repository.ExpiredSessionSweeper); ok && cfg.SessionStrategy == config.SessionStrategyDatabase {
		sessions = sweeper
	}
	return cleanup.NewCleanupJob(sessions, st.users, recorder, slog.Default())
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションと確認トークンを定期的に削除する。
// コンテナのヘルスチェックとメトリクス収集のため /health と /metrics のみを公開する。
func runWorker(cfg *config.Config) error {
	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := newRegistry()
	job := newCleanupJob(cfg, st, metrics.NewCollector(reg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	probeServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newWorkerRouter(st.pingers(), reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := probeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker probe server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting", slog.Duration("cleanup_interval", cleanupInterval))
	job.Loop(ctx, cleanupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := probeServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker probe server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerRouter はワーカー用の最小ルーターを構築する。
func newWorkerRouter(deps map[string]handler.Pinger, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(deps))
	r.Handle("/metrics", metrics.Handler(gatherer))
	return r
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はdistroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
