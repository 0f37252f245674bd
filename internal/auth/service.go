// Package auth はOAuth認可コードフロー（state発行、コード交換、ユーザー照合、セッション発行）を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authbridge/internal/identity"
	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/session"
)

// stateBytes はOAuth stateの乱数バイト数（16進で32文字）。
const stateBytes = 16

// defaultExchangeTimeout はプロバイダー通信の既定タイムアウト。
const defaultExchangeTimeout = 10 * time.Second

// ExternalProfile はOAuthプロバイダーから取得したユーザー情報を表す。
type ExternalProfile struct {
	Provider          string
	ProviderAccountID string
	Email             string
	Name              string
	AvatarURL         string
}

// Provider はOAuth認証プロバイダーのインターフェース。
type Provider interface {
	// Name はURLパスで使用するプロバイダー識別子を返す。
	Name() string
	// AuthCodeURL はstateを含む認可URLを生成する。
	AuthCodeURL(state string) string
	// Exchange は認可コードをトークンに交換し、プロフィールを取得する。
	Exchange(ctx context.Context, code string) (*ExternalProfile, error)
}

// UserReconciler は外部アイデンティティをユーザーに解決する。
type UserReconciler interface {
	FindOrCreate(ctx context.Context, c identity.Criteria, p identity.Profile) (*model.User, error)
}

// SessionIssuer はログイン成功時にセッションを発行する。
type SessionIssuer interface {
	Create(ctx context.Context, user *model.User) (*session.Credential, error)
}

// Authorization は認可リダイレクトの開始情報。
type Authorization struct {
	Provider string
	URL      string
	State    string
}

// CallbackRequest はプロバイダーからのコールバック内容と、ブラウザが保持していたstate。
type CallbackRequest struct {
	Provider      string
	Code          string
	State         string
	StoredState   string
	ProviderError string
}

// Result はログイン完了時の結果。
type Result struct {
	User       *model.User
	Credential *session.Credential
}

// Service は認証フローのビジネスロジックを提供する。
type Service struct {
	providers  map[string]Provider
	reconciler UserReconciler
	sessions   SessionIssuer
	timeout    time.Duration
	observer   LatencyObserver
}

// LatencyObserver はプロバイダー通信のレイテンシを受け取る。
type LatencyObserver interface {
	RecordProviderLatency(provider string, duration time.Duration)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// ExchangeTimeout はコード交換とプロフィール取得全体のタイムアウト。
	ExchangeTimeout time.Duration
	// Observer はnilでもよい。
	Observer LatencyObserver
}

// NewService はServiceを生成する。
func NewService(providers []Provider, reconciler UserReconciler, sessions SessionIssuer, config ServiceConfig) *Service {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	timeout := config.ExchangeTimeout
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}
	return &Service{
		providers:  byName,
		reconciler: reconciler,
		sessions:   sessions,
		timeout:    timeout,
		observer:   config.Observer,
	}
}

// HasProvider は指定のプロバイダーが設定済みかを返す。
func (s *Service) HasProvider(name string) bool {
	_, ok := s.providers[name]
	return ok
}

// BeginAuthorization はstateを生成し、プロバイダーの認可URLを返す。
func (s *Service) BeginAuthorization(provider string) (*Authorization, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, fmt.Errorf("begin authorization %q: %w", provider, model.ErrInvalidProvider)
	}

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	return &Authorization{
		Provider: p.Name(),
		URL:      p.AuthCodeURL(state),
		State:    state,
	}, nil
}

// CompleteAuthorization はコールバックを検証し、ユーザーを照合してセッションを発行する。
// stateの検証はプロバイダーへの通信より前に行う。
func (s *Service) CompleteAuthorization(ctx context.Context, req CallbackRequest) (*Result, error) {
	p, ok := s.providers[req.Provider]
	if !ok {
		return nil, fmt.Errorf("complete authorization %q: %w", req.Provider, model.ErrInvalidProvider)
	}

	if !statesMatch(req.State, req.StoredState) {
		slog.Debug("oauth state mismatch",
			slog.String("provider", req.Provider),
			slog.Bool("state_present", req.State != ""),
			slog.Bool("cookie_present", req.StoredState != ""),
		)
		return nil, model.ErrInvalidState
	}

	if req.ProviderError != "" {
		return nil, fmt.Errorf("%w: provider returned error %q", model.ErrOAuthProcess, req.ProviderError)
	}
	if req.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", model.ErrOAuthProcess)
	}

	profile, err := s.exchange(ctx, p, req.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrOAuthProcess, err)
	}

	user, err := s.reconciler.FindOrCreate(ctx,
		identity.Criteria{
			Email:             profile.Email,
			Provider:          profile.Provider,
			ProviderAccountID: profile.ProviderAccountID,
		},
		identity.Profile{
			Name:      profile.Name,
			Email:     profile.Email,
			AvatarURL: profile.AvatarURL,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: reconcile user: %w", model.ErrOAuthProcess, err)
	}

	cred, err := s.sessions.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %w", model.ErrOAuthProcess, err)
	}

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", profile.Provider),
	)
	return &Result{User: user, Credential: cred}, nil
}

// exchange はタイムアウト付きでプロバイダーと通信する。
func (s *Service) exchange(ctx context.Context, p Provider, code string) (*ExternalProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	profile, err := p.Exchange(ctx, code)
	if s.observer != nil {
		s.observer.RecordProviderLatency(p.Name(), time.Since(start))
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("oauth provider timed out",
				slog.String("provider", p.Name()),
				slog.Duration("timeout", s.timeout),
			)
		}
		return nil, err
	}
	if profile.ProviderAccountID == "" {
		return nil, errors.New("provider returned empty account id")
	}
	if profile.Provider == "" {
		profile.Provider = p.Name()
	}
	return profile, nil
}

// statesMatch はクエリのstateとCookieのstateを定数時間で比較する。
// どちらかが空の場合は不一致とする。
func statesMatch(state, stored string) bool {
	if state == "" || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(state), []byte(stored)) == 1
}

// generateState は暗号的に安全なstateを生成する。
func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
