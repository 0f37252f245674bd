package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authbridge/internal/credential"
	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/repository"
)

// sessionTokenBytes はセッショントークンの乱数バイト数（16進で64文字）。
const sessionTokenBytes = 32

// DatabaseConfig はDatabaseStrategyの設定。
type DatabaseConfig struct {
	SessionMaxAge   time.Duration
	TokenExpiration time.Duration
	SecureCookies   bool
}

// DatabaseStrategy はセッションをストアに永続化する戦略。
// セッションCookieには不透明トークンを保存し、アクセスガード用に署名付きトークンも併せて発行する。
type DatabaseStrategy struct {
	codec    *credential.Codec
	users    repository.UserRepository
	sessions repository.SessionRepository
	config   DatabaseConfig
	now      func() time.Time
}

// NewDatabaseStrategy はDatabaseStrategyを生成する。
func NewDatabaseStrategy(codec *credential.Codec, users repository.UserRepository, sessions repository.SessionRepository, config DatabaseConfig) *DatabaseStrategy {
	return &DatabaseStrategy{
		codec:    codec,
		users:    users,
		sessions: sessions,
		config:   config,
		now:      time.Now,
	}
}

func (s *DatabaseStrategy) Kind() string { return KindDatabase }

// CookieName は本番環境では__Secure-プレフィックス付きの名前を返す。
func (s *DatabaseStrategy) CookieName() string {
	if s.config.SecureCookies {
		return SecureDatabaseCookieName
	}
	return DatabaseCookieName
}

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}

// Create はセッションを作成し、不透明トークンとアクセストークンを返す。
// アクセストークンを先に発行し、署名に失敗した場合はセッション行を作らない。
func (s *DatabaseStrategy) Create(ctx context.Context, user *model.User) (*Credential, error) {
	access, accessExp, err := mintAccess(s.codec, credential.ClaimsFromUser(user), s.config.TokenExpiration)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	sess := &model.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: now.Add(s.config.SessionMaxAge),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, storeError("create session", err)
	}

	slog.Debug("session created", slog.String("user_id", user.ID))
	return &Credential{
		Token:           token,
		ExpiresAt:       sess.ExpiresAt,
		AccessToken:     access,
		AccessExpiresAt: accessExp,
	}, nil
}

// Read はトークンでセッションを取得する。期限切れのセッションはここで削除する。
func (s *DatabaseStrategy) Read(ctx context.Context, token string) (*State, error) {
	sess, user, err := s.load(ctx, token)
	if err != nil || sess == nil {
		return nil, err
	}
	claims := credential.ClaimsFromUser(user)
	return &State{User: user, Claims: &claims, ExpiresAt: sess.ExpiresAt}, nil
}

// Refresh はトークンを変更せずに有効期限を延長し、最新のユーザー情報でアクセストークンを再発行する。
func (s *DatabaseStrategy) Refresh(ctx context.Context, token string) (*Credential, error) {
	sess, user, err := s.load(ctx, token)
	if err != nil || sess == nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.config.SessionMaxAge)
	if err := s.sessions.UpdateExpiry(ctx, token, expiresAt); err != nil {
		return nil, storeError("extend session", err)
	}

	access, accessExp, err := mintAccess(s.codec, credential.ClaimsFromUser(user), s.config.TokenExpiration)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	return &Credential{
		Token:           token,
		ExpiresAt:       expiresAt,
		AccessToken:     access,
		AccessExpiresAt: accessExp,
	}, nil
}

// Destroy はセッションを削除する。不透明トークンの形式でない値は無視する。
func (s *DatabaseStrategy) Destroy(ctx context.Context, token string) error {
	if !isSessionToken(token) {
		return nil
	}
	if err := s.sessions.DeleteByToken(ctx, token); err != nil {
		return storeError("delete session", err)
	}
	return nil
}

// load はセッションと所有ユーザーを取得する。
// 形式不正・未登録・期限切れ・ユーザー不在のいずれもnilを返す。
func (s *DatabaseStrategy) load(ctx context.Context, token string) (*model.Session, *model.User, error) {
	// 戦略切り替え直後に残っている署名付きトークンはストアに問い合わせず拒否する
	if !isSessionToken(token) {
		return nil, nil, nil
	}

	sess, err := s.sessions.FindByToken(ctx, token)
	if err != nil {
		return nil, nil, storeError("find session", err)
	}
	if sess == nil {
		return nil, nil, nil
	}

	if sess.Expired(s.now()) {
		if err := s.sessions.DeleteByToken(ctx, token); err != nil {
			return nil, nil, storeError("delete expired session", err)
		}
		slog.Debug("expired session removed", slog.String("user_id", sess.UserID))
		return nil, nil, nil
	}

	user, err := s.users.FindByID(ctx, sess.UserID)
	if err != nil {
		return nil, nil, storeError("find session user", err)
	}
	if user == nil {
		return nil, nil, nil
	}
	return sess, user, nil
}

// generateSessionToken は暗号的に安全なセッショントークンを生成する。
func generateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// isSessionToken は値が64文字の小文字16進数かを判定する。
func isSessionToken(token string) bool {
	if len(token) != sessionTokenBytes*2 {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// compile-time interface check
var _ Strategy = (*DatabaseStrategy)(nil)
