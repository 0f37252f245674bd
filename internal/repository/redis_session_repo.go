package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authbridge/internal/model"
)

const (
	redisSessionKeyPrefix     = "authbridge:session:"
	redisUserSessionKeyPrefix = "authbridge:user_sessions:"
)

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// セッションはトークン単位のキーにJSONで保存し、有効期限をキーのTTLに合わせる。
// ユーザー単位の全削除のため、ユーザーごとにトークンの集合を保持する。
// 集合のTTLは最も長く生きるメンバーのセッションに合わせる。
type RedisSessionRepo struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client redis.UniversalClient) *RedisSessionRepo {
	return &RedisSessionRepo{client: client, now: time.Now}
}

type redisSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func sessionKey(token string) string {
	return redisSessionKeyPrefix + token
}

func userSessionsKey(userID string) string {
	return redisUserSessionKeyPrefix + userID
}

// ttlUntil はRedisのTTLを算出する。期限切れ済みでも最小1秒は保持する。
func (r *RedisSessionRepo) ttlUntil(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(r.now())
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// Create はセッションを作成する。同一トークンが存在する場合はErrDuplicateを返す。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	payload, err := json.Marshal(redisSession(*session))
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ok, err := r.client.SetNX(ctx, sessionKey(session.Token), payload, r.ttlUntil(session.ExpiresAt)).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("failed to create session: %w", ErrDuplicate)
	}

	ttl := r.ttlUntil(session.ExpiresAt)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, userSessionsKey(session.UserID), session.Token)
	pipe.ExpireNX(ctx, userSessionsKey(session.UserID), ttl)
	pipe.ExpireGT(ctx, userSessionsKey(session.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index user session: %w", err)
	}
	return nil
}

// FindByToken はトークンでセッションを取得する。見つからない場合はnilを返す。
func (r *RedisSessionRepo) FindByToken(ctx context.Context, token string) (*model.Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var rs redisSession
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	session := model.Session(rs)
	return &session, nil
}

// UpdateExpiry はセッションの有効期限とキーのTTLを更新する。
// セッションが既に存在しない場合は何もしない。
func (r *RedisSessionRepo) UpdateExpiry(ctx context.Context, token string, expiresAt time.Time) error {
	session, err := r.FindByToken(ctx, token)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	session.ExpiresAt = expiresAt
	payload, err := json.Marshal(redisSession(*session))
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	ttl := r.ttlUntil(expiresAt)
	pipe := r.client.TxPipeline()
	pipe.SetXX(ctx, sessionKey(token), payload, ttl)
	pipe.ExpireGT(ctx, userSessionsKey(session.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update session expiry: %w", err)
	}
	return nil
}

// DeleteByToken は指定トークンのセッションを削除する。
func (r *RedisSessionRepo) DeleteByToken(ctx context.Context, token string) error {
	session, err := r.FindByToken(ctx, token)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(token))
	if session != nil {
		pipe.SRem(ctx, userSessionsKey(session.UserID), token)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *RedisSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	tokens, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, sessionKey(token))
	}
	keys = append(keys, userSessionsKey(userID))

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
