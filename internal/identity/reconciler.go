// Package identity はIdPから返された外部アイデンティティとユーザーストアの照合を行う。
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/repository"
	"github.com/hitoshi/authbridge/internal/security"
)

// placeholderPasswordBytes はプレースホルダパスワードの乱数バイト数（16進で32文字）。
const placeholderPasswordBytes = 16

// Criteria はユーザー照合の検索条件。設定されたフィールドのみを使用する。
type Criteria struct {
	UserID            string
	Email             string
	Provider          string
	ProviderAccountID string
}

// hasProviderPair はプロバイダーアカウントの組が指定されているかを返す。
func (c Criteria) hasProviderPair() bool {
	return c.Provider != "" && c.ProviderAccountID != ""
}

func (c Criteria) account() model.ProviderAccount {
	return model.ProviderAccount{Provider: c.Provider, ProviderAccountID: c.ProviderAccountID}
}

// Profile は新規作成時に使用するIdPのプロフィール情報。
type Profile struct {
	Name      string
	Email     string
	AvatarURL string
}

// SessionRevoker はユーザー単位で保存済みセッションを削除する。
type SessionRevoker interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// Reconciler は外部アイデンティティをユーザーレコードに解決する。
type Reconciler struct {
	users       repository.UserRepository
	sessions    SessionRevoker
	sanitizer   security.ProfileSanitizerService
	defaultRole model.Role
	now         func() time.Time
}

// NewReconciler はReconcilerを生成する。defaultRoleは新規作成ユーザーに付与するロール。
// sessionsがnilの場合、紐付け解除時にセッションを失効させない。
func NewReconciler(users repository.UserRepository, sessions SessionRevoker, sanitizer security.ProfileSanitizerService, defaultRole model.Role) *Reconciler {
	return &Reconciler{
		users:       users,
		sessions:    sessions,
		sanitizer:   sanitizer,
		defaultRole: defaultRole,
		now:         time.Now,
	}
}

// storeError はストア障害をErrStoreUnavailableで包む。
func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}

// FindOrCreate は条件に一致するユーザーを返し、存在しなければ作成する。
// 照合順序（最初に一致したものを採用）:
//  1. ユーザーID
//  2. メールアドレス（プロバイダーアカウントが未紐付けなら追加する）
//  3. (provider, provider_account_id)
//  4. 新規作成
func (r *Reconciler) FindOrCreate(ctx context.Context, c Criteria, p Profile) (*model.User, error) {
	if c.UserID != "" {
		user, err := r.users.FindByID(ctx, c.UserID)
		if err != nil {
			return nil, storeError("find user by id", err)
		}
		if user != nil {
			slog.Debug("identity matched by user id", slog.String("user_id", user.ID))
			return user, nil
		}
	}

	if c.Email != "" {
		user, err := r.users.FindByEmail(ctx, c.Email)
		if err != nil {
			return nil, storeError("find user by email", err)
		}
		if user != nil {
			slog.Debug("identity matched by email", slog.String("user_id", user.ID))
			if c.hasProviderPair() && !user.HasAccount(c.Provider, c.ProviderAccountID) {
				return r.mergeAccount(ctx, user, c)
			}
			return user, nil
		}
	}

	if c.hasProviderPair() {
		user, err := r.users.FindByProviderAccount(ctx, c.Provider, c.ProviderAccountID)
		if err != nil {
			return nil, storeError("find user by provider account", err)
		}
		if user != nil {
			slog.Debug("identity matched by provider account",
				slog.String("user_id", user.ID),
				slog.String("provider", c.Provider),
			)
			return user, nil
		}
	}

	return r.create(ctx, c, p)
}

// mergeAccount はメールアドレスで一致したユーザーにプロバイダーアカウントを追加する。
// 既存の紐付けは置き換えない。
func (r *Reconciler) mergeAccount(ctx context.Context, user *model.User, c Criteria) (*model.User, error) {
	account := c.account()
	err := r.users.AddProviderAccount(ctx, user.ID, account)
	if errors.Is(err, repository.ErrDuplicate) {
		// 同時ログインで先に紐付け済み、または別ユーザーが既に保持している
		return r.resolveConflict(ctx, c)
	}
	if err != nil {
		return nil, storeError("link provider account", err)
	}

	user.Accounts = append(user.Accounts, account)
	slog.Info("provider account linked",
		slog.String("user_id", user.ID),
		slog.String("provider", c.Provider),
	)
	return user, nil
}

// create は新規ユーザーを作成する。
func (r *Reconciler) create(ctx context.Context, c Criteria, p Profile) (*model.User, error) {
	password, err := placeholderPasswordHash()
	if err != nil {
		return nil, fmt.Errorf("generate placeholder password: %w", err)
	}

	email := p.Email
	if email == "" {
		email = c.Email
	}

	now := r.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      r.sanitizer.DisplayName(p.Name),
		AvatarURL: r.sanitizer.AvatarURL(p.AvatarURL),
		Role:      r.defaultRole,
		Password:  password,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c.hasProviderPair() {
		user.Accounts = []model.ProviderAccount{c.account()}
	}

	err = r.users.Create(ctx, user)
	if errors.Is(err, repository.ErrDuplicate) {
		return r.resolveConflict(ctx, c)
	}
	if err != nil {
		return nil, storeError("create user", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", c.Provider),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// resolveConflict は一意制約違反の後に勝者のレコードを再検索する。
func (r *Reconciler) resolveConflict(ctx context.Context, c Criteria) (*model.User, error) {
	if c.hasProviderPair() {
		user, err := r.users.FindByProviderAccount(ctx, c.Provider, c.ProviderAccountID)
		if err != nil {
			return nil, storeError("re-query user by provider account", err)
		}
		if user != nil {
			slog.Info("concurrent login resolved by provider account", slog.String("user_id", user.ID))
			return user, nil
		}
	}
	if c.Email != "" {
		user, err := r.users.FindByEmail(ctx, c.Email)
		if err != nil {
			return nil, storeError("re-query user by email", err)
		}
		if user != nil {
			slog.Info("concurrent login resolved by email", slog.String("user_id", user.ID))
			return user, nil
		}
	}
	return nil, storeError("resolve duplicate user", repository.ErrDuplicate)
}

// UnlinkAccount はユーザーからproviderのアカウント紐付けを解除し、
// そのユーザーの保存済みセッションをすべて失効させる。
// ユーザーまたは紐付けが存在しない場合はfalseを返す。
func (r *Reconciler) UnlinkAccount(ctx context.Context, userID, provider string) (bool, error) {
	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		return false, storeError("find user by id", err)
	}
	if user == nil {
		return false, nil
	}

	var account *model.ProviderAccount
	for i := range user.Accounts {
		if user.Accounts[i].Provider == provider {
			account = &user.Accounts[i]
			break
		}
	}
	if account == nil {
		return false, nil
	}

	removed, err := r.users.RemoveProviderAccount(ctx, *account)
	if err != nil {
		return false, storeError("unlink provider account", err)
	}
	if !removed {
		return false, nil
	}

	if r.sessions != nil {
		if err := r.sessions.DeleteByUserID(ctx, user.ID); err != nil {
			return true, storeError("revoke sessions", err)
		}
	}
	slog.Info("provider account unlinked",
		slog.String("user_id", user.ID),
		slog.String("provider", provider),
	)
	return true, nil
}

// CreateVerificationToken はidentifier（メールアドレス）に一致するユーザーへ確認トークンを追加する。
// ユーザーが存在しない場合はnilを返す。
func (r *Reconciler) CreateVerificationToken(ctx context.Context, identifier, token string, expiresAt time.Time) (*model.VerificationToken, error) {
	user, err := r.users.FindByEmail(ctx, identifier)
	if err != nil {
		return nil, storeError("find user by email", err)
	}
	slog.Debug("create verification token", slog.Bool("user_found", user != nil))
	if user == nil {
		return nil, nil
	}

	vt := model.VerificationToken{Identifier: identifier, Token: token, ExpiresAt: expiresAt}
	if err := r.users.AddVerificationToken(ctx, user.ID, vt); err != nil {
		return nil, storeError("add verification token", err)
	}
	return &vt, nil
}

// UseVerificationToken は確認トークンを消費する。トークンは一度しか使用できない。
// 存在しない、または期限切れの場合はnilを返す。
func (r *Reconciler) UseVerificationToken(ctx context.Context, identifier, token string) (*model.VerificationToken, error) {
	vt, err := r.users.ConsumeVerificationToken(ctx, identifier, token)
	if err != nil {
		return nil, storeError("consume verification token", err)
	}
	if vt == nil || !r.now().Before(vt.ExpiresAt) {
		return nil, nil
	}
	return vt, nil
}

// placeholderPasswordHash はストアのスキーマ上必須なパスワード欄に入れるbcryptハッシュを生成する。
// 元の乱数文字列は破棄するため、パスワードログインには使用できない。
func placeholderPasswordHash() (string, error) {
	b := make([]byte, placeholderPasswordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(b)), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
