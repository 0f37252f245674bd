// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/authbridge/internal/model"
)

// ErrDuplicate は一意制約違反（同一メールアドレス、同一プロバイダーアカウント、同一セッショントークン）。
// 同時初回ログインの競合時に返り、呼び出し側は再検索で既存レコードを取得する。
var ErrDuplicate = errors.New("duplicate record")

// UserRepository はユーザーデータの永続化インターフェース。
// 取得系メソッドは紐付くAccountsとVerificationTokensを含めて返す。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByProviderAccount は(provider, provider_account_id)でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAccount(ctx context.Context, provider, providerAccountID string) (*model.User, error)

	// Create はユーザーとAccountsを同一トランザクションで作成する。
	// 一意制約に違反した場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// AddProviderAccount はユーザーに外部アカウントを追加する。既存の紐付けは変更しない。
	// 同一ペアが既に存在する場合はErrDuplicateを返す。
	AddProviderAccount(ctx context.Context, userID string, account model.ProviderAccount) error

	// RemoveProviderAccount は外部アカウントの紐付けを削除する。
	// 削除対象が存在しない場合はfalseを返す。
	RemoveProviderAccount(ctx context.Context, account model.ProviderAccount) (bool, error)

	// AddVerificationToken はユーザーに確認トークンを追加する。
	AddVerificationToken(ctx context.Context, userID string, token model.VerificationToken) error

	// ConsumeVerificationToken は確認トークンを削除し、削除したトークンを返す。
	// 見つからない場合はnilを返す。
	ConsumeVerificationToken(ctx context.Context, identifier, token string) (*model.VerificationToken, error)

	// DeleteExpiredVerificationTokens は期限切れの確認トークンを削除し、削除件数を返す。
	DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error)
}

// SessionRepository はDBセッション戦略のセッション永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。トークンが重複した場合はErrDuplicateを返す。
	Create(ctx context.Context, session *model.Session) error
	// FindByToken はトークンでセッションを取得する。期限切れでも返す（削除は呼び出し側の責務）。
	// 見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.Session, error)
	// UpdateExpiry はセッションの有効期限を更新する。トークンは変更しない。
	UpdateExpiry(ctx context.Context, token string, expiresAt time.Time) error
	// DeleteByToken は指定トークンのセッションを削除する。
	DeleteByToken(ctx context.Context, token string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ExpiredSessionSweeper は期限切れセッションの一括削除を行う。
// Redisバックエンドは有効期限で自動削除されるため実装しない。
type ExpiredSessionSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
