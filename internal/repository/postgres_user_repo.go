package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/authbridge/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// ユーザー本体はusers、外部アカウントはprovider_accounts、確認トークンはverification_tokensに保存する。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const selectUserColumns = `SELECT u.id, u.email, u.name, u.avatar_url, u.role, u.password, u.created_at, u.updated_at FROM users u`

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "find user by ID",
		selectUserColumns+` WHERE u.id = $1`, id)
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
// 空文字のメールアドレスでは検索しない。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, nil
	}
	return r.findOne(ctx, "find user by email",
		selectUserColumns+` WHERE u.email = $1`, email)
}

// FindByProviderAccount は(provider, provider_account_id)でユーザーを検索する。
func (r *PostgresUserRepo) FindByProviderAccount(ctx context.Context, provider, providerAccountID string) (*model.User, error) {
	return r.findOne(ctx, "find user by provider account",
		selectUserColumns+` JOIN provider_accounts pa ON pa.user_id = u.id
		 WHERE pa.provider = $1 AND pa.provider_account_id = $2`,
		provider, providerAccountID)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, op, query string, args ...any) (*model.User, error) {
	user := &model.User{}
	var role string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &user.Email, &user.Name, &user.AvatarURL, &role,
		&user.Password, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	user.Role = model.Role(role)

	if err := r.loadRelations(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// loadRelations はユーザーに紐付くAccountsとVerificationTokensを読み込む。
func (r *PostgresUserRepo) loadRelations(ctx context.Context, user *model.User) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT provider, provider_account_id FROM provider_accounts
		 WHERE user_id = $1 ORDER BY created_at, provider`,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to list provider accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a model.ProviderAccount
		if err := rows.Scan(&a.Provider, &a.ProviderAccountID); err != nil {
			return fmt.Errorf("failed to scan provider account: %w", err)
		}
		user.Accounts = append(user.Accounts, a)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate provider accounts: %w", err)
	}

	tokenRows, err := r.db.QueryContext(ctx,
		`SELECT identifier, token, expires_at FROM verification_tokens
		 WHERE user_id = $1 ORDER BY expires_at`,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to list verification tokens: %w", err)
	}
	defer tokenRows.Close()

	for tokenRows.Next() {
		var vt model.VerificationToken
		if err := tokenRows.Scan(&vt.Identifier, &vt.Token, &vt.ExpiresAt); err != nil {
			return fmt.Errorf("failed to scan verification token: %w", err)
		}
		user.VerificationTokens = append(user.VerificationTokens, vt)
	}
	if err := tokenRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate verification tokens: %w", err)
	}
	return nil
}

// Create はユーザーとAccountsを同一トランザクションで作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, avatar_url, role, password, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.Name, user.AvatarURL, string(user.Role),
		user.Password, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError("failed to insert user", err)
	}

	for _, a := range user.Accounts {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO provider_accounts (user_id, provider, provider_account_id, created_at)
			 VALUES ($1, $2, $3, $4)`,
			user.ID, a.Provider, a.ProviderAccountID, user.CreatedAt,
		)
		if err != nil {
			return wrapWriteError("failed to insert provider account", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AddProviderAccount はユーザーに外部アカウントを追加し、updated_atを更新する。
func (r *PostgresUserRepo) AddProviderAccount(ctx context.Context, userID string, account model.ProviderAccount) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO provider_accounts (user_id, provider, provider_account_id, created_at)
		 VALUES ($1, $2, $3, now())`,
		userID, account.Provider, account.ProviderAccountID,
	)
	if err != nil {
		return wrapWriteError("failed to link provider account", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET updated_at = now() WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("failed to touch user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RemoveProviderAccount は外部アカウントの紐付けを削除する。
func (r *PostgresUserRepo) RemoveProviderAccount(ctx context.Context, account model.ProviderAccount) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM provider_accounts WHERE provider = $1 AND provider_account_id = $2`,
		account.Provider, account.ProviderAccountID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to unlink provider account: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// AddVerificationToken はユーザーに確認トークンを追加する。
func (r *PostgresUserRepo) AddVerificationToken(ctx context.Context, userID string, token model.VerificationToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verification_tokens (user_id, identifier, token, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		userID, token.Identifier, token.Token, token.ExpiresAt,
	)
	if err != nil {
		return wrapWriteError("failed to insert verification token", err)
	}
	return nil
}

// ConsumeVerificationToken は確認トークンを削除し、削除したトークンを返す。
func (r *PostgresUserRepo) ConsumeVerificationToken(ctx context.Context, identifier, token string) (*model.VerificationToken, error) {
	vt := &model.VerificationToken{}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM verification_tokens WHERE identifier = $1 AND token = $2
		 RETURNING identifier, token, expires_at`,
		identifier, token,
	).Scan(&vt.Identifier, &vt.Token, &vt.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification token: %w", err)
	}
	return vt, nil
}

// DeleteExpiredVerificationTokens は期限切れの確認トークンを削除する。
func (r *PostgresUserRepo) DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM verification_tokens WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verification tokens: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
