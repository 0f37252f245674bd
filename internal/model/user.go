// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限を表す。
type Role string

const (
	// RoleAdmin は管理画面へのアクセス権を持つ。
	RoleAdmin Role = "admin"
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
)

// Valid はRoleが定義済みの値かを判定する。
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// ProviderGitHub はGitHub OAuthプロバイダーの識別子。
const ProviderGitHub = "github"

// UsersCollection はトークンに埋め込むコレクション識別子。
const UsersCollection = "users"

// User はサービス利用ユーザーを表す。
// Accountsは(provider, provider_account_id)単位で一意であり、
// 同一ペアが複数のUserに紐付くことはない。
type User struct {
	ID                 string
	Email              string
	Name               string
	AvatarURL          string
	Role               Role
	Accounts           []ProviderAccount
	VerificationTokens []VerificationToken
	// Password はストアのスキーマ上必須なプレースホルダ（bcryptハッシュ）。ログインには使用しない。
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAccount は指定の外部アカウントが既に紐付いているかを判定する。
func (u *User) HasAccount(provider, providerAccountID string) bool {
	for _, a := range u.Accounts {
		if a.Provider == provider && a.ProviderAccountID == providerAccountID {
			return true
		}
	}
	return false
}

// ProviderAccount は外部IdPとの紐付け情報を表す。
type ProviderAccount struct {
	Provider          string
	ProviderAccountID string
}

// VerificationToken はメール確認などで使う一時トークンを表す。
type VerificationToken struct {
	Identifier string
	Token      string
	ExpiresAt  time.Time
}

// Session はDBセッション戦略で永続化されるログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired は指定時刻時点でセッションが期限切れかを判定する。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
