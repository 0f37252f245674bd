// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認証フロー全体で共有するエラー分類。
// HTTP層でerrors.Isにより判別し、ステータスコードへ変換する。
var (
	// ErrInvalidState はOAuth stateの欠落または不一致（400）。
	ErrInvalidState = errors.New("invalid or missing oauth state")
	// ErrInvalidProvider は未知のプロバイダー指定（400）。
	ErrInvalidProvider = errors.New("invalid provider")
	// ErrOAuthProcess はトークン交換・プロフィール取得・ユーザー照合の失敗（500）。
	// 詳細はサーバーログのみに記録する。
	ErrOAuthProcess = errors.New("oauth process error")
	// ErrUnauthenticated は資格情報の欠落・不正・期限切れ。
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden は有効な資格情報だが権限不足（401、リダイレクトなし）。
	ErrForbidden = errors.New("forbidden")
	// ErrStoreUnavailable はドキュメントストアへのアクセス失敗（500、本層ではリトライしない）。
	ErrStoreUnavailable = errors.New("store unavailable")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeInvalidProvider  = "INVALID_PROVIDER"
	ErrCodeOAuthProcess     = "OAUTH_PROCESS_ERROR"
	ErrCodeUnauthenticated  = "UNAUTHENTICATED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeAccountNotLinked = "ACCOUNT_NOT_LINKED"
)

// NewInvalidStateError はstate検証失敗エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "認証リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "ログインを最初からやり直してください。",
	}
}

// NewInvalidProviderError は未対応プロバイダーエラーを生成する。
func NewInvalidProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProvider,
		Message:  fmt.Sprintf("未対応の認証プロバイダーです: %s", provider),
		Category: "validation",
		Action:   "ログイン画面から対応しているプロバイダーを選択してください。",
	}
}

// NewOAuthProcessError はOAuth処理失敗エラーを生成する。
// 外部プロバイダーの詳細は含めない。
func NewOAuthProcessError() *APIError {
	return &APIError{
		Code:     ErrCodeOAuthProcess,
		Message:  "認証処理中にエラーが発生しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewUnauthenticatedError はセッション無効エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "セッションが無効または期限切れです。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewAccountNotLinkedError は解除対象のプロバイダー連携が存在しない場合のエラーを生成する。
func NewAccountNotLinkedError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotLinked,
		Message:  fmt.Sprintf("%s のアカウントは連携されていません。", provider),
		Category: "validation",
		Action:   "連携済みのプロバイダーを指定してください。",
	}
}
