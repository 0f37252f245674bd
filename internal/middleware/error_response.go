package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/authbridge/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteAuthError は認証フローのエラーを分類し、対応するステータスで書き込む。
// 未分類のエラーは500として扱う。
func WriteAuthError(w http.ResponseWriter, err error, provider string) {
	switch {
	case errors.Is(err, model.ErrInvalidState):
		WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
	case errors.Is(err, model.ErrInvalidProvider):
		WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidProviderError(provider))
	case errors.Is(err, model.ErrUnauthenticated), errors.Is(err, model.ErrForbidden):
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
	case errors.Is(err, model.ErrOAuthProcess):
		WriteErrorResponse(w, http.StatusInternalServerError, model.NewOAuthProcessError())
	default:
		WriteInternalServerError(w)
	}
}
