package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authbridge/internal/metrics"
	"github.com/hitoshi/authbridge/internal/middleware"
	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/session"
)

// UserResponse はユーザー情報のレスポンス。パスワードやアカウント連携情報は含めない。
type UserResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
	Role       string `json:"role"`
	Collection string `json:"collection"`
}

func newUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		ImageURL:   u.AvatarURL,
		Role:       string(u.Role),
		Collection: model.UsersCollection,
	}
}

// RefreshResponse はPOST /api/users/refresh-token のレスポンス。
type RefreshResponse struct {
	RefreshToken string       `json:"refreshToken"`
	Exp          int64        `json:"exp"`
	User         UserResponse `json:"user"`
}

// AccountUnlinker はプロバイダー連携の解除を行うサービスインターフェース。
type AccountUnlinker interface {
	UnlinkAccount(ctx context.Context, userID, provider string) (bool, error)
}

// UserHandler はセッション利用者向けのHTTPハンドラー。
type UserHandler struct {
	sessions session.Strategy
	accounts AccountUnlinker
	cookies  middleware.CookieConfig
	metrics  metrics.MetricsCollector
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(sessions session.Strategy, accounts AccountUnlinker, cookies middleware.CookieConfig, collector metrics.MetricsCollector) *UserHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &UserHandler{sessions: sessions, accounts: accounts, cookies: cookies, metrics: collector}
}

// RefreshToken は現在のセッションを検証し、有効期限を延長した資格情報を発行する。
// POST /api/users/refresh-token
func (h *UserHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	kind := h.sessions.Kind()
	token := cookieValue(r, h.sessions.CookieName())
	if token == "" {
		h.metrics.RecordSessionRefresh(kind, "invalid")
		h.unauthenticated(w)
		return
	}

	state, err := h.sessions.Read(r.Context(), token)
	if err != nil {
		h.metrics.RecordSessionRefresh(kind, "error")
		slog.Error("failed to read session", slog.String("error", err.Error()))
		middleware.WriteAuthError(w, err, "")
		return
	}
	if state == nil {
		h.metrics.RecordSessionRefresh(kind, "invalid")
		h.unauthenticated(w)
		return
	}

	cred, err := h.sessions.Refresh(r.Context(), token)
	if err != nil {
		h.metrics.RecordSessionRefresh(kind, "error")
		slog.Error("failed to refresh session",
			slog.String("user_id", state.User.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteAuthError(w, err, "")
		return
	}
	if cred == nil {
		h.metrics.RecordSessionRefresh(kind, "invalid")
		h.unauthenticated(w)
		return
	}

	h.metrics.RecordSessionRefresh(kind, "ok")
	middleware.AnnotateUser(r.Context(), state.User.ID, string(state.User.Role))
	setSessionCookies(w, h.cookies, h.sessions, cred)
	writeJSON(w, http.StatusOK, RefreshResponse{
		RefreshToken: cred.AccessToken,
		Exp:          cred.AccessExpiresAt.Unix(),
		User:         newUserResponse(state.User),
	})
}

// Me は現在のセッションのユーザー情報を返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	token := cookieValue(r, h.sessions.CookieName())
	if token == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	state, err := h.sessions.Read(r.Context(), token)
	if err != nil {
		slog.Error("failed to read session", slog.String("error", err.Error()))
		middleware.WriteAuthError(w, err, "")
		return
	}
	if state == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	middleware.AnnotateUser(r.Context(), state.User.ID, string(state.User.Role))
	writeJSON(w, http.StatusOK, map[string]any{
		"user": newUserResponse(state.User),
		"exp":  state.ExpiresAt.Unix(),
	})
}

// UnlinkAccount はプロバイダー連携を解除する。保存済みセッションは失効するため、Cookieも削除する。
// DELETE /api/users/me/accounts/{provider}
func (h *UserHandler) UnlinkAccount(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	token := cookieValue(r, h.sessions.CookieName())
	if token == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	state, err := h.sessions.Read(r.Context(), token)
	if err != nil {
		slog.Error("failed to read session", slog.String("error", err.Error()))
		middleware.WriteAuthError(w, err, "")
		return
	}
	if state == nil {
		h.unauthenticated(w)
		return
	}
	middleware.AnnotateUser(r.Context(), state.User.ID, string(state.User.Role))

	removed, err := h.accounts.UnlinkAccount(r.Context(), state.User.ID, provider)
	if err != nil {
		slog.Error("failed to unlink account",
			slog.String("user_id", state.User.ID),
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		// 解除済みでセッション失効だけが失敗した場合もCookieは破棄する
		if removed {
			clearSessionCookies(w, h.cookies, h.sessions)
		}
		middleware.WriteInternalServerError(w)
		return
	}
	if !removed {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewAccountNotLinkedError(provider))
		return
	}

	clearSessionCookies(w, h.cookies, h.sessions)
	w.WriteHeader(http.StatusNoContent)
}

// unauthenticated は401を返し、失効したCookieを削除する。
func (h *UserHandler) unauthenticated(w http.ResponseWriter) {
	clearSessionCookies(w, h.cookies, h.sessions)
	middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
