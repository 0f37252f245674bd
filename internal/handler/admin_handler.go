package handler

import (
	"net/http"
	"net/url"

	"github.com/hitoshi/authbridge/internal/middleware"
	"github.com/hitoshi/authbridge/internal/model"
	"github.com/hitoshi/authbridge/internal/security"
)

// AdminHandler は管理画面の入口となる最小限のエンドポイントを提供する。
// 画面そのものはこのサービスの対象外で、ログイン導線とガード通過後のセッション確認のみを返す。
type AdminHandler struct {
	providers []string
}

// NewAdminHandler はAdminHandlerを生成する。providersはログインに使えるプロバイダー識別子。
func NewAdminHandler(providers []string) *AdminHandler {
	return &AdminHandler{providers: providers}
}

type loginOption struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

// Login はプロバイダーごとのログイン開始URLを返す。
// GET {LOGIN_PATH}[?redirect=path]
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	target, ok := security.SafeRedirectPath(r.URL.Query().Get("redirect"))

	options := make([]loginOption, 0, len(h.providers))
	for _, p := range h.providers {
		u := "/api/auth/" + url.PathEscape(p)
		if ok {
			u += "?" + url.Values{"redirect": {target}}.Encode()
		}
		options = append(options, loginOption{Provider: p, URL: u})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": options})
}

// Session はアクセスガードが検証したクレームを返す。
// GET {ADMIN_PATH_PREFIX}
func (h *AdminHandler) Session(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": UserResponse{
			ID:         claims.UserID,
			Email:      claims.Email,
			Name:       claims.Name,
			ImageURL:   claims.ImageURL,
			Role:       string(claims.Role),
			Collection: claims.Collection,
		},
		"exp": claims.ExpiresAt.Unix(),
	})
}
