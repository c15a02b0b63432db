package handler

import (
	"context"
	"net/http"

	"github.com/hirely/hirely-api/internal/middleware"
	"github.com/hirely/hirely-api/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// UpdateProfile は表示名を更新し、更新後のユーザーを返す。
	UpdateProfile(ctx context.Context, token, fullName string) (*model.User, error)
	// Withdraw はユーザーの退会処理を実行する。
	// analyses、interviews、録画、Supabaseのユーザーを削除する。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type updateProfileRequest struct {
	FullName string `json:"full_name"`
}

// Me は認証済みユーザーを返す。
// GET /users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// UpdateMe は表示名を更新する。
// PUT /users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	token, err := middleware.TokenFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), token, req.FullName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}
	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
