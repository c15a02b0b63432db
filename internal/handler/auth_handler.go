// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hirely/hirely-api/internal/middleware"
	"github.com/hirely/hirely-api/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password, fullName string) (*model.AuthSession, error)
	Login(ctx context.Context, email, password string) (*model.AuthSession, error)
	Logout(ctx context.Context, token string) error
	ForgotPassword(ctx context.Context, email string) error
	ChangePassword(ctx context.Context, token, newPassword string) error
}

// TokenDecoder は署名を検証せずにJWTをデコードする。診断用途に限る。
type TokenDecoder func(token string) (header, claims map[string]any, err error)

// AuthHandler は認証のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	decode  TokenDecoder
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, decode TokenDecoder) *AuthHandler {
	return &AuthHandler{
		service: service,
		decode:  decode,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// sessionResponse はトークン一式のAPIレスポンス。
type sessionResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int           `json:"expires_in"`
	User         *userResponse `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Register はユーザー登録を処理する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.Register(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

// Login はメールアドレスとパスワードでのログインを処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// Logout はログアウトを処理する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, err := middleware.TokenFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ForgotPassword はパスワードリセットメールの送信を依頼する。
// アカウントの存在を明かさないため常に同じメッセージを返す。
// POST /auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Message: "If an account exists for this email, a password reset link has been sent",
	})
}

// ChangePassword はパスワードを変更する。
// POST /auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	token, err := middleware.TokenFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), token, req.NewPassword); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Password updated"})
}

// DebugToken は署名を検証せずにトークンをデコードして返す。
// 出力は認可には使用しない。本番環境ではルート自体を登録しない。
// GET /auth/debug/token
func (h *AuthHandler) DebugToken(w http.ResponseWriter, r *http.Request) {
	token, err := middleware.TokenFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	header, claims, err := h.decode(token)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewBadRequestError("Token is not a decodable JWT"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"verified": false,
		"header":   header,
		"claims":   claims,
	})
}

func toSessionResponse(session *model.AuthSession) sessionResponse {
	resp := sessionResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		TokenType:    session.TokenType,
		ExpiresIn:    session.ExpiresIn,
	}
	if session.User != nil {
		u := toUserResponse(session.User)
		resp.User = &u
	}
	return resp
}

func toUserResponse(user *model.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  user.Name,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
