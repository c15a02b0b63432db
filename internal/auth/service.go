// Package auth はSupabase Authへの認証委譲とリクエストごとのユーザー解決を提供する。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/hirely/hirely-api/internal/model"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// Gateway はSupabase Authへ委譲する認証操作。
type Gateway interface {
	SignUp(ctx context.Context, email, password, fullName string) (*model.AuthSession, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.AuthSession, error)
	Logout(ctx context.Context, token string) error
	Recover(ctx context.Context, email string) error
	UpdateUser(ctx context.Context, token string, update UserUpdate) (*model.Identity, error)
}

// TokenEvicter はトークンキャッシュのエントリを削除する。
type TokenEvicter interface {
	Evict(ctx context.Context, token string) error
	EvictUser(ctx context.Context, userID string) error
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider IdentityProvider
	gateway  Gateway
	evicter  TokenEvicter
	now      func() time.Time
}

// NewService はServiceを生成する。evicterはトークンキャッシュ未使用時はnilでよい。
func NewService(provider IdentityProvider, gateway Gateway, evicter TokenEvicter) *Service {
	return &Service{
		provider: provider,
		gateway:  gateway,
		evicter:  evicter,
		now:      time.Now,
	}
}

// ExtractBearerToken はAuthorizationヘッダから"Bearer <token>"形式のトークンを取り出す。
// スキームは大文字小文字を区別しない。形式が不正またはトークンが空の場合はfalseを返す。
func ExtractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// Authenticate はAuthorizationヘッダを検証し、ユーザーコンテキストを返す。
// ヘッダの形式が不正な場合はIdPへ問い合わせずにUnauthorizedを返す。
// ユーザーはローカルに保存せず、IdPの応答から毎回組み立てる。
func (s *Service) Authenticate(ctx context.Context, authorization string) (*model.User, string, error) {
	token, ok := ExtractBearerToken(authorization)
	if !ok {
		return nil, "", model.NewUnauthorizedError("")
	}

	identity, err := s.provider.ResolveToken(ctx, token)
	if err != nil {
		slog.Warn("identity provider unavailable", slog.String("error", err.Error()))
		return nil, "", model.NewUnauthorizedError("")
	}
	if identity == nil || identity.ID == "" || identity.Email == "" {
		return nil, "", model.NewUnauthorizedError("")
	}

	return identity.ToUser(s.now()), token, nil
}

// RequireActiveUser は無効化されたユーザーを拒否する。
func RequireActiveUser(user *model.User) error {
	if user == nil {
		return model.NewUnauthorizedError("")
	}
	if !user.IsActive {
		return model.NewInactiveUserError()
	}
	return nil
}

// Register はユーザーを登録する。
func (s *Service) Register(ctx context.Context, email, password, fullName string) (*model.AuthSession, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, passwordTooShort()
	}

	session, err := s.gateway.SignUp(ctx, email, password, strings.TrimSpace(fullName))
	if err != nil {
		return nil, MapGatewayError(err)
	}

	slog.Info("user registered", slog.String("user_id", session.User.ID))
	return session, nil
}

// Login はメールアドレスとパスワードでログインする。
// IdPが資格情報を拒否した場合はUnauthorizedを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.AuthSession, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, model.NewValidationError("email and password are required")
	}

	session, err := s.gateway.SignInWithPassword(ctx, email, password)
	if err != nil {
		var ge *GoTrueError
		if errors.As(err, &ge) && (ge.StatusCode == http.StatusBadRequest || ge.StatusCode == http.StatusUnauthorized) {
			return nil, model.NewUnauthorizedError("Incorrect email or password")
		}
		return nil, MapGatewayError(err)
	}

	return session, nil
}

// Logout はIdP側のセッションを失効させ、トークンキャッシュを削除する。
func (s *Service) Logout(ctx context.Context, token string) error {
	s.ForgetToken(ctx, token)

	if err := s.gateway.Logout(ctx, token); err != nil {
		var ge *GoTrueError
		// 既に失効済みのトークンはログアウト済みとして扱う
		if errors.As(err, &ge) && (ge.StatusCode == http.StatusUnauthorized || ge.StatusCode == http.StatusNotFound) {
			return nil
		}
		return MapGatewayError(err)
	}
	return nil
}

// ForgotPassword はパスワードリセットメールの送信を依頼する。
// アカウントの存在を明かさないため、IdPの応答に関わらずエラーを返さない。
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := s.gateway.Recover(ctx, email); err != nil {
		slog.Warn("password recovery request failed", slog.String("error", err.Error()))
	}
	return nil
}

// ChangePassword はトークンの持ち主のパスワードを変更する。
func (s *Service) ChangePassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return passwordTooShort()
	}
	if _, err := s.gateway.UpdateUser(ctx, token, UserUpdate{Password: newPassword}); err != nil {
		return MapGatewayError(err)
	}
	return nil
}

// ForgetToken はトークンキャッシュを削除する。失敗はログのみ。
func (s *Service) ForgetToken(ctx context.Context, token string) {
	if s.evicter == nil {
		return
	}
	if err := s.evicter.Evict(ctx, token); err != nil {
		slog.Warn("token cache eviction failed", slog.String("error", err.Error()))
	}
}

// ForgetUser はユーザーのすべてのトークンキャッシュを削除する。失敗はログのみ。
func (s *Service) ForgetUser(ctx context.Context, userID string) {
	if s.evicter == nil {
		return
	}
	if err := s.evicter.EvictUser(ctx, userID); err != nil {
		slog.Warn("user token cache eviction failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func validateEmail(email string) error {
	if email == "" {
		return model.NewValidationError("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.NewValidationError("email is invalid")
	}
	return nil
}

func passwordTooShort() error {
	return model.NewValidationError("password must be at least 8 characters")
}

// MapGatewayError はIdPのエラーをAPIErrorに変換する。
// IdPのメッセージはdetailとしてそのまま返す。
func MapGatewayError(err error) error {
	var ge *GoTrueError
	if !errors.As(err, &ge) {
		slog.Error("supabase auth request failed", slog.String("error", err.Error()))
		return model.NewProviderError("supabase", "authentication service unavailable")
	}
	switch {
	case ge.StatusCode == http.StatusUnauthorized || ge.StatusCode == http.StatusForbidden:
		return model.NewUnauthorizedError(ge.Message)
	case ge.StatusCode == http.StatusTooManyRequests:
		return model.NewRateLimitedError()
	case ge.StatusCode >= 400 && ge.StatusCode < 500:
		return model.NewBadRequestError(ge.Message)
	default:
		return model.NewProviderError("supabase", ge.Message)
	}
}
