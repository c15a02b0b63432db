package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hirely/hirely-api/internal/model"
)

// GoTrueError はSupabase Auth（GoTrue）が返したエラーレスポンス。
type GoTrueError struct {
	StatusCode int
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *GoTrueError) Error() string {
	return fmt.Sprintf("supabase auth returned status %d: %s", e.StatusCode, e.Message)
}

// GoTrueConfig はGoTrueClientの設定。
type GoTrueConfig struct {
	BaseURL        string // SUPABASE_URL（末尾スラッシュなし）
	AnonKey        string
	ServiceRoleKey string
	Timeout        time.Duration
}

// GoTrueClient はSupabase AuthのREST APIクライアント。
// トークン解決、サインアップ、ログインなど認証操作をすべてSupabaseへ委譲する。
type GoTrueClient struct {
	config     GoTrueConfig
	httpClient *http.Client
}

// NewGoTrueClient はGoTrueClientを生成する。
func NewGoTrueClient(config GoTrueConfig) *GoTrueClient {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &GoTrueClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// gotrueUser はGoTrueのユーザーオブジェクト。
type gotrueUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u *gotrueUser) toIdentity() *model.Identity {
	return &model.Identity{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata}
}

// gotrueSession はトークン発行系エンドポイントのレスポンス。
// メール確認が有効なプロジェクトのsignupはセッションを含まずユーザーオブジェクトのみを返す。
type gotrueSession struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
	User         *gotrueUser `json:"user"`

	// セッションなしのsignupレスポンス用
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (s *gotrueSession) toAuthSession(now time.Time) *model.AuthSession {
	user := s.User
	if user == nil {
		user = &gotrueUser{ID: s.ID, Email: s.Email, UserMetadata: s.UserMetadata}
	}
	return &model.AuthSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
		User:         user.toIdentity().ToUser(now),
	}
}

// ResolveToken はアクセストークンをGET /auth/v1/userで解決する。
// トークンが無効（401/403）の場合はnil, nilを返す。
func (c *GoTrueClient) ResolveToken(ctx context.Context, token string) (*model.Identity, error) {
	var user gotrueUser
	err := c.do(ctx, http.MethodGet, "/auth/v1/user", token, nil, &user)
	if err != nil {
		if isUnauthorizedStatus(err) {
			return nil, nil
		}
		return nil, err
	}
	return user.toIdentity(), nil
}

// SignUp はメールアドレスとパスワードでユーザーを登録する。
func (c *GoTrueClient) SignUp(ctx context.Context, email, password, fullName string) (*model.AuthSession, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]any{"full_name": fullName},
	}
	var session gotrueSession
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "", body, &session); err != nil {
		return nil, err
	}
	return session.toAuthSession(time.Now()), nil
}

// SignInWithPassword はパスワードグラントでトークンを発行する。
func (c *GoTrueClient) SignInWithPassword(ctx context.Context, email, password string) (*model.AuthSession, error) {
	body := map[string]any{"email": email, "password": password}
	var session gotrueSession
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", body, &session); err != nil {
		return nil, err
	}
	return session.toAuthSession(time.Now()), nil
}

// Logout はアクセストークンに紐づくセッションを失効させる。
func (c *GoTrueClient) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/v1/logout", token, nil, nil)
}

// Recover はパスワードリセットメールの送信を依頼する。
func (c *GoTrueClient) Recover(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/v1/recover", "", map[string]any{"email": email}, nil)
}

// UserUpdate はPUT /auth/v1/userで更新する属性。空のフィールドは送信しない。
type UserUpdate struct {
	Password string
	Data     map[string]any
}

// UpdateUser はトークンの持ち主のパスワードまたはメタデータを更新する。
func (c *GoTrueClient) UpdateUser(ctx context.Context, token string, update UserUpdate) (*model.Identity, error) {
	body := map[string]any{}
	if update.Password != "" {
		body["password"] = update.Password
	}
	if len(update.Data) > 0 {
		body["data"] = update.Data
	}
	var user gotrueUser
	if err := c.do(ctx, http.MethodPut, "/auth/v1/user", token, body, &user); err != nil {
		return nil, err
	}
	return user.toIdentity(), nil
}

// AdminDeleteUser はサービスロールキーでユーザーを削除する。
func (c *GoTrueClient) AdminDeleteUser(ctx context.Context, userID string) error {
	if c.config.ServiceRoleKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is not configured")
	}
	key := c.config.ServiceRoleKey
	return c.send(ctx, http.MethodDelete, "/auth/v1/admin/users/"+url.PathEscape(userID), key, key, nil, nil)
}

// do はanonキーでGoTrueへリクエストを送信する。
func (c *GoTrueClient) do(ctx context.Context, method, path, bearer string, body, out any) error {
	return c.send(ctx, method, path, c.config.AnonKey, bearer, body, out)
}

// send はGoTrueへリクエストを送信し、2xx以外は*GoTrueErrorを返す。
// bearerが空の場合はapiKeyをAuthorizationにも使用する。
func (c *GoTrueClient) send(ctx context.Context, method, path, apiKey, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if bearer == "" {
		bearer = apiKey
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase auth request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read supabase auth response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &GoTrueError{StatusCode: resp.StatusCode, Message: parseGoTrueMessage(respBody)}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse supabase auth response: %w", err)
	}
	return nil
}

// parseGoTrueMessage はGoTrueのエラーボディから人が読めるメッセージを取り出す。
// バージョンにより msg / message / error_description / error のいずれかに入る。
func parseGoTrueMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"error_description", "msg", "message", "error"} {
			if s, ok := payload[key].(string); ok && s != "" {
				return s
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty response"
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func isUnauthorizedStatus(err error) bool {
	if ge, ok := err.(*GoTrueError); ok {
		return ge.StatusCode == http.StatusUnauthorized || ge.StatusCode == http.StatusForbidden
	}
	return false
}

// compile-time interface check
var _ IdentityProvider = (*GoTrueClient)(nil)
