// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// User はリクエストごとに外部IdPから再構築される認証済みユーザー。
// ローカルには永続化しない。
type User struct {
	ID        string
	Email     string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity は外部IdPがトークンから解決したユーザー情報を表す。
type Identity struct {
	ID       string
	Email    string
	Metadata map[string]any
}

// DisplayName はメタデータから表示名を決定する。
// full_name → name → メールアドレスのローカルパートの順で採用する。
func (i *Identity) DisplayName() string {
	for _, key := range []string{"full_name", "name"} {
		if v, ok := i.Metadata[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	local, _, _ := strings.Cut(i.Email, "@")
	return local
}

// ToUser はIdentityからユーザーコンテキストを生成する。
// IsActiveは常にtrue、タイムスタンプは現在時刻となる。
func (i *Identity) ToUser(now time.Time) *User {
	return &User{
		ID:        i.ID,
		Email:     i.Email,
		Name:      i.DisplayName(),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AuthSession はIdPが発行したアクセストークン一式を表す。
type AuthSession struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	User         *User
}
