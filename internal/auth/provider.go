package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/hirely/hirely-api/internal/model"
)

// IdentityProvider はアクセストークンをユーザー情報に解決する。
// トークンが無効な場合はnil, nilを返し、errorはIdPへの到達失敗などの障害にのみ使う。
type IdentityProvider interface {
	ResolveToken(ctx context.Context, token string) (*model.Identity, error)
}

// supabaseAudience はSupabaseが発行するアクセストークンのaud。
const supabaseAudience = "authenticated"

// supabaseClaims はSupabaseアクセストークンのクレーム。
type supabaseClaims struct {
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	jwt.RegisteredClaims
}

// JWTProvider はSupabaseのJWTシークレットでアクセストークンをローカル検証する。
// IdPへのネットワーク往復が不要になる代わりに、Supabase側でのセッション失効は
// トークンの有効期限まで反映されない。
type JWTProvider struct {
	secret []byte
}

// NewJWTProvider はJWTProviderを生成する。
func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

// ResolveToken は署名・有効期限・audienceを検証し、sub/email/user_metadataを返す。
func (p *JWTProvider) ResolveToken(_ context.Context, token string) (*model.Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(supabaseAudience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)

	claims := &supabaseClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	})
	if err != nil || !parsed.Valid {
		slog.Debug("jwt verification failed", slog.String("error", fmt.Sprint(err)))
		return nil, nil
	}

	return &model.Identity{
		ID:       claims.Subject,
		Email:    claims.Email,
		Metadata: claims.UserMetadata,
	}, nil
}

// tokenCacheKeyPrefix はRedis上のキャッシュキーの接頭辞。
const tokenCacheKeyPrefix = "hirely:token:"

// userTokensKeyPrefix はユーザーごとのキャッシュキー集合（Redis SET）の接頭辞。
const userTokensKeyPrefix = "hirely:user-tokens:"

// cachedIdentity はRedisに保存するIdentityの表現。
type cachedIdentity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CachingProvider は解決結果をRedisにキャッシュするIdentityProvider。
// キーはトークンのSHA-256で、トークン自体は保存しない。
// 無効なトークンの結果はキャッシュしない。エントリの有効期間はトークンのexpを超えず、
// expを持たないトークンはキャッシュしない。
// Redisの障害時はキャッシュを迂回して下位のプロバイダで解決する。
type CachingProvider struct {
	next   IdentityProvider
	client *redis.Client
	ttl    time.Duration
}

// NewCachingProvider はCachingProviderを生成する。
func NewCachingProvider(next IdentityProvider, client *redis.Client, ttl time.Duration) *CachingProvider {
	return &CachingProvider{next: next, client: client, ttl: ttl}
}

// ResolveToken はキャッシュを参照し、ミス時は下位のプロバイダで解決して保存する。
func (p *CachingProvider) ResolveToken(ctx context.Context, token string) (*model.Identity, error) {
	key := tokenCacheKey(token)

	raw, err := p.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached cachedIdentity
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &model.Identity{ID: cached.ID, Email: cached.Email, Metadata: cached.Metadata}, nil
		}
		slog.Warn("discarding corrupt token cache entry")
	case !errors.Is(err, redis.Nil):
		slog.Warn("token cache lookup failed", slog.String("error", err.Error()))
	}

	identity, err := p.next.ResolveToken(ctx, token)
	if err != nil || identity == nil {
		return identity, err
	}

	ttl := p.entryTTL(token)
	if ttl <= 0 {
		return identity, nil
	}
	payload, err := json.Marshal(cachedIdentity{ID: identity.ID, Email: identity.Email, Metadata: identity.Metadata})
	if err != nil {
		return identity, nil
	}
	// 集合のTTLは個々のエントリの上限（p.ttl）に揃え、最後の保存から延長する
	userKey := userTokensKey(identity.ID)
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, ttl)
		pipe.SAdd(ctx, userKey, key)
		pipe.Expire(ctx, userKey, p.ttl)
		return nil
	})
	if err != nil {
		slog.Warn("token cache store failed", slog.String("error", err.Error()))
	}

	return identity, nil
}

// entryTTL はキャッシュの有効期間を返す。設定値とトークンの残り有効期間の短い方。
// expは署名を検証せずに読むが、期間を短くする方向にしか使わない。
// expが読めない・残り1秒未満の場合は0を返す。
func (p *CachingProvider) entryTTL(token string) time.Duration {
	if p.ttl <= 0 {
		return 0
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil || claims.ExpiresAt == nil {
		return 0
	}
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining < time.Second {
		return 0
	}
	return min(p.ttl, remaining)
}

// Evict はトークンのキャッシュエントリを削除する。
// ログアウトやプロフィール更新後に古いユーザー情報が返らないようにする。
func (p *CachingProvider) Evict(ctx context.Context, token string) error {
	if err := p.client.Del(ctx, tokenCacheKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to evict token cache: %w", err)
	}
	return nil
}

// EvictUser はユーザーのすべてのトークンのキャッシュエントリを削除する。
// プロフィール更新や退会を、他のセッションのキャッシュにも反映させる。
func (p *CachingProvider) EvictUser(ctx context.Context, userID string) error {
	userKey := userTokensKey(userID)
	keys, err := p.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list cached tokens: %w", err)
	}
	if err := p.client.Del(ctx, append(keys, userKey)...).Err(); err != nil {
		return fmt.Errorf("failed to evict user token cache: %w", err)
	}
	return nil
}

func userTokensKey(userID string) string {
	return userTokensKeyPrefix + userID
}

func tokenCacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return tokenCacheKeyPrefix + hex.EncodeToString(sum[:])
}

// DecodeUnverified は署名を検証せずにトークンのヘッダとクレームを返す。
// 診断専用であり、結果を認可判断に使ってはならない。
func DecodeUnverified(token string) (header, claims map[string]any, err error) {
	mc := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, mc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return parsed.Header, mc, nil
}

// compile-time interface check
var (
	_ IdentityProvider = (*JWTProvider)(nil)
	_ IdentityProvider = (*CachingProvider)(nil)
)
