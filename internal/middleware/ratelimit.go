package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hirely/hirely-api/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	AnalysisRate    rate.Limit    // 分析開始・再生成のレート（req/sec）
	AnalysisBurst   int           // 分析開始・再生成のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// NewRateLimiterConfig は1分あたりのリクエスト数からレート制限設定を生成する。
func NewRateLimiterConfig(generalPerMinute, analysisPerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMinute) / 60.0),
		GeneralBurst:    generalPerMinute,
		AnalysisRate:    rate.Limit(float64(analysisPerMinute) / 60.0),
		AnalysisBurst:   analysisPerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、分析 10 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 10)
}

// userLimiter はユーザーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は1種類のレート制限についてユーザーごとのリミッターを管理する。
type limiterSet struct {
	name  string
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*userLimiter
}

func newLimiterSet(name string, r rate.Limit, burst int) *limiterSet {
	return &limiterSet{name: name, rate: r, burst: burst, limiters: make(map[string]*userLimiter)}
}

func (s *limiterSet) get(userID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ul, ok := s.limiters[userID]; ok {
		ul.lastAccess = time.Now()
		return ul.limiter
	}
	limiter := rate.NewLimiter(s.rate, s.burst)
	s.limiters[userID] = &userLimiter{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

func (s *limiterSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

func (s *limiterSet) evictIdle(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, ul := range s.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(s.limiters, userID)
		}
	}
}

// middleware はユーザーごとのレート制限ミドルウェアを返す。
// 認証ミドルウェアの後に配置する。
func (s *limiterSet) middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteUnauthorized(w, model.NewUnauthorizedError(""))
				return
			}

			if !s.get(userID).Allow() {
				writeRateLimitResponse(w, s.rate)
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", s.name),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般と分析開始の2種類を独立に提供する。
type RateLimiter struct {
	config   RateLimiterConfig
	general  *limiterSet
	analysis *limiterSet
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		general:  newLimiterSet("general", config.GeneralRate, config.GeneralBurst),
		analysis: newLimiterSet("analysis", config.AnalysisRate, config.AnalysisBurst),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.general.middleware()
}

// AnalysisMiddleware は分析開始・再生成専用のレート制限ミドルウェアを返す。
// 外部AIプロバイダの呼び出しを伴うため、API全般とは別枠で制限する。
func (rl *RateLimiter) AnalysisMiddleware() func(next http.Handler) http.Handler {
	return rl.analysis.middleware()
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// AnalysisLimiterCount は現在管理されている分析リミッターのエントリ数を返す。
func (rl *RateLimiter) AnalysisLimiterCount() int {
	return rl.analysis.count()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	now := time.Now()
	ttl := rl.config.CleanupInterval * 2
	rl.general.evictIdle(now, ttl)
	rl.analysis.evictIdle(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
