package analysis

import (
	"context"
	"time"

	"github.com/hirely/hirely-api/internal/ai"
)

const (
	// initialBackoff はプロバイダ呼び出し再試行の初回遅延。
	initialBackoff = time.Second
	// maxBackoff は再試行遅延の上限。
	maxBackoff = 8 * time.Second
	// defaultMaxAttempts はプロバイダ呼び出しの最大試行回数。
	defaultMaxAttempts = 3
)

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回1秒、2倍ずつ増加、最大8秒。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// sleepFunc はコンテキストのキャンセルを考慮して待機する。
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryTemporary はfnを最大attempts回実行する。
// 429・5xx・通信エラーなど一時的な失敗のみ再試行し、それ以外は即座に返す。
func retryTemporary(ctx context.Context, attempts int, sleep sleepFunc, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !ai.IsTemporary(err) || i == attempts-1 {
			return err
		}
		if serr := sleep(ctx, CalculateBackoff(i)); serr != nil {
			return err
		}
	}
	return err
}
