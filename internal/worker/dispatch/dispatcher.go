// Package dispatch は分析のバックグラウンドタスクを起動する。
// タスクはリクエストから切り離されたgoroutineで実行され、
// セマフォで同時実行数を制限する。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hirely/hirely-api/internal/metrics"
)

// ProcessFunc は1件の分析を処理する。
type ProcessFunc func(ctx context.Context, analysisID, interviewID string) error

// Dispatcher は分析タスクのディスパッチャ。
// 同じ分析IDのタスクが実行中（待機中を含む）の場合、重複したディスパッチは破棄する。
// DB側の条件付きUPDATEが排他の正本であり、こちらはプロセス内の重複起動を減らすためのもの。
type Dispatcher struct {
	process ProcessFunc
	sem     chan struct{}
	timeout time.Duration
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewDispatcher はDispatcherを生成する。
// maxConcurrentが0以下の場合は4、timeoutが0以下の場合は10分を使用する。
func NewDispatcher(process ProcessFunc, maxConcurrent int, timeout time.Duration, logger *slog.Logger, collector metrics.MetricsCollector) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Dispatcher{
		process:  process,
		sem:      make(chan struct{}, maxConcurrent),
		timeout:  timeout,
		logger:   logger,
		metrics:  collector,
		inFlight: make(map[string]struct{}),
	}
}

// Dispatch は分析タスクを起動する。呼び出し元をブロックしない。
// 同時実行数が上限に達している場合、タスクは自身のgoroutine内で空きを待つ。
// 重複・シャットダウン中で起動しなかった場合はfalseを返す。
func (d *Dispatcher) Dispatch(analysisID, interviewID string) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher is shutting down; task dropped", slog.String("analysis_id", analysisID))
		return false
	}
	if _, ok := d.inFlight[analysisID]; ok {
		d.mu.Unlock()
		d.logger.Info("analysis already in flight; duplicate dropped", slog.String("analysis_id", analysisID))
		return false
	}
	d.inFlight[analysisID] = struct{}{}
	d.wg.Add(1)
	n := len(d.inFlight)
	d.mu.Unlock()

	d.metrics.SetAnalysesInFlight(n)
	go d.run(analysisID, interviewID)
	return true
}

func (d *Dispatcher) run(analysisID, interviewID string) {
	defer d.wg.Done()
	defer d.release(analysisID)

	d.sem <- struct{}{} // semaphore取得（このgoroutine内でブロック）
	defer func() { <-d.sem }()

	// リクエストのコンテキストは使わず、タスクごとに新しいコンテキストを作る
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.safeProcess(ctx, analysisID, interviewID); err != nil {
		d.logger.Error("analysis task failed",
			slog.String("analysis_id", analysisID),
			slog.String("interview_id", interviewID),
			slog.String("error", err.Error()),
		)
	}
}

// safeProcess はタスク内のpanicをエラーに変換する。
func (d *Dispatcher) safeProcess(ctx context.Context, analysisID, interviewID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in analysis task",
				slog.String("analysis_id", analysisID),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.process(ctx, analysisID, interviewID)
}

func (d *Dispatcher) release(analysisID string) {
	d.mu.Lock()
	delete(d.inFlight, analysisID)
	n := len(d.inFlight)
	d.mu.Unlock()
	d.metrics.SetAnalysesInFlight(n)
}

// InFlight は実行中・待機中のタスク数を返す。
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

// Shutdown は新規ディスパッチを停止し、実行中のタスクの完了をctxの期限まで待つ。
// 実行中のタスクは取り消さない。
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(fmt.Errorf("%d analysis tasks still running", d.InFlight()), ctx.Err())
	}
}
