// Package recovery は停止した分析を回収する定期ジョブを提供する。
// プロセスの再起動などで取り残されたレコードを対象に、
// processingのまま古くなったものはfailedにし、pendingのまま古くなったものは再ディスパッチする。
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hirely/hirely-api/internal/metrics"
	"github.com/hirely/hirely-api/internal/model"
)

// defaultBatchSize は1サイクルで再ディスパッチする最大件数。
const defaultBatchSize = 50

// Store は回収ジョブが使う分析レコードの操作。
type Store interface {
	FailStaleProcessing(ctx context.Context, before time.Time, message string) (int64, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.AnalysisRecord, error)
}

// Dispatcher は分析タスクを起動する。
type Dispatcher interface {
	Dispatch(analysisID, interviewID string) bool
}

// Config は回収ジョブの設定。
type Config struct {
	// StaleAfter はprocessingのまま放置された分析をfailedにするまでの時間。
	StaleAfter time.Duration
	// RequeueAfter はpendingのまま放置された分析を再ディスパッチするまでの時間。
	RequeueAfter time.Duration
	// FailureMessage はタイムアウトした分析に記録するメッセージ。
	FailureMessage string
	// BatchSize は1サイクルで再ディスパッチする最大件数。
	BatchSize int
}

// Job は停止した分析の回収ジョブ。冪等であり、複数のワーカーから同時に実行してもよい。
type Job struct {
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	config     Config
	now        func() time.Time
}

// NewJob はJobを生成する。
func NewJob(store Store, dispatcher Dispatcher, logger *slog.Logger, collector metrics.MetricsCollector, config Config) *Job {
	if config.StaleAfter <= 0 {
		config.StaleAfter = 15 * time.Minute
	}
	if config.RequeueAfter <= 0 {
		config.RequeueAfter = 2 * time.Minute
	}
	if config.FailureMessage == "" {
		config.FailureMessage = "analysis timed out"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Job{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    collector,
		config:     config,
		now:        time.Now,
	}
}

// Start はintervalごとに回収サイクルを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("回収ジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("stale_after", j.config.StaleAfter),
		slog.Duration("requeue_after", j.config.RequeueAfter),
	)

	// 起動直後に1回実行
	if err := j.RunOnce(ctx); err != nil {
		j.logger.Error("回収サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("回収ジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				j.logger.Error("回収サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は回収サイクルを1回実行する。
// 冪等: 対象がない場合でもエラーにならない。
func (j *Job) RunOnce(ctx context.Context) error {
	start := j.now()

	failed, err := j.store.FailStaleProcessing(ctx, start.Add(-j.config.StaleAfter), j.config.FailureMessage)
	if err != nil {
		return fmt.Errorf("停止した分析の失敗処理に失敗: %w", err)
	}
	if failed > 0 {
		j.metrics.RecordRecovered("failed", int(failed))
	}

	pending, err := j.store.ListStalePending(ctx, start.Add(-j.config.RequeueAfter), j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("滞留した分析の取得に失敗: %w", err)
	}
	requeued := 0
	for _, rec := range pending {
		if j.dispatcher.Dispatch(rec.ID, rec.InterviewID) {
			requeued++
		}
	}
	if requeued > 0 {
		j.metrics.RecordRecovered("requeued", requeued)
	}

	j.logger.Info("回収サイクルが完了しました",
		slog.Int64("failed_count", failed),
		slog.Int("requeued_count", requeued),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
