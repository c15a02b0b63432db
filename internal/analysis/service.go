// Package analysis は面接分析のライフサイクル（pending → processing → completed|failed）を管理する。
// 分析の開始・再生成はレコードを作成してバックグラウンドタスクを起動するだけで即座に返り、
// 実際の処理はProcessが外部AIプロバイダを呼び出して行う。
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hirely/hirely-api/internal/ai"
	"github.com/hirely/hirely-api/internal/metrics"
	"github.com/hirely/hirely-api/internal/model"
	"github.com/hirely/hirely-api/internal/repository"
	"github.com/hirely/hirely-api/internal/security"
)

// TimedOutMessage はタイムアウトした分析に記録するエラー要約。
const TimedOutMessage = "analysis timed out"

// Dispatcher は分析のバックグラウンドタスクを起動する。
// 呼び出し元をブロックしてはならない。
type Dispatcher interface {
	Dispatch(analysisID, interviewID string) bool
}

// InterviewOwnership は分析開始前に面接の所有権を検証する。
// 存在しない面接・他ユーザーの面接はValidationErrorを返す。
type InterviewOwnership interface {
	ValidateOwnership(ctx context.Context, interviewID, userID string) (*model.Interview, error)
}

// RecordingSigner は録画の署名付きURLを発行する。
type RecordingSigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Providers は分析パイプラインが使う外部AIプロバイダ。
// EmbedderとBehaviorは任意で、nilの場合は対応する補正を行わない。
type Providers struct {
	Transcriber ai.Transcriber
	Scorer      ai.Scorer
	Embedder    ai.Embedder
	Behavior    ai.BehaviorAnalyzer
}

// Config は分析サービスの設定。
type Config struct {
	// Estimate はStartが返す完了予定時刻の目安（現在時刻からの差分）。
	Estimate time.Duration
	// PresignTTL はプロバイダに渡す録画URLの有効期間。
	PresignTTL time.Duration
	// MaxAttempts はプロバイダ呼び出しの最大試行回数。
	MaxAttempts int
}

// Deps はServiceの依存。
type Deps struct {
	Analyses   repository.AnalysisRepository
	Interviews repository.InterviewRepository
	Ownership  InterviewOwnership
	Signer     RecordingSigner
	Providers  Providers
	Sanitizer  *security.TextSanitizer
	Dispatcher Dispatcher
	Metrics    metrics.MetricsCollector
	Logger     *slog.Logger
}

// StartResult は分析の開始・再生成の結果。
type StartResult struct {
	Record              *model.AnalysisRecord
	EstimatedCompletion time.Time
}

// Service は分析ライフサイクルのサービス層。
type Service struct {
	analyses   repository.AnalysisRepository
	interviews repository.InterviewRepository
	ownership  InterviewOwnership
	signer     RecordingSigner
	providers  Providers
	sanitizer  *security.TextSanitizer
	dispatcher Dispatcher
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	config     Config

	now   func() time.Time
	sleep sleepFunc
}

// NewService はServiceを生成する。
func NewService(deps Deps, config Config) *Service {
	if config.Estimate <= 0 {
		config.Estimate = 2 * time.Minute
	}
	if config.PresignTTL <= 0 {
		config.PresignTTL = 15 * time.Minute
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NopCollector{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sanitizer == nil {
		deps.Sanitizer = security.NewTextSanitizer()
	}
	return &Service{
		analyses:   deps.Analyses,
		interviews: deps.Interviews,
		ownership:  deps.Ownership,
		signer:     deps.Signer,
		providers:  deps.Providers,
		sanitizer:  deps.Sanitizer,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		config:     config,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// SetDispatcher はディスパッチャを差し替える。
// ディスパッチャがServiceのProcessを呼び出すため、構築後に結線する場合に使用する。
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Start は面接の分析を開始する。
// 所有権と録画の有無を検証し、pendingのレコードを作成してバックグラウンドタスクを起動する。
func (s *Service) Start(ctx context.Context, interviewID, userID string, analysisType model.AnalysisType) (*StartResult, error) {
	if analysisType == "" {
		analysisType = model.AnalysisTypeFull
	}
	if !analysisType.Valid() {
		return nil, model.NewValidationError("analysis_type must be one of full, voice_only, text_only")
	}
	if strings.TrimSpace(interviewID) == "" {
		return nil, model.NewValidationError("interview_id is required")
	}

	iv, err := s.ownership.ValidateOwnership(ctx, interviewID, userID)
	if err != nil {
		return nil, err
	}
	if !iv.HasRecording() {
		return nil, model.NewValidationError("Interview has no recording to analyze")
	}

	return s.create(ctx, iv, analysisType, "")
}

// Regenerate は既存の分析から後継の分析を作成して開始する。
// 元のレコードは変更しない。実行中の元タスクは取り消さず、その結果は元のレコードに記録される。
func (s *Service) Regenerate(ctx context.Context, analysisID, userID string) (*StartResult, error) {
	if !model.ValidID(analysisID) {
		return nil, model.NewAnalysisNotFoundError()
	}
	prior, err := s.analyses.FindByIDAndOwner(ctx, analysisID, userID)
	if err != nil {
		return nil, fmt.Errorf("分析の取得に失敗しました: %w", err)
	}
	if prior == nil {
		return nil, model.NewAnalysisNotFoundError()
	}

	iv, err := s.interviews.FindByIDAndOwner(ctx, prior.InterviewID, userID)
	if err != nil {
		return nil, fmt.Errorf("面接の取得に失敗しました: %w", err)
	}
	if iv == nil {
		return nil, model.NewAnalysisNotFoundError()
	}
	if !iv.HasRecording() {
		return nil, model.NewValidationError("Interview has no recording to analyze")
	}

	return s.create(ctx, iv, prior.AnalysisType, prior.ID)
}

func (s *Service) create(ctx context.Context, iv *model.Interview, analysisType model.AnalysisType, regeneratedFrom string) (*StartResult, error) {
	now := s.now().UTC()
	record := &model.AnalysisRecord{
		ID:              uuid.NewString(),
		InterviewID:     iv.ID,
		UserID:          iv.UserID,
		Status:          model.AnalysisStatusPending,
		AnalysisType:    analysisType,
		RegeneratedFrom: regeneratedFrom,
		CreatedAt:       now,
	}
	if err := s.analyses.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("分析の作成に失敗しました: %w", err)
	}

	s.metrics.RecordAnalysisStarted(string(analysisType))
	dispatched := s.dispatcher.Dispatch(record.ID, record.InterviewID)

	s.logger.Info("analysis created",
		slog.String("analysis_id", record.ID),
		slog.String("interview_id", record.InterviewID),
		slog.String("user_id", record.UserID),
		slog.String("analysis_type", string(analysisType)),
		slog.String("regenerated_from", regeneratedFrom),
		slog.Bool("dispatched", dispatched),
	)

	return &StartResult{
		Record:              record,
		EstimatedCompletion: now.Add(s.config.Estimate),
	}, nil
}

// GetResult は所有者でスコープした分析を返す。存在しない場合・他ユーザーの場合はNotFound。
func (s *Service) GetResult(ctx context.Context, analysisID, userID string) (*model.AnalysisRecord, error) {
	if !model.ValidID(analysisID) {
		return nil, model.NewAnalysisNotFoundError()
	}
	record, err := s.analyses.FindByIDAndOwner(ctx, analysisID, userID)
	if err != nil {
		return nil, fmt.Errorf("分析の取得に失敗しました: %w", err)
	}
	if record == nil {
		return nil, model.NewAnalysisNotFoundError()
	}
	return record, nil
}

// GetLatest は面接の最新の分析を返す。存在しない場合はNotFound。
func (s *Service) GetLatest(ctx context.Context, interviewID, userID string) (*model.AnalysisRecord, error) {
	if !model.ValidID(interviewID) {
		return nil, model.NewAnalysisNotFoundError()
	}
	record, err := s.analyses.FindLatestByInterview(ctx, interviewID, userID)
	if err != nil {
		return nil, fmt.Errorf("最新の分析の取得に失敗しました: %w", err)
	}
	if record == nil {
		return nil, model.NewAnalysisNotFoundError()
	}
	return record, nil
}

// List は面接の分析一覧を新しい順に返す。面接が存在しない場合・他ユーザーの場合はNotFound。
func (s *Service) List(ctx context.Context, interviewID, userID string) ([]*model.AnalysisRecord, error) {
	if !model.ValidID(interviewID) {
		return nil, model.NewInterviewNotFoundError()
	}
	iv, err := s.interviews.FindByIDAndOwner(ctx, interviewID, userID)
	if err != nil {
		return nil, fmt.Errorf("面接の取得に失敗しました: %w", err)
	}
	if iv == nil {
		return nil, model.NewInterviewNotFoundError()
	}

	records, err := s.analyses.ListByInterview(ctx, interviewID, userID)
	if err != nil {
		return nil, fmt.Errorf("分析一覧の取得に失敗しました: %w", err)
	}
	return records, nil
}

// Process はバックグラウンドで分析を実行する。
// pendingからprocessingへの遷移を条件付きUPDATEで獲得できなかった場合
// （重複起動・終端状態）は何もしない。プロバイダの失敗はレコードのfailedとして記録し、
// 返すエラーは状態の永続化に失敗した場合に限る。
func (s *Service) Process(ctx context.Context, analysisID, interviewID string) error {
	startedAt := s.now().UTC()
	record, err := s.analyses.MarkProcessing(ctx, analysisID, startedAt)
	if err != nil {
		return fmt.Errorf("分析の処理開始に失敗しました: %w", err)
	}
	if record == nil {
		s.logger.Info("analysis already claimed or finished", slog.String("analysis_id", analysisID))
		return nil
	}

	logger := s.logger.With(
		slog.String("analysis_id", record.ID),
		slog.String("interview_id", record.InterviewID),
	)
	logger.Info("analysis processing started", slog.String("analysis_type", string(record.AnalysisType)))

	result, runErr := s.run(ctx, record, interviewID)

	// 処理のコンテキストがタイムアウトしていても終端状態は必ず書き込む
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	finishedAt := s.now().UTC()
	elapsed := finishedAt.Sub(startedAt)

	if runErr != nil {
		message := summarizeError(ctx, runErr)
		ok, err := s.analyses.Fail(writeCtx, record.ID, message, finishedAt)
		if err != nil {
			return fmt.Errorf("分析の失敗の記録に失敗しました: %w", err)
		}
		if ok {
			s.metrics.RecordAnalysisFinished(string(model.AnalysisStatusFailed), elapsed)
		}
		logger.Warn("analysis failed", slog.String("error", runErr.Error()), slog.Bool("recorded", ok))
		return nil
	}

	ok, err := s.analyses.Complete(writeCtx, record.ID, result, finishedAt)
	if err != nil {
		return fmt.Errorf("分析結果の保存に失敗しました: %w", err)
	}
	if !ok {
		// リカバリジョブが先にfailedにした場合など
		logger.Warn("analysis left processing before completion")
		return nil
	}
	s.metrics.RecordAnalysisFinished(string(model.AnalysisStatusCompleted), elapsed)
	logger.Info("analysis completed",
		slog.Float64("overall_score", result.OverallScore),
		slog.Int("feedback_items", len(result.FeedbackItems)),
		slog.Float64("duration_ms", float64(elapsed.Milliseconds())),
	)
	return nil
}

// run は分析パイプラインを実行する。
// 録画URL発行 → 文字起こし → 発話指標 → 行動シグナル → 関連度 → LLM採点 → 集計。
func (s *Service) run(ctx context.Context, record *model.AnalysisRecord, interviewID string) (*model.AnalysisResult, error) {
	iv, err := s.interviews.FindByID(ctx, interviewID)
	if err != nil {
		return nil, fmt.Errorf("面接の取得に失敗しました: %w", err)
	}
	if iv == nil || iv.ID != record.InterviewID || iv.UserID != record.UserID {
		return nil, errors.New("interview not found")
	}
	if !iv.HasRecording() {
		return nil, errors.New("interview has no recording")
	}
	if s.providers.Transcriber == nil || s.providers.Scorer == nil {
		return nil, errors.New("analysis providers are not configured")
	}

	var mediaURL string
	err = s.stage(ctx, "presign", func(ctx context.Context) error {
		var err error
		mediaURL, err = s.signer.PresignGet(ctx, iv.RecordingKey, s.config.PresignTTL)
		return err
	})
	if err != nil {
		return nil, err
	}

	var transcript *ai.Transcript
	err = s.stage(ctx, "transcribe", func(ctx context.Context) error {
		var err error
		transcript, err = s.providers.Transcriber.Transcribe(ctx, mediaURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	if transcript == nil || strings.TrimSpace(transcript.Text) == "" {
		return nil, errors.New("transcribe: no speech detected in recording")
	}

	var signals ai.Signals
	if record.AnalysisType != model.AnalysisTypeTextOnly {
		signals.Voice = ai.ComputeVoiceMetrics(transcript)
	}

	if record.AnalysisType == model.AnalysisTypeFull && s.providers.Behavior != nil {
		err = s.stage(ctx, "behavior", func(ctx context.Context) error {
			var err error
			signals.Behavior, err = s.providers.Behavior.Analyze(ctx, mediaURL)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	var embedding []float64
	jobText := strings.TrimSpace(iv.JobRole + "\n" + iv.JobDescription)
	if record.AnalysisType != model.AnalysisTypeVoiceOnly && s.providers.Embedder != nil && jobText != "" {
		err = s.stage(ctx, "embed", func(ctx context.Context) error {
			vectors, err := s.providers.Embedder.Embed(ctx, []string{transcript.Text, jobText})
			if err != nil {
				return err
			}
			if len(vectors) != 2 {
				return fmt.Errorf("embeddings returned %d vectors", len(vectors))
			}
			embedding = vectors[0]
			relevance := ai.Clamp01(ai.CosineSimilarity(vectors[0], vectors[1]))
			signals.Relevance = &relevance
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if err := s.interviews.UpdateTranscript(ctx, iv.ID, transcript.Text, embedding); err != nil {
		// 文字起こしの保存は分析結果に影響しないため続行する
		s.logger.Warn("failed to store transcript", slog.String("interview_id", iv.ID), slog.String("error", err.Error()))
	}

	var scores *ai.Scores
	err = s.stage(ctx, "score", func(ctx context.Context) error {
		var err error
		scores, err = s.providers.Scorer.Score(ctx, ai.ScoreRequest{
			Transcript:     transcript.Text,
			JobRole:        iv.JobRole,
			JobDescription: iv.JobDescription,
			InterviewType:  iv.InterviewType,
			AnalysisType:   record.AnalysisType,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	result := ai.Aggregate(scores, signals)
	s.sanitize(result)
	return result, nil
}

// stage はパイプラインの1段階を一時的な失敗の再試行付きで実行し、レイテンシを記録する。
// 返すエラーには段階名を付与する。
func (s *Service) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := retryTemporary(ctx, s.config.MaxAttempts, s.sleep, fn)
	s.metrics.RecordStageLatency(name, time.Since(start))
	if err != nil {
		s.metrics.RecordProviderFailure(name)
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// sanitize はLLM由来のテキストからHTMLを除去する。
func (s *Service) sanitize(result *model.AnalysisResult) {
	result.Summary = s.sanitizer.Sanitize(result.Summary)
	result.Strengths = s.sanitizer.SanitizeList(result.Strengths)
	result.Improvements = s.sanitizer.SanitizeList(result.Improvements)
	for i := range result.FeedbackItems {
		item := &result.FeedbackItems[i]
		item.Feedback = s.sanitizer.Sanitize(item.Feedback)
		item.Suggestions = s.sanitizer.SanitizeList(item.Suggestions)
		item.Strengths = s.sanitizer.SanitizeList(item.Strengths)
		item.Improvements = s.sanitizer.SanitizeList(item.Improvements)
	}
}

// maxErrorMessageLength はerror_messageに保存する最大文字数。
const maxErrorMessageLength = 500

// summarizeError は失敗した分析に記録するエラー要約を作る。
func summarizeError(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return TimedOutMessage
	}
	msg := err.Error()
	if r := []rune(msg); len(r) > maxErrorMessageLength {
		msg = string(r[:maxErrorMessageLength])
	}
	return msg
}
