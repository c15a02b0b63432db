// Package ai は分析パイプラインが利用する外部AIプロバイダの抽象と、
// プロバイダ出力から最終スコアを組み立てる集計処理を提供する。
// 具体的なクライアントはサブパッケージ（openai, gemini, deepgram, vision）にある。
package ai

import (
	"context"

	"github.com/hirely/hirely-api/internal/model"
)

// Word は文字起こし結果の1単語とそのタイミング（秒）。
type Word struct {
	Text       string
	Start      float64
	End        float64
	Confidence float64 // プロバイダが信頼度を返さない場合は0
}

// Transcript は録画の文字起こし結果。
type Transcript struct {
	Text     string
	Words    []Word
	Duration float64 // 秒。不明な場合は0
}

// Transcriber は録画のURLから文字起こしを行う。
// mediaURLは署名付きURLであり、プロバイダから直接取得可能であること。
type Transcriber interface {
	Transcribe(ctx context.Context, mediaURL string) (*Transcript, error)
}

// Embedder はテキストを埋め込みベクトルに変換する。
// 戻り値は入力と同じ順序・同じ件数でなければならない。
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// ScoreRequest はLLM採点への入力。
type ScoreRequest struct {
	Transcript     string
	JobRole        string
	JobDescription string
	InterviewType  model.InterviewType
	AnalysisType   model.AnalysisType
}

// Scores はLLMが返したカテゴリ別評価。スコアは[0,1]に正規化済み。
type Scores struct {
	Summary      string
	Items        []model.FeedbackItem
	Strengths    []string
	Improvements []string
}

// Scorer は文字起こしをLLMで採点する。
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (*Scores, error)
}

// BehaviorSignals は映像から得た行動シグナル。各値は[0,1]。
type BehaviorSignals struct {
	EyeContact float64
	Posture    float64
	Engagement float64
}

// BehaviorAnalyzer は録画映像から行動シグナルを抽出する。
type BehaviorAnalyzer interface {
	Analyze(ctx context.Context, mediaURL string) (*BehaviorSignals, error)
}
