// Package model はドメインモデルを定義する。
package model

import "time"

// AnalysisStatus は分析のライフサイクル状態を表す。
// 状態は pending → processing → completed|failed の順にのみ遷移する。
type AnalysisStatus string

const (
	// AnalysisStatusPending は作成直後の初期状態。
	AnalysisStatusPending AnalysisStatus = "pending"
	// AnalysisStatusProcessing はバックグラウンドタスクが処理中の状態。
	AnalysisStatusProcessing AnalysisStatus = "processing"
	// AnalysisStatusCompleted は分析が正常に完了した終端状態。
	AnalysisStatusCompleted AnalysisStatus = "completed"
	// AnalysisStatusFailed は分析が失敗した終端状態。
	AnalysisStatusFailed AnalysisStatus = "failed"
)

// IsTerminal は終端状態かを返す。
func (s AnalysisStatus) IsTerminal() bool {
	return s == AnalysisStatusCompleted || s == AnalysisStatusFailed
}

// CanTransitionTo は前進方向の遷移のみを許可する。
func (s AnalysisStatus) CanTransitionTo(next AnalysisStatus) bool {
	switch s {
	case AnalysisStatusPending:
		return next == AnalysisStatusProcessing
	case AnalysisStatusProcessing:
		return next == AnalysisStatusCompleted || next == AnalysisStatusFailed
	}
	return false
}

// AnalysisType は分析の種類を表す。
type AnalysisType string

const (
	// AnalysisTypeFull は音声・行動・テキストすべてを評価する。
	AnalysisTypeFull AnalysisType = "full"
	// AnalysisTypeVoiceOnly は音声シグナルと文字起こしのみを評価する。
	AnalysisTypeVoiceOnly AnalysisType = "voice_only"
	// AnalysisTypeTextOnly は文字起こしのテキストのみを評価する。
	AnalysisTypeTextOnly AnalysisType = "text_only"
)

// Valid は定義済みの分析種別かを返す。
func (t AnalysisType) Valid() bool {
	switch t {
	case AnalysisTypeFull, AnalysisTypeVoiceOnly, AnalysisTypeTextOnly:
		return true
	}
	return false
}

// FeedbackCategory はフィードバック項目のカテゴリ。
type FeedbackCategory string

const (
	CategoryCommunication   FeedbackCategory = "communication"
	CategoryTechnicalSkills FeedbackCategory = "technical_skills"
	CategoryProblemSolving  FeedbackCategory = "problem_solving"
	CategoryConfidence      FeedbackCategory = "confidence"
	CategoryClarity         FeedbackCategory = "clarity"
	CategoryStructure       FeedbackCategory = "structure"
)

// FeedbackCategories は定義済みカテゴリの一覧（表示順）。
var FeedbackCategories = []FeedbackCategory{
	CategoryCommunication,
	CategoryTechnicalSkills,
	CategoryProblemSolving,
	CategoryConfidence,
	CategoryClarity,
	CategoryStructure,
}

// Valid は定義済みカテゴリかを返す。
func (c FeedbackCategory) Valid() bool {
	for _, known := range FeedbackCategories {
		if c == known {
			return true
		}
	}
	return false
}

// FeedbackItem はカテゴリごとの評価結果。親のAnalysisRecordにのみ属する。
type FeedbackItem struct {
	Category     FeedbackCategory `json:"category"`
	Score        float64          `json:"score"`
	Feedback     string           `json:"feedback"`
	Suggestions  []string         `json:"suggestions"`
	Strengths    []string         `json:"strengths"`
	Improvements []string         `json:"improvements"`
}

// AnalysisResult は完了した分析の結果ペイロード。
type AnalysisResult struct {
	OverallScore  float64        `json:"overall_score"`
	Summary       string         `json:"summary"`
	FeedbackItems []FeedbackItem `json:"feedback_items"`
	Strengths     []string       `json:"strengths"`
	Improvements  []string       `json:"improvements"`
}

// AnalysisRecord は1回の面接分析のライフサイクルを追跡する。
type AnalysisRecord struct {
	ID              string
	InterviewID     string
	UserID          string
	Status          AnalysisStatus
	AnalysisType    AnalysisType
	Result          *AnalysisResult
	ErrorMessage    string
	RegeneratedFrom string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}
