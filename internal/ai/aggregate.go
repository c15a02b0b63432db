package ai

import (
	"fmt"
	"math"

	"github.com/hirely/hirely-api/internal/model"
)

// CategoryWeights は総合スコア算出時のカテゴリ重み。
// 存在するカテゴリの重みの合計で正規化する。
var CategoryWeights = map[model.FeedbackCategory]float64{
	model.CategoryCommunication:   0.20,
	model.CategoryTechnicalSkills: 0.20,
	model.CategoryProblemSolving:  0.20,
	model.CategoryConfidence:      0.15,
	model.CategoryClarity:         0.15,
	model.CategoryStructure:       0.10,
}

// llmWeight はシグナル補正時のLLMスコアの比率。残りがシグナルの比率。
const llmWeight = 0.7

// Signals はLLM以外から得た補正用シグナル。取得できなかったものはnil。
type Signals struct {
	Voice     *VoiceMetrics
	Behavior  *BehaviorSignals
	Relevance *float64 // 文字起こしと求人内容の埋め込み類似度
}

// Aggregate はLLM評価とシグナルから分析結果を組み立てる。
// 総合スコアは[0,1]で、フィードバック項目は必ず1件以上含まれる。
func Aggregate(scores *Scores, signals Signals) *model.AnalysisResult {
	if scores == nil {
		scores = &Scores{}
	}

	items := make(map[model.FeedbackCategory]*model.FeedbackItem)
	for i := range scores.Items {
		item := scores.Items[i]
		if !item.Category.Valid() {
			continue
		}
		if _, dup := items[item.Category]; dup {
			continue
		}
		item.Score = Clamp01(item.Score)
		items[item.Category] = &item
	}

	if v := signals.Voice; v != nil {
		blend(items, model.CategoryClarity, v.Clarity, voiceFeedback(v))
		blend(items, model.CategoryConfidence, v.Confidence, voiceFeedback(v))
	}
	if b := signals.Behavior; b != nil {
		presence := (b.EyeContact + b.Posture + b.Engagement) / 3
		blend(items, model.CategoryConfidence, presence, "Confidence estimated from on-camera presence.")
		blend(items, model.CategoryCommunication, (b.EyeContact+b.Engagement)/2, "Communication estimated from eye contact and engagement.")
	}
	if r := signals.Relevance; r != nil {
		blend(items, model.CategoryTechnicalSkills, *r, "Technical fit estimated from relevance to the job description.")
	}

	if len(items) == 0 {
		items[model.CategoryCommunication] = &model.FeedbackItem{
			Category:     model.CategoryCommunication,
			Score:        0.5,
			Feedback:     "Not enough information was available to evaluate this interview in detail.",
			Suggestions:  []string{"Record a longer answer so that more aspects can be evaluated."},
			Strengths:    []string{},
			Improvements: []string{},
		}
	}

	result := &model.AnalysisResult{
		Summary:      scores.Summary,
		Strengths:    nonNil(scores.Strengths),
		Improvements: nonNil(scores.Improvements),
	}

	var weighted, totalWeight float64
	for _, category := range model.FeedbackCategories {
		item, ok := items[category]
		if !ok {
			continue
		}
		item.Suggestions = nonNil(item.Suggestions)
		item.Strengths = nonNil(item.Strengths)
		item.Improvements = nonNil(item.Improvements)
		result.FeedbackItems = append(result.FeedbackItems, *item)

		w := CategoryWeights[category]
		weighted += item.Score * w
		totalWeight += w
	}
	if totalWeight > 0 {
		result.OverallScore = Clamp01(weighted / totalWeight)
	}
	result.OverallScore = math.Round(result.OverallScore*1000) / 1000

	if result.Summary == "" {
		result.Summary = fmt.Sprintf("Overall score %.0f%% across %d categories.", result.OverallScore*100, len(result.FeedbackItems))
	}

	return result
}

// blend はカテゴリのスコアをLLM 70%・シグナル 30%で補正する。
// LLMが評価しなかったカテゴリはシグナルのみで項目を作成する。
func blend(items map[model.FeedbackCategory]*model.FeedbackItem, category model.FeedbackCategory, signal float64, fallback string) {
	signal = Clamp01(signal)
	if item, ok := items[category]; ok {
		item.Score = Clamp01(llmWeight*item.Score + (1-llmWeight)*signal)
		return
	}
	items[category] = &model.FeedbackItem{
		Category: category,
		Score:    signal,
		Feedback: fallback,
	}
}

func voiceFeedback(v *VoiceMetrics) string {
	return fmt.Sprintf("Speaking pace %.0f words per minute with %.0f%% filler words.", v.WordsPerMinute, v.FillerRate*100)
}

// CosineSimilarity は2つのベクトルのコサイン類似度を返す。
// 長さが異なるかゼロベクトルの場合は0を返す。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
