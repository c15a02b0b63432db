package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hirely/hirely-api/internal/model"
)

// maxTranscriptRunes はプロンプトに含める文字起こしの上限文字数。
const maxTranscriptRunes = 24000

// ScoringSystemPrompt はLLM採点のシステムプロンプト。
const ScoringSystemPrompt = `You are an experienced interview coach. Evaluate the candidate's answers in a mock interview transcript.
Respond with a single JSON object and nothing else, using this shape:
{
  "summary": string,
  "feedback_items": [
    {
      "category": one of "communication", "technical_skills", "problem_solving", "confidence", "clarity", "structure",
      "score": number between 0 and 1,
      "feedback": string,
      "suggestions": [string],
      "strengths": [string],
      "improvements": [string]
    }
  ],
  "strengths": [string],
  "improvements": [string]
}
Use plain text only. Do not include HTML or markdown.`

// BuildScoringPrompt は採点用のユーザープロンプトを組み立てる。
func BuildScoringPrompt(req ScoreRequest) string {
	var b strings.Builder

	b.WriteString("Interview type: ")
	b.WriteString(string(req.InterviewType))
	b.WriteString("\n")
	if req.JobRole != "" {
		b.WriteString("Target role: ")
		b.WriteString(req.JobRole)
		b.WriteString("\n")
	}
	if req.JobDescription != "" {
		b.WriteString("Job description:\n")
		b.WriteString(req.JobDescription)
		b.WriteString("\n")
	}
	switch req.AnalysisType {
	case model.AnalysisTypeVoiceOnly:
		b.WriteString("Focus on delivery: communication, confidence and clarity.\n")
	case model.AnalysisTypeTextOnly:
		b.WriteString("Focus on content: technical_skills, problem_solving and structure.\n")
	}

	transcript := []rune(strings.TrimSpace(req.Transcript))
	if len(transcript) > maxTranscriptRunes {
		transcript = transcript[:maxTranscriptRunes]
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(string(transcript))

	return b.String()
}

// rawScores はLLMが返すJSONの形。
type rawScores struct {
	Summary       string `json:"summary"`
	FeedbackItems []struct {
		Category     string   `json:"category"`
		Score        float64  `json:"score"`
		Feedback     string   `json:"feedback"`
		Suggestions  []string `json:"suggestions"`
		Strengths    []string `json:"strengths"`
		Improvements []string `json:"improvements"`
	} `json:"feedback_items"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

// ParseScores はLLMの応答からScoresを取り出す。
// コードフェンスで囲まれた応答も受け付ける。未知のカテゴリと重複カテゴリは捨てる。
func ParseScores(raw string) (*Scores, error) {
	payload := extractJSONObject(raw)
	if payload == "" {
		return nil, fmt.Errorf("LLMの応答にJSONが含まれていません")
	}

	var parsed rawScores
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("LLMの応答のパースに失敗しました: %w", err)
	}

	scores := &Scores{
		Summary:      strings.TrimSpace(parsed.Summary),
		Strengths:    parsed.Strengths,
		Improvements: parsed.Improvements,
	}
	seen := make(map[model.FeedbackCategory]bool)
	for _, item := range parsed.FeedbackItems {
		category := model.FeedbackCategory(strings.ToLower(strings.TrimSpace(item.Category)))
		if !category.Valid() || seen[category] {
			continue
		}
		seen[category] = true
		scores.Items = append(scores.Items, model.FeedbackItem{
			Category:     category,
			Score:        NormalizeScore(item.Score),
			Feedback:     item.Feedback,
			Suggestions:  item.Suggestions,
			Strengths:    item.Strengths,
			Improvements: item.Improvements,
		})
	}

	return scores, nil
}

// NormalizeScore はスコアを[0,1]に正規化する。
// 10点満点・100点満点で返されたスコアも換算する。
func NormalizeScore(score float64) float64 {
	switch {
	case score > 10:
		score /= 100
	case score > 1:
		score /= 10
	}
	return Clamp01(score)
}

// extractJSONObject は応答中の最初の'{'から最後の'}'までを返す。
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
