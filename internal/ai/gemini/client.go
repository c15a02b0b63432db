// Package gemini はGoogle Gemini APIによる採点クライアントを提供する。
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/hirely/hirely-api/internal/ai"
)

const defaultModel = "gemini-2.5-flash"

// Config はScorerの設定。
type Config struct {
	APIKey string
	Model  string
	// BaseURL はテスト用にエンドポイントを差し替える場合のみ指定する。
	BaseURL string
}

// Scorer はGeminiのJSONモードで面接を採点する。
type Scorer struct {
	client *genai.Client
	model  string
}

// NewScorer はGemini API向けのScorerを生成する。
func NewScorer(ctx context.Context, cfg Config) (*Scorer, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	return &Scorer{client: client, model: model}, nil
}

// Score は文字起こしをGeminiで採点する。
func (s *Scorer) Score(ctx context.Context, req ai.ScoreRequest) (*ai.Scores, error) {
	temperature := float32(0.2)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(ai.ScoringSystemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       &temperature,
		MaxOutputTokens:   4096,
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(ai.BuildScoringPrompt(req)), config)
	if err != nil {
		pe := &ai.ProviderError{Provider: "gemini", Op: "generate content", Err: err}
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			pe.StatusCode = apiErr.Code
			pe.Message = apiErr.Message
		}
		return nil, pe
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, &ai.ProviderError{Provider: "gemini", Op: "generate content", Message: "empty response"}
	}

	scores, err := ai.ParseScores(text)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return scores, nil
}

// Model は使用中のモデル名を返す。
func (s *Scorer) Model() string {
	return s.model
}

// compile-time interface check
var _ ai.Scorer = (*Scorer)(nil)
