// Package openai はOpenAI互換APIのクライアントを提供する。
// 採点（Chat Completions）、埋め込み、Whisperによる文字起こしを扱い、
// BaseURLを差し替えることでGroqのOpenAI互換エンドポイントにも使用する。
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/hirely/hirely-api/internal/ai"
)

// maxTokens は採点応答の最大トークン数。
const maxTokens = 2048

// Config はClientの設定。
type Config struct {
	// Provider はエラーメッセージに含めるプロバイダ名（openai / groq）。
	Provider       string
	APIKey         string
	BaseURL        string // 空の場合はOpenAIの公式エンドポイント
	Model          string
	EmbeddingModel string
	WhisperModel   string
	HTTPClient     *http.Client
}

// Client はgo-openaiのラッパー。ai.Scorer、ai.Embedder、ai.Transcriberを実装する。
type Client struct {
	client         *goopenai.Client
	httpClient     *http.Client
	provider       string
	model          string
	embeddingModel string
	whisperModel   string
}

// NewClient はClientを生成する。
func NewClient(cfg Config) *Client {
	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	clientConfig.HTTPClient = httpClient

	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	return &Client{
		client:         goopenai.NewClientWithConfig(clientConfig),
		httpClient:     httpClient,
		provider:       provider,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		whisperModel:   cfg.WhisperModel,
	}
}

// Score は文字起こしをJSONモードのChat Completionで採点する。
func (c *Client) Score(ctx context.Context, req ai.ScoreRequest) (*ai.Scores, error) {
	model := c.model
	if model == "" {
		model = goopenai.GPT4oMini
	}

	chatReq := goopenai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: ai.ScoringSystemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: ai.BuildScoringPrompt(req)},
		},
	}
	// 推論モデル（o1/o3/o4/gpt-5系）はMaxTokensを受け付けない
	if isReasoningModel(model) {
		chatReq.MaxCompletionTokens = maxTokens
	} else {
		chatReq.MaxTokens = maxTokens
		chatReq.Temperature = 0.2
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, c.wrap("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ai.ProviderError{Provider: c.provider, Op: "chat completion", Message: "no choices returned"}
	}

	scores, err := ai.ParseScores(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.provider, err)
	}
	return scores, nil
}

// Embed はテキストの埋め込みベクトルを入力順で返す。
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := c.embeddingModel
	if model == "" {
		model = string(goopenai.SmallEmbedding3)
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = strings.ReplaceAll(t, "\n", " ")
	}

	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequestStrings{
		Input: inputs,
		Model: goopenai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, c.wrap("embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &ai.ProviderError{
			Provider: c.provider,
			Op:       "embeddings",
			Message:  fmt.Sprintf("returned %d vectors for %d inputs", len(resp.Data), len(texts)),
		}
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float64, len(data))
	for i, d := range data {
		vec := make([]float64, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float64(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Transcribe は録画をダウンロードし、Whisperで単語タイミング付きの文字起こしを行う。
func (c *Client) Transcribe(ctx context.Context, mediaURL string) (*ai.Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("録画URLが不正です: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("録画のダウンロードに失敗しました: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("録画のダウンロードがステータス %d を返しました", resp.StatusCode)
	}

	model := c.whisperModel
	if model == "" {
		model = goopenai.Whisper1
	}

	audio, err := c.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:                  model,
		FilePath:               recordingFileName(mediaURL),
		Reader:                 io.LimitReader(resp.Body, 1<<30),
		Format:                 goopenai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []goopenai.TranscriptionTimestampGranularity{goopenai.TranscriptionTimestampGranularityWord},
	})
	if err != nil {
		return nil, c.wrap("transcription", err)
	}

	transcript := &ai.Transcript{
		Text:     strings.TrimSpace(audio.Text),
		Duration: audio.Duration,
	}
	for _, w := range audio.Words {
		transcript.Words = append(transcript.Words, ai.Word{Text: w.Word, Start: w.Start, End: w.End})
	}
	return transcript, nil
}

// wrap はgo-openaiのエラーをai.ProviderErrorに変換する。
func (c *Client) wrap(op string, err error) error {
	pe := &ai.ProviderError{Provider: c.provider, Op: op, Err: err}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.HTTPStatusCode
		pe.Message = apiErr.Message
		return pe
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		pe.StatusCode = reqErr.HTTPStatusCode
	}
	return pe
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// recordingFileName はmultipartのファイル名に使う名前を返す。
// Whisperは拡張子から形式を判定するため、URLのパスから拡張子を引き継ぐ。
func recordingFileName(mediaURL string) string {
	p := mediaURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 6 {
		ext = ".webm"
	}
	return "recording" + ext
}

// compile-time interface check
var (
	_ ai.Scorer      = (*Client)(nil)
	_ ai.Embedder    = (*Client)(nil)
	_ ai.Transcriber = (*Client)(nil)
)
