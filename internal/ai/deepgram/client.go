// Package deepgram はDeepgramの事前録音音声APIによる文字起こしクライアントを提供する。
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hirely/hirely-api/internal/ai"
)

// defaultEndpoint はDeepgramの事前録音音声APIのエンドポイント。
const defaultEndpoint = "https://api.deepgram.com/v1/listen"

// Client はDeepgram APIのクライアント。
// 録画の署名付きURLを渡し、Deepgram側で直接取得させる。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiKey     string
	model      string
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, apiKey, model string) *Client {
	if model == "" {
		model = "nova-2"
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		apiKey:     apiKey,
		model:      model,
		endpoint:   defaultEndpoint,
	}
}

// listenResponse はDeepgramのレスポンスのうち使用する部分。
type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
				Words      []struct {
					Word           string  `json:"word"`
					PunctuatedWord string  `json:"punctuated_word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					Confidence     float64 `json:"confidence"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe は録画URLを文字起こしし、単語タイミングと信頼度を返す。
func (c *Client) Transcribe(ctx context.Context, mediaURL string) (*ai.Transcript, error) {
	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("model", c.model)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("filler_words", "true")
	reqURL.RawQuery = q.Encode()

	payload, err := json.Marshal(map[string]string{"url": mediaURL})
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Deepgram APIの呼び出しに失敗しました", slog.String("error", err.Error()))
		return nil, &ai.ProviderError{Provider: "deepgram", Op: "transcription", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Deepgram APIがエラーステータスを返しました", slog.Int("http_status", resp.StatusCode))
		return nil, &ai.ProviderError{
			Provider:   "deepgram",
			Op:         "transcription",
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	var result listenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("deepgram response could not be parsed: %w", err)
	}

	transcript := &ai.Transcript{Duration: result.Metadata.Duration}
	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return transcript, nil
	}

	alt := result.Results.Channels[0].Alternatives[0]
	transcript.Text = strings.TrimSpace(alt.Transcript)
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		transcript.Words = append(transcript.Words, ai.Word{
			Text:       text,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
		})
	}
	return transcript, nil
}

// errorMessage はDeepgramのエラーボディからメッセージを取り出す。
func errorMessage(body []byte) string {
	var payload struct {
		ErrMsg string `json:"err_msg"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.ErrMsg != "" {
			return payload.ErrMsg
		}
		if payload.Reason != "" {
			return payload.Reason
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// compile-time interface check
var _ ai.Transcriber = (*Client)(nil)
