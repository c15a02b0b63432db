// Package vision は行動トラッキング用の映像解析サービスのクライアントを提供する。
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hirely/hirely-api/internal/ai"
)

// Client は映像解析サービスのHTTPクライアント。
// POST {baseURL}/analyze に録画URLを渡し、視線・姿勢・関与度のスコアを受け取る。
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

type analyzeResponse struct {
	EyeContact *float64 `json:"eye_contact"`
	Posture    *float64 `json:"posture"`
	Engagement *float64 `json:"engagement"`
}

// Analyze は録画の行動シグナルを取得する。
// 欠けている指標はサービスが返した他の指標の平均で補う。
func (c *Client) Analyze(ctx context.Context, mediaURL string) (*ai.BehaviorSignals, error) {
	payload, err := json.Marshal(map[string]string{"video_url": mediaURL})
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ai.ProviderError{Provider: "vision", Op: "analyze", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ai.ProviderError{Provider: "vision", Op: "analyze", StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var result analyzeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("vision response could not be parsed: %w", err)
	}

	values := []*float64{result.EyeContact, result.Posture, result.Engagement}
	var sum float64
	var n int
	for _, v := range values {
		if v != nil {
			sum += ai.Clamp01(*v)
			n++
		}
	}
	if n == 0 {
		return nil, fmt.Errorf("vision response contained no signals")
	}
	mean := sum / float64(n)

	pick := func(v *float64) float64 {
		if v == nil {
			return mean
		}
		return ai.Clamp01(*v)
	}
	return &ai.BehaviorSignals{
		EyeContact: pick(result.EyeContact),
		Posture:    pick(result.Posture),
		Engagement: pick(result.Engagement),
	}, nil
}

// compile-time interface check
var _ ai.BehaviorAnalyzer = (*Client)(nil)
