package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hirely/hirely-api/internal/ai/deepgram"
	"github.com/hirely/hirely-api/internal/ai/gemini"
	"github.com/hirely/hirely-api/internal/ai/openai"
	"github.com/hirely/hirely-api/internal/ai/vision"
	"github.com/hirely/hirely-api/internal/analysis"
	"github.com/hirely/hirely-api/internal/auth"
	"github.com/hirely/hirely-api/internal/config"
)

// providerTimeout は外部AIプロバイダへの1リクエストあたりのタイムアウト。
// 長い録画の文字起こしを想定して長めに取る。
const providerTimeout = 5 * time.Minute

// newIdentityProvider はAUTH_MODEに応じたトークン解決プロバイダを返す。
// redisClientが指定された場合はキャッシュで包み、Evict用にCachingProviderも返す。
func newIdentityProvider(cfg *config.Config, gotrue *auth.GoTrueClient, redisClient *redis.Client) (auth.IdentityProvider, auth.TokenEvicter) {
	var provider auth.IdentityProvider = gotrue
	if cfg.AuthMode == config.AuthModeJWT {
		provider = auth.NewJWTProvider(cfg.SupabaseJWTSecret)
	}

	if redisClient == nil {
		return provider, nil
	}
	caching := auth.NewCachingProvider(provider, redisClient, cfg.TokenCacheTTL)
	return caching, caching
}

// newRedisClient はREDIS_URLからクライアントを生成する。未設定の場合はnilを返す。
func newRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// newProviders はLLM_PROVIDERとTRANSCRIPTION_PROVIDERに応じて分析パイプラインのプロバイダを構成する。
// APIキーが未設定のプロバイダはnilのままにし、分析実行時に失敗として記録させる。
func newProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) (analysis.Providers, error) {
	httpClient := &http.Client{Timeout: providerTimeout}
	var p analysis.Providers

	var openaiClient, groqClient *openai.Client
	if cfg.OpenAIAPIKey != "" {
		openaiClient = openai.NewClient(openai.Config{
			Provider:       "openai",
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIModel,
			EmbeddingModel: cfg.OpenAIEmbeddingModel,
			HTTPClient:     httpClient,
		})
		// 埋め込みはLLM_PROVIDERに関わらずOpenAIを使う
		p.Embedder = openaiClient
	}
	if cfg.GroqAPIKey != "" {
		groqClient = openai.NewClient(openai.Config{
			Provider:     "groq",
			APIKey:       cfg.GroqAPIKey,
			BaseURL:      cfg.GroqBaseURL,
			Model:        cfg.GroqModel,
			WhisperModel: cfg.GroqWhisperModel,
			HTTPClient:   httpClient,
		})
	}

	switch cfg.LLMProvider {
	case "openai":
		if openaiClient != nil {
			p.Scorer = openaiClient
		}
	case "groq":
		if groqClient != nil {
			p.Scorer = groqClient
		}
	case "gemini":
		if cfg.GeminiAPIKey != "" {
			scorer, err := gemini.NewScorer(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel})
			if err != nil {
				return p, fmt.Errorf("failed to create gemini scorer: %w", err)
			}
			p.Scorer = scorer
		}
	}
	if p.Scorer == nil {
		logger.Warn("scoring provider is not configured; analyses will fail",
			slog.String("llm_provider", cfg.LLMProvider),
		)
	}

	switch cfg.TranscriptionProvider {
	case "deepgram":
		if cfg.DeepgramAPIKey != "" {
			p.Transcriber = deepgram.NewClient(httpClient, logger, cfg.DeepgramAPIKey, cfg.DeepgramModel)
		}
	case "groq":
		if groqClient != nil {
			p.Transcriber = groqClient
		}
	}
	if p.Transcriber == nil {
		logger.Warn("transcription provider is not configured; analyses will fail",
			slog.String("transcription_provider", cfg.TranscriptionProvider),
		)
	}

	if cfg.VisionServiceURL != "" {
		p.Behavior = vision.NewClient(httpClient, cfg.VisionServiceURL)
	}

	return p, nil
}

