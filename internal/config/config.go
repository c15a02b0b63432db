package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数（および任意のCONFIG_FILE）から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv string

	// Database
	DatabaseURL string

	// Supabase Auth
	SupabaseURL            string
	SupabaseAnonKey        string
	SupabaseServiceRoleKey string
	SupabaseJWTSecret      string
	AuthMode               string
	AuthDebugDecode        bool

	// Token cache
	RedisURL      string
	TokenCacheTTL time.Duration

	// LLM / Embeddings
	LLMProvider          string
	OpenAIAPIKey         string
	OpenAIModel          string
	OpenAIEmbeddingModel string
	GroqAPIKey           string
	GroqBaseURL          string
	GroqModel            string
	GroqWhisperModel     string
	GeminiAPIKey         string
	GeminiModel          string

	// Transcription / Behavior
	TranscriptionProvider string
	DeepgramAPIKey        string
	DeepgramModel         string
	VisionServiceURL      string

	// Storage
	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKey       string
	S3SecretKey       string
	S3UseSSL          bool
	S3PresignTTL      time.Duration
	RecordingMaxBytes int64

	// Analysis
	AnalysisTimeout       time.Duration
	AnalysisMaxConcurrent int
	AnalysisEstimate      time.Duration
	AnalysisStaleAfter    time.Duration
	AnalysisRequeueAfter  time.Duration
	RecoveryInterval      time.Duration

	// Rate Limit
	RateLimitGeneral  int
	RateLimitAnalysis int

	// Server
	ServerPort        string
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// 認証モード
const (
	AuthModeRemote = "remote"
	AuthModeJWT    = "jwt"
)

// IsProduction は本番環境かを返す。
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production") || strings.EqualFold(c.AppEnv, "prod")
}

// DebugDecodeEnabled はトークンの非検証デコード（診断用）を有効にするかを返す。
// 本番環境では設定値に関わらず常に無効。
func (c *Config) DebugDecodeEnabled() bool {
	return c.AuthDebugDecode && !c.IsProduction()
}

// Load は環境変数からConfigを読み込む。
// CONFIG_FILEが指定されている場合はそのファイルを読み込み、環境変数で上書きする。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile はLoadと同じだが、fileが空でなければCONFIG_FILEより優先して読み込む。
// CLIの--configフラグから使用する。
func LoadFile(file string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	if file == "" {
		file = v.GetString("CONFIG_FILE")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = v.GetString("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SupabaseURL = strings.TrimRight(v.GetString("SUPABASE_URL"), "/")
	if cfg.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}

	cfg.SupabaseAnonKey = v.GetString("SUPABASE_ANON_KEY")
	if cfg.SupabaseAnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AppEnv = getString(v, "APP_ENV", "development")
	cfg.SupabaseServiceRoleKey = v.GetString("SUPABASE_SERVICE_ROLE_KEY")
	cfg.SupabaseJWTSecret = v.GetString("SUPABASE_JWT_SECRET")
	cfg.AuthMode = strings.ToLower(getString(v, "AUTH_MODE", AuthModeRemote))
	cfg.AuthDebugDecode = v.GetBool("AUTH_DEBUG_DECODE")

	cfg.RedisURL = v.GetString("REDIS_URL")
	cfg.TokenCacheTTL = getDuration(v, "TOKEN_CACHE_TTL", 60*time.Second)

	cfg.LLMProvider = strings.ToLower(getString(v, "LLM_PROVIDER", "openai"))
	cfg.OpenAIAPIKey = v.GetString("OPENAI_API_KEY")
	cfg.OpenAIModel = getString(v, "OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAIEmbeddingModel = getString(v, "OPENAI_EMBEDDING_MODEL", "text-embedding-3-small")
	cfg.GroqAPIKey = v.GetString("GROQ_API_KEY")
	cfg.GroqBaseURL = getString(v, "GROQ_BASE_URL", "https://api.groq.com/openai/v1")
	cfg.GroqModel = getString(v, "GROQ_MODEL", "llama-3.3-70b-versatile")
	cfg.GroqWhisperModel = getString(v, "GROQ_WHISPER_MODEL", "whisper-large-v3")
	cfg.GeminiAPIKey = v.GetString("GEMINI_API_KEY")
	cfg.GeminiModel = getString(v, "GEMINI_MODEL", "gemini-2.5-flash")

	cfg.TranscriptionProvider = strings.ToLower(getString(v, "TRANSCRIPTION_PROVIDER", "deepgram"))
	cfg.DeepgramAPIKey = v.GetString("DEEPGRAM_API_KEY")
	cfg.DeepgramModel = getString(v, "DEEPGRAM_MODEL", "nova-2")
	cfg.VisionServiceURL = v.GetString("VISION_SERVICE_URL")

	cfg.S3Endpoint = v.GetString("S3_ENDPOINT")
	cfg.S3Region = getString(v, "S3_REGION", "us-east-1")
	cfg.S3Bucket = getString(v, "S3_BUCKET", "hirely-recordings")
	cfg.S3AccessKey = v.GetString("S3_ACCESS_KEY")
	cfg.S3SecretKey = v.GetString("S3_SECRET_KEY")
	cfg.S3UseSSL = getBool(v, "S3_USE_SSL", true)
	cfg.S3PresignTTL = getDuration(v, "S3_PRESIGN_TTL", 15*time.Minute)
	cfg.RecordingMaxBytes = getInt64(v, "RECORDING_MAX_BYTES", 200<<20)

	cfg.AnalysisTimeout = getDuration(v, "ANALYSIS_TIMEOUT", 10*time.Minute)
	cfg.AnalysisMaxConcurrent = getInt(v, "ANALYSIS_MAX_CONCURRENT", 4)
	cfg.AnalysisEstimate = getDuration(v, "ANALYSIS_ESTIMATE", 2*time.Minute)
	cfg.AnalysisStaleAfter = getDuration(v, "ANALYSIS_STALE_AFTER", 15*time.Minute)
	cfg.AnalysisRequeueAfter = getDuration(v, "ANALYSIS_REQUEUE_AFTER", 2*time.Minute)
	cfg.RecoveryInterval = getDuration(v, "RECOVERY_INTERVAL", time.Minute)

	cfg.RateLimitGeneral = getInt(v, "RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAnalysis = getInt(v, "RATE_LIMIT_ANALYSIS", 10)

	cfg.ServerPort = getString(v, "SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getString(v, "CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getString(v, "LOG_LEVEL", "info")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate はモード依存の組み合わせを検証する。
func (c *Config) validate() error {
	switch c.AuthMode {
	case AuthModeRemote:
	case AuthModeJWT:
		if c.SupabaseJWTSecret == "" {
			return fmt.Errorf("SUPABASE_JWT_SECRET is required when AUTH_MODE=%s", AuthModeJWT)
		}
	default:
		return fmt.Errorf("unsupported AUTH_MODE: %s", c.AuthMode)
	}

	switch c.LLMProvider {
	case "openai", "groq", "gemini":
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER: %s", c.LLMProvider)
	}

	switch c.TranscriptionProvider {
	case "deepgram", "groq":
	default:
		return fmt.Errorf("unsupported TRANSCRIPTION_PROVIDER: %s", c.TranscriptionProvider)
	}

	// 実行中の分析がリカバリで失敗扱いにされないよう、タイムアウトは滞留判定より短くする
	if c.AnalysisTimeout >= c.AnalysisStaleAfter {
		return fmt.Errorf("ANALYSIS_TIMEOUT (%s) must be shorter than ANALYSIS_STALE_AFTER (%s)",
			c.AnalysisTimeout, c.AnalysisStaleAfter)
	}

	return nil
}

func getString(v *viper.Viper, key, defaultVal string) string {
	if s := v.GetString(key); s != "" {
		return s
	}
	return defaultVal
}

func getInt(v *viper.Viper, key string, defaultVal int) int {
	if v.GetString(key) == "" {
		return defaultVal
	}
	i, err := parseInt(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return int(i)
}

func getInt64(v *viper.Viper, key string, defaultVal int64) int64 {
	if v.GetString(key) == "" {
		return defaultVal
	}
	i, err := parseInt(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return i
}

func getBool(v *viper.Viper, key string, defaultVal bool) bool {
	if v.GetString(key) == "" {
		return defaultVal
	}
	switch strings.ToLower(v.GetString(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}

func getDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	if v.GetString(key) == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
