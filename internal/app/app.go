// Package app はコマンドごとの依存関係の組み立てと起動処理を提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hirely/hirely-api/internal/analysis"
	"github.com/hirely/hirely-api/internal/auth"
	"github.com/hirely/hirely-api/internal/config"
	"github.com/hirely/hirely-api/internal/database"
	"github.com/hirely/hirely-api/internal/handler"
	"github.com/hirely/hirely-api/internal/interview"
	"github.com/hirely/hirely-api/internal/logger"
	"github.com/hirely/hirely-api/internal/metrics"
	"github.com/hirely/hirely-api/internal/middleware"
	"github.com/hirely/hirely-api/internal/repository"
	"github.com/hirely/hirely-api/internal/security"
	"github.com/hirely/hirely-api/internal/storage"
	"github.com/hirely/hirely-api/internal/user"
	"github.com/hirely/hirely-api/internal/worker/dispatch"
	"github.com/hirely/hirely-api/internal/worker/recovery"
)

const (
	// recordingImportTimeout はURLからの録画取り込み1件あたりのタイムアウト。
	recordingImportTimeout = 5 * time.Minute
	// startupTimeout はDB疎通確認やバケット作成など起動時処理のタイムアウト。
	startupTimeout = 15 * time.Second
	// shutdownTimeout はグレースフルシャットダウンの待機上限。
	// 超過した実行中の分析はワーカーの回収ジョブがfailedにする。
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数（とconfigFile）からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	return initWithFile(w, "")
}

func initWithFile(w io.Writer, configFile string) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログレベルを反映する
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// components はserveとworkerで共有する依存関係。
type components struct {
	db        *sql.DB
	redis     *redis.Client
	registry  *prometheus.Registry
	collector *metrics.Collector

	analysisRepo *repository.PostgresAnalysisRepo

	authService      *auth.Service
	userService      *user.Service
	interviewService *interview.Service
	analysisService  *analysis.Service
	dispatcher       *dispatch.Dispatcher
}

// Close は外部接続を閉じる。
func (c *components) Close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			slog.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}

// buildComponents はDB接続から分析ディスパッチャまでの依存関係をワイヤリングする。
func buildComponents(ctx context.Context, cfg *config.Config) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()
	log := slog.Default()

	// 1. DB接続
	c.db, err = database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := c.db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	// 2. リポジトリの初期化
	interviewRepo := repository.NewPostgresInterviewRepo(c.db)
	c.analysisRepo = repository.NewPostgresAnalysisRepo(c.db)

	// 3. メトリクス
	c.registry = prometheus.NewRegistry()
	c.collector = metrics.NewCollector(c.registry)

	// 4. オブジェクトストレージ
	store, err := storage.NewS3Store(storage.Options{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return nil, err
	}
	bucketCtx, cancelBucket := context.WithTimeout(ctx, startupTimeout)
	defer cancelBucket()
	if err := store.EnsureBucket(bucketCtx); err != nil {
		return nil, err
	}

	// 5. 認証
	c.redis, err = newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	gotrue := auth.NewGoTrueClient(auth.GoTrueConfig{
		BaseURL:        cfg.SupabaseURL,
		AnonKey:        cfg.SupabaseAnonKey,
		ServiceRoleKey: cfg.SupabaseServiceRoleKey,
	})
	provider, evicter := newIdentityProvider(cfg, gotrue, c.redis)
	c.authService = auth.NewService(provider, gotrue, evicter)
	log.Info("auth provider configured",
		slog.String("mode", cfg.AuthMode),
		slog.Bool("token_cache", c.redis != nil),
	)

	// 6. 面接・録画
	c.interviewService = interview.NewService(
		interviewRepo, store, security.NewSSRFGuard(recordingImportTimeout),
		cfg.RecordingMaxBytes, cfg.S3PresignTTL, log,
	)

	// 7. 分析パイプラインとディスパッチャ
	providers, err := newProviders(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	c.analysisService = analysis.NewService(analysis.Deps{
		Analyses:   c.analysisRepo,
		Interviews: interviewRepo,
		Ownership:  c.interviewService,
		Signer:     store,
		Providers:  providers,
		Sanitizer:  security.NewTextSanitizer(),
		Metrics:    c.collector,
		Logger:     log,
	}, analysis.Config{
		Estimate:   cfg.AnalysisEstimate,
		PresignTTL: cfg.S3PresignTTL,
	})
	c.dispatcher = dispatch.NewDispatcher(
		c.analysisService.Process, cfg.AnalysisMaxConcurrent, cfg.AnalysisTimeout, log, c.collector,
	)
	c.analysisService.SetDispatcher(c.dispatcher)

	// 8. ユーザー
	c.userService = user.NewService(gotrue, c.analysisRepo, interviewRepo, store, c.authService)

	return c, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、ctxがキャンセルされるまでHTTPサーバーを動かす。
// 停止時はHTTPサーバー、実行中の分析の順にグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAnalysis),
	)
	defer rateLimiter.Stop()

	var debugDecode handler.TokenDecoder
	if cfg.DebugDecodeEnabled() {
		debugDecode = auth.DecodeUnverified
		slog.Warn("unverified token decoding is enabled at /auth/debug/token")
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:     c.authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           c.collector,

		AuthService: c.authService,
		DebugDecode: debugDecode,

		UserService:      c.userService,
		InterviewService: c.interviewService,
		AnalysisService:  c.analysisService,

		Health:         handler.NewHealthHandler(c.db),
		MetricsHandler: metrics.Handler(c.registry),
	})

	// 録画アップロードを考慮して読み書きのタイムアウトは長めに取る
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
	}
	if err := c.dispatcher.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("analysis dispatcher shutdown failed: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 停止した分析の回収ジョブを動かし、再ディスパッチした分析をこのプロセスで処理する。
// ctxがキャンセルされると実行中の分析の完了を待って終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	job := recovery.NewJob(c.analysisRepo, c.dispatcher, slog.Default(), c.collector, recovery.Config{
		StaleAfter:     cfg.AnalysisStaleAfter,
		RequeueAfter:   cfg.AnalysisRequeueAfter,
		FailureMessage: analysis.TimedOutMessage,
	})

	slog.Info("worker starting",
		slog.Duration("recovery_interval", cfg.RecoveryInterval),
		slog.Int("max_concurrent", cfg.AnalysisMaxConcurrent),
	)

	// 回収ジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.RecoveryInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.dispatcher.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("analysis dispatcher shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	res, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if !res.Applied() {
		slog.Info("database schema already up to date", slog.Uint64("version", uint64(res.To)))
		return nil
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("from_version", uint64(res.From)),
		slog.Uint64("to_version", uint64(res.To)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
