package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hirely/hirely-api/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           middleware.StatusRecorder

	// 認証
	AuthService AuthServiceInterface
	// DebugDecode は未検証トークンのデコーダー。nilの場合は診断ルートを登録しない。
	DebugDecode TokenDecoder

	// ユーザー
	UserService UserServiceInterface

	// 面接
	InterviewService InterviewServiceInterface

	// 分析
	AnalysisService AnalysisServiceInterface

	// 運用
	Health         http.Handler
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → Auth → RequireActiveUser → RateLimit(General)
//
// 公開ルート（/health、/metrics、/auth/register等）は認証チェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handleServiceError(w, errNotFoundRoute)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
	})

	authHandler := NewAuthHandler(deps.AuthService, deps.DebugDecode)
	userHandler := NewUserHandler(deps.UserService)
	interviewHandler := NewInterviewHandler(deps.InterviewService)
	analysisHandler := NewAnalysisHandler(deps.AnalysisService)

	// --- 認証不要のルート ---

	if deps.Health != nil {
		r.Method(http.MethodGet, "/health", deps.Health)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/forgot-password", authHandler.ForgotPassword)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RequireActiveUser → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
		r.Use(middleware.NewRequireActiveUserMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/auth/logout", authHandler.Logout)
		r.Post("/auth/change-password", authHandler.ChangePassword)
		if deps.DebugDecode != nil {
			r.Get("/auth/debug/token", authHandler.DebugToken)
		}

		// ユーザー
		r.Route("/users/me", func(r chi.Router) {
			r.Get("/", userHandler.Me)
			r.Put("/", userHandler.UpdateMe)
			r.Delete("/", userHandler.Withdraw)
		})

		// 面接
		r.Route("/interviews", func(r chi.Router) {
			r.Post("/", interviewHandler.Create)
			r.Get("/", interviewHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", interviewHandler.Get)
				r.Put("/", interviewHandler.Update)
				r.Delete("/", interviewHandler.Delete)

				r.Post("/recording", interviewHandler.UploadRecording)
				r.Get("/recording", interviewHandler.RecordingURL)
				r.Post("/recording/import", interviewHandler.ImportRecording)
			})
		})

		// 分析（開始・再生成は専用のレート制限を追加）
		r.Route("/analysis", func(r chi.Router) {
			r.With(deps.RateLimiter.AnalysisMiddleware()).Post("/start", analysisHandler.Start)
			r.Get("/interview/{interview_id}", analysisHandler.ListByInterview)
			r.Get("/interview/{interview_id}/latest", analysisHandler.Latest)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", analysisHandler.Get)
				r.With(deps.RateLimiter.AnalysisMiddleware()).Post("/regenerate", analysisHandler.Regenerate)
			})
		})
	})

	return r
}
