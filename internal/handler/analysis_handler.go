package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hirely/hirely-api/internal/analysis"
	"github.com/hirely/hirely-api/internal/middleware"
	"github.com/hirely/hirely-api/internal/model"
)

// AnalysisServiceInterface は分析ハンドラーが必要とするサービスインターフェース。
type AnalysisServiceInterface interface {
	Start(ctx context.Context, interviewID, userID string, analysisType model.AnalysisType) (*analysis.StartResult, error)
	Regenerate(ctx context.Context, analysisID, userID string) (*analysis.StartResult, error)
	GetResult(ctx context.Context, analysisID, userID string) (*model.AnalysisRecord, error)
	GetLatest(ctx context.Context, interviewID, userID string) (*model.AnalysisRecord, error)
	List(ctx context.Context, interviewID, userID string) ([]*model.AnalysisRecord, error)
}

// AnalysisHandler は分析のHTTPハンドラー。
type AnalysisHandler struct {
	service AnalysisServiceInterface
}

// NewAnalysisHandler はAnalysisHandlerを生成する。
func NewAnalysisHandler(service AnalysisServiceInterface) *AnalysisHandler {
	return &AnalysisHandler{service: service}
}

type startAnalysisRequest struct {
	InterviewID  string `json:"interview_id"`
	AnalysisType string `json:"analysis_type"`
}

// analysisResponse は分析レコードのAPIレスポンス。
// 結果のフィールドはcompletedの場合のみ値を持つ。
type analysisResponse struct {
	ID              string               `json:"id"`
	InterviewID     string               `json:"interview_id"`
	UserID          string               `json:"user_id"`
	Status          string               `json:"status"`
	AnalysisType    string               `json:"analysis_type"`
	OverallScore    *float64             `json:"overall_score"`
	Summary         string               `json:"summary,omitempty"`
	FeedbackItems   []model.FeedbackItem `json:"feedback_items"`
	Strengths       []string             `json:"strengths"`
	Improvements    []string             `json:"improvements"`
	ErrorMessage    *string              `json:"error_message"`
	RegeneratedFrom *string              `json:"regenerated_from"`
	CreatedAt       time.Time            `json:"created_at"`
	StartedAt       *time.Time           `json:"started_at"`
	CompletedAt     *time.Time           `json:"completed_at"`
}

// startAnalysisResponse は分析の開始・再生成のAPIレスポンス。
type startAnalysisResponse struct {
	analysisResponse
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

type analysisListResponse struct {
	Analyses []analysisResponse `json:"analyses"`
}

// Start は分析を開始する。処理はバックグラウンドで行い、即座に202を返す。
// POST /analysis/start
func (h *AnalysisHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	var req startAnalysisRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.Start(r.Context(), req.InterviewID, userID, model.AnalysisType(req.AnalysisType))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toStartAnalysisResponse(res))
}

// Regenerate は既存の分析から後継の分析を作成して開始する。
// POST /analysis/{id}/regenerate
func (h *AnalysisHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	res, err := h.service.Regenerate(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toStartAnalysisResponse(res))
}

// Get は分析レコードを返す。
// GET /analysis/{id}
func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	rec, err := h.service.GetResult(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAnalysisResponse(rec))
}

// Latest は面接の最新の分析を返す。
// GET /analysis/interview/{interview_id}/latest
func (h *AnalysisHandler) Latest(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	rec, err := h.service.GetLatest(r.Context(), chi.URLParam(r, "interview_id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAnalysisResponse(rec))
}

// ListByInterview は面接の分析一覧を新しい順に返す。
// GET /analysis/interview/{interview_id}
func (h *AnalysisHandler) ListByInterview(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	records, err := h.service.List(r.Context(), chi.URLParam(r, "interview_id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := analysisListResponse{Analyses: make([]analysisResponse, len(records))}
	for i, rec := range records {
		resp.Analyses[i] = toAnalysisResponse(rec)
	}
	writeJSON(w, http.StatusOK, resp)
}

func toStartAnalysisResponse(res *analysis.StartResult) startAnalysisResponse {
	return startAnalysisResponse{
		analysisResponse:    toAnalysisResponse(res.Record),
		EstimatedCompletion: res.EstimatedCompletion,
	}
}

func toAnalysisResponse(rec *model.AnalysisRecord) analysisResponse {
	resp := analysisResponse{
		ID:            rec.ID,
		InterviewID:   rec.InterviewID,
		UserID:        rec.UserID,
		Status:        string(rec.Status),
		AnalysisType:  string(rec.AnalysisType),
		FeedbackItems: []model.FeedbackItem{},
		Strengths:     []string{},
		Improvements:  []string{},
		CreatedAt:     rec.CreatedAt,
		StartedAt:     rec.StartedAt,
		CompletedAt:   rec.CompletedAt,
	}
	if rec.Result != nil {
		score := rec.Result.OverallScore
		resp.OverallScore = &score
		resp.Summary = rec.Result.Summary
		if rec.Result.FeedbackItems != nil {
			resp.FeedbackItems = rec.Result.FeedbackItems
		}
		if rec.Result.Strengths != nil {
			resp.Strengths = rec.Result.Strengths
		}
		if rec.Result.Improvements != nil {
			resp.Improvements = rec.Result.Improvements
		}
	}
	if rec.ErrorMessage != "" {
		msg := rec.ErrorMessage
		resp.ErrorMessage = &msg
	}
	if rec.RegeneratedFrom != "" {
		from := rec.RegeneratedFrom
		resp.RegeneratedFrom = &from
	}
	return resp
}
