package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hirely/hirely-api/internal/analysis"
	"github.com/hirely/hirely-api/internal/model"
)

var analysisCreatedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func pendingRecord(id string) *model.AnalysisRecord {
	return &model.AnalysisRecord{
		ID:           id,
		InterviewID:  "iv1",
		UserID:       "u1",
		Status:       model.AnalysisStatusPending,
		AnalysisType: model.AnalysisTypeFull,
		CreatedAt:    analysisCreatedAt,
	}
}

func TestAnalysisHandler_Start(t *testing.T) {
	estimated := analysisCreatedAt.Add(2 * time.Minute)
	svc := &mockAnalysisService{
		startFn: func(ctx context.Context, interviewID, userID string, analysisType model.AnalysisType) (*analysis.StartResult, error) {
			if interviewID != "iv1" || userID != "u1" || analysisType != model.AnalysisTypeVoiceOnly {
				t.Errorf("args = %q %q %q", interviewID, userID, analysisType)
			}
			return &analysis.StartResult{Record: pendingRecord("a1"), EstimatedCompletion: estimated}, nil
		},
	}
	h := NewAnalysisHandler(svc)

	body := `{"interview_id":"iv1","analysis_type":"voice_only"}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/analysis/start", bytes.NewBufferString(body)), "u1")
	w := httptest.NewRecorder()
	h.Start(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["id"] != "a1" || resp["status"] != "pending" {
		t.Errorf("response = %v", resp)
	}
	if resp["estimated_completion"] != estimated.Format(time.RFC3339) {
		t.Errorf("estimated_completion = %v", resp["estimated_completion"])
	}
	// 未完了の分析ではスコアとエラーはnull
	if resp["overall_score"] != nil || resp["error_message"] != nil {
		t.Errorf("nullable fields = %v / %v", resp["overall_score"], resp["error_message"])
	}
	if items, ok := resp["feedback_items"].([]any); !ok || len(items) != 0 {
		t.Errorf("feedback_items = %v, want []", resp["feedback_items"])
	}
}

func TestAnalysisHandler_Start_ValidationError(t *testing.T) {
	svc := &mockAnalysisService{
		startFn: func(ctx context.Context, interviewID, userID string, analysisType model.AnalysisType) (*analysis.StartResult, error) {
			return nil, model.NewValidationError("Interview has no recording")
		},
	}
	h := NewAnalysisHandler(svc)

	req := withUser(httptest.NewRequest(http.MethodPost, "/analysis/start", bytes.NewBufferString(`{"interview_id":"iv1"}`)), "u1")
	w := httptest.NewRecorder()
	h.Start(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := parseErrorBody(t, w); body.Code != model.ErrCodeValidation {
		t.Errorf("code = %q", body.Code)
	}
}

func TestAnalysisHandler_Start_InvalidJSON(t *testing.T) {
	h := NewAnalysisHandler(&mockAnalysisService{})

	req := withUser(httptest.NewRequest(http.MethodPost, "/analysis/start", bytes.NewBufferString(`{`)), "u1")
	w := httptest.NewRecorder()
	h.Start(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestAnalysisHandler_Regenerate(t *testing.T) {
	svc := &mockAnalysisService{
		regenerateFn: func(ctx context.Context, analysisID, userID string) (*analysis.StartResult, error) {
			rec := pendingRecord("a2")
			rec.RegeneratedFrom = analysisID
			return &analysis.StartResult{Record: rec, EstimatedCompletion: analysisCreatedAt}, nil
		},
	}
	h := NewAnalysisHandler(svc)

	req := withChiURLParam(withUser(httptest.NewRequest(http.MethodPost, "/analysis/a1/regenerate", nil), "u1"), "id", "a1")
	w := httptest.NewRecorder()
	h.Regenerate(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	var resp startAnalysisResponse
	decodeBody(t, w, &resp)
	if resp.RegeneratedFrom == nil || *resp.RegeneratedFrom != "a1" {
		t.Errorf("regenerated_from = %v", resp.RegeneratedFrom)
	}
}

func TestAnalysisHandler_Get_Completed(t *testing.T) {
	completed := analysisCreatedAt.Add(time.Minute)
	svc := &mockAnalysisService{
		getResultFn: func(ctx context.Context, analysisID, userID string) (*model.AnalysisRecord, error) {
			rec := pendingRecord(analysisID)
			rec.Status = model.AnalysisStatusCompleted
			rec.CompletedAt = &completed
			rec.Result = &model.AnalysisResult{
				OverallScore: 0.72,
				Summary:      "Solid answers",
				FeedbackItems: []model.FeedbackItem{
					{Category: model.CategoryCommunication, Score: 0.8, Feedback: "Clear"},
				},
				Strengths: []string{"Clear"},
			}
			return rec, nil
		},
	}
	h := NewAnalysisHandler(svc)

	req := withChiURLParam(withUser(httptest.NewRequest(http.MethodGet, "/analysis/a1", nil), "u1"), "id", "a1")
	w := httptest.NewRecorder()
	h.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp analysisResponse
	decodeBody(t, w, &resp)
	if resp.OverallScore == nil || *resp.OverallScore != 0.72 {
		t.Errorf("overall_score = %v", resp.OverallScore)
	}
	if len(resp.FeedbackItems) != 1 || resp.Improvements == nil {
		t.Errorf("response = %+v", resp)
	}
}

func TestAnalysisHandler_NotFound(t *testing.T) {
	svc := &mockAnalysisService{
		getResultFn: func(ctx context.Context, analysisID, userID string) (*model.AnalysisRecord, error) {
			return nil, model.NewAnalysisNotFoundError()
		},
		getLatestFn: func(ctx context.Context, interviewID, userID string) (*model.AnalysisRecord, error) {
			return nil, model.NewAnalysisNotFoundError()
		},
	}
	h := NewAnalysisHandler(svc)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		param   string
	}{
		{"get", h.Get, "id"},
		{"latest", h.Latest, "interview_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withChiURLParam(withUser(httptest.NewRequest(http.MethodGet, "/", nil), "u1"), tt.param, "x")
			w := httptest.NewRecorder()
			tt.handler(w, req)

			if w.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", w.Code)
			}
		})
	}
}

func TestAnalysisHandler_ListByInterview(t *testing.T) {
	svc := &mockAnalysisService{
		listFn: func(ctx context.Context, interviewID, userID string) ([]*model.AnalysisRecord, error) {
			if interviewID != "iv1" {
				t.Errorf("interviewID = %q", interviewID)
			}
			failed := pendingRecord("a2")
			failed.Status = model.AnalysisStatusFailed
			failed.ErrorMessage = "analysis timed out"
			return []*model.AnalysisRecord{failed, pendingRecord("a1")}, nil
		},
	}
	h := NewAnalysisHandler(svc)

	req := withChiURLParam(withUser(httptest.NewRequest(http.MethodGet, "/analysis/interview/iv1", nil), "u1"), "interview_id", "iv1")
	w := httptest.NewRecorder()
	h.ListByInterview(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp analysisListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Analyses) != 2 || resp.Analyses[0].ErrorMessage == nil || *resp.Analyses[0].ErrorMessage != "analysis timed out" {
		t.Errorf("analyses = %+v", resp.Analyses)
	}
}

func TestAnalysisHandler_ListByInterview_Empty(t *testing.T) {
	svc := &mockAnalysisService{
		listFn: func(ctx context.Context, interviewID, userID string) ([]*model.AnalysisRecord, error) {
			return nil, nil
		},
	}
	h := NewAnalysisHandler(svc)

	req := withChiURLParam(withUser(httptest.NewRequest(http.MethodGet, "/analysis/interview/iv1", nil), "u1"), "interview_id", "iv1")
	w := httptest.NewRecorder()
	h.ListByInterview(w, req)

	if got := w.Body.String(); got != "{\"analyses\":[]}\n" {
		t.Errorf("body = %q", got)
	}
}
