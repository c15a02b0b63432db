package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hirely/hirely-api/internal/analysis"
	"github.com/hirely/hirely-api/internal/interview"
	"github.com/hirely/hirely-api/internal/middleware"
	"github.com/hirely/hirely-api/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn       func(ctx context.Context, email, password, fullName string) (*model.AuthSession, error)
	loginFn          func(ctx context.Context, email, password string) (*model.AuthSession, error)
	logoutFn         func(ctx context.Context, token string) error
	forgotPasswordFn func(ctx context.Context, email string) error
	changePasswordFn func(ctx context.Context, token, newPassword string) error
}

func (m *mockAuthService) Register(ctx context.Context, email, password, fullName string) (*model.AuthSession, error) {
	return m.registerFn(ctx, email, password, fullName)
}
func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.AuthSession, error) {
	return m.loginFn(ctx, email, password)
}
func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}
func (m *mockAuthService) ForgotPassword(ctx context.Context, email string) error {
	if m.forgotPasswordFn != nil {
		return m.forgotPasswordFn(ctx, email)
	}
	return nil
}
func (m *mockAuthService) ChangePassword(ctx context.Context, token, newPassword string) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, token, newPassword)
	}
	return nil
}

type mockUserService struct {
	updateProfileFn func(ctx context.Context, token, fullName string) (*model.User, error)
	withdrawFn      func(ctx context.Context, userID string) error
}

func (m *mockUserService) UpdateProfile(ctx context.Context, token, fullName string) (*model.User, error) {
	return m.updateProfileFn(ctx, token, fullName)
}
func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	return m.withdrawFn(ctx, userID)
}

type mockInterviewService struct {
	createFn       func(ctx context.Context, userID string, in interview.Input) (*model.Interview, error)
	listFn         func(ctx context.Context, userID string, limit, offset int) ([]*model.Interview, error)
	getFn          func(ctx context.Context, id, userID string) (*model.Interview, error)
	updateFn       func(ctx context.Context, id, userID string, in interview.UpdateInput) (*model.Interview, error)
	deleteFn       func(ctx context.Context, id, userID string) error
	uploadFn       func(ctx context.Context, id, userID string, r io.Reader, size int64, contentType, filename string) (*model.Interview, error)
	importFn       func(ctx context.Context, id, userID, rawURL string) (*model.Interview, error)
	recordingURLFn func(ctx context.Context, id, userID string) (*interview.RecordingURL, error)
	maxBytes       int64
}

func (m *mockInterviewService) Create(ctx context.Context, userID string, in interview.Input) (*model.Interview, error) {
	return m.createFn(ctx, userID, in)
}
func (m *mockInterviewService) List(ctx context.Context, userID string, limit, offset int) ([]*model.Interview, error) {
	return m.listFn(ctx, userID, limit, offset)
}
func (m *mockInterviewService) Get(ctx context.Context, id, userID string) (*model.Interview, error) {
	return m.getFn(ctx, id, userID)
}
func (m *mockInterviewService) Update(ctx context.Context, id, userID string, in interview.UpdateInput) (*model.Interview, error) {
	return m.updateFn(ctx, id, userID, in)
}
func (m *mockInterviewService) Delete(ctx context.Context, id, userID string) error {
	return m.deleteFn(ctx, id, userID)
}
func (m *mockInterviewService) UploadRecording(ctx context.Context, id, userID string, r io.Reader, size int64, contentType, filename string) (*model.Interview, error) {
	return m.uploadFn(ctx, id, userID, r, size, contentType, filename)
}
func (m *mockInterviewService) ImportRecording(ctx context.Context, id, userID, rawURL string) (*model.Interview, error) {
	return m.importFn(ctx, id, userID, rawURL)
}
func (m *mockInterviewService) RecordingURL(ctx context.Context, id, userID string) (*interview.RecordingURL, error) {
	return m.recordingURLFn(ctx, id, userID)
}
func (m *mockInterviewService) MaxRecordingBytes() int64 {
	if m.maxBytes == 0 {
		return 1 << 20
	}
	return m.maxBytes
}

type mockAnalysisService struct {
	startFn      func(ctx context.Context, interviewID, userID string, analysisType model.AnalysisType) (*analysis.StartResult, error)
	regenerateFn func(ctx context.Context, analysisID, userID string) (*analysis.StartResult, error)
	getResultFn  func(ctx context.Context, analysisID, userID string) (*model.AnalysisRecord, error)
	getLatestFn  func(ctx context.Context, interviewID, userID string) (*model.AnalysisRecord, error)
	listFn       func(ctx context.Context, interviewID, userID string) ([]*model.AnalysisRecord, error)
}

func (m *mockAnalysisService) Start(ctx context.Context, interviewID, userID string, analysisType model.AnalysisType) (*analysis.StartResult, error) {
	return m.startFn(ctx, interviewID, userID, analysisType)
}
func (m *mockAnalysisService) Regenerate(ctx context.Context, analysisID, userID string) (*analysis.StartResult, error) {
	return m.regenerateFn(ctx, analysisID, userID)
}
func (m *mockAnalysisService) GetResult(ctx context.Context, analysisID, userID string) (*model.AnalysisRecord, error) {
	return m.getResultFn(ctx, analysisID, userID)
}
func (m *mockAnalysisService) GetLatest(ctx context.Context, interviewID, userID string) (*model.AnalysisRecord, error) {
	return m.getLatestFn(ctx, interviewID, userID)
}
func (m *mockAnalysisService) List(ctx context.Context, interviewID, userID string) ([]*model.AnalysisRecord, error) {
	return m.listFn(ctx, interviewID, userID)
}

// --- テストヘルパー ---

// withUser はテスト用にリクエストコンテキストへ認証済みユーザーを注入するヘルパー。
func withUser(r *http.Request, userID string) *http.Request {
	user := &model.User{ID: userID, Email: userID + "@example.com", Name: userID, IsActive: true}
	return r.WithContext(middleware.ContextWithUser(r.Context(), user, "token-"+userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseErrorBody はレスポンスボディから統一エラーフォーマットをパースするヘルパー。
func parseErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

// decodeBody はJSONレスポンスを任意の型にデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
