package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hirely/hirely-api/internal/interview"
	"github.com/hirely/hirely-api/internal/middleware"
	"github.com/hirely/hirely-api/internal/model"
	"github.com/hirely/hirely-api/internal/security"
)

// InterviewServiceInterface は面接ハンドラーが必要とするサービスインターフェース。
type InterviewServiceInterface interface {
	Create(ctx context.Context, userID string, in interview.Input) (*model.Interview, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*model.Interview, error)
	Get(ctx context.Context, id, userID string) (*model.Interview, error)
	Update(ctx context.Context, id, userID string, in interview.UpdateInput) (*model.Interview, error)
	Delete(ctx context.Context, id, userID string) error
	UploadRecording(ctx context.Context, id, userID string, r io.Reader, size int64, contentType, filename string) (*model.Interview, error)
	ImportRecording(ctx context.Context, id, userID, rawURL string) (*model.Interview, error)
	RecordingURL(ctx context.Context, id, userID string) (*interview.RecordingURL, error)
	MaxRecordingBytes() int64
}

// InterviewHandler は面接管理のHTTPハンドラー。
type InterviewHandler struct {
	service InterviewServiceInterface
}

// NewInterviewHandler はInterviewHandlerを生成する。
func NewInterviewHandler(service InterviewServiceInterface) *InterviewHandler {
	return &InterviewHandler{service: service}
}

type createInterviewRequest struct {
	Title          string `json:"title"`
	JobRole        string `json:"job_role"`
	JobDescription string `json:"job_description"`
	InterviewType  string `json:"interview_type"`
}

type updateInterviewRequest struct {
	Title          *string `json:"title"`
	JobRole        *string `json:"job_role"`
	JobDescription *string `json:"job_description"`
	InterviewType  *string `json:"interview_type"`
	Status         *string `json:"status"`
}

type importRecordingRequest struct {
	URL string `json:"url"`
}

// interviewResponse は面接情報のAPIレスポンス。
type interviewResponse struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	JobRole        string    `json:"job_role"`
	JobDescription string    `json:"job_description"`
	InterviewType  string    `json:"interview_type"`
	Status         string    `json:"status"`
	HasRecording   bool      `json:"has_recording"`
	ContentType    string    `json:"recording_content_type,omitempty"`
	Transcript     string    `json:"transcript,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type interviewListResponse struct {
	Interviews []interviewResponse `json:"interviews"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
}

type recordingURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Create は面接を作成する。
// POST /interviews
func (h *InterviewHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	var req createInterviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	iv, err := h.service.Create(r.Context(), userID, interview.Input{
		Title:          req.Title,
		JobRole:        req.JobRole,
		JobDescription: req.JobDescription,
		InterviewType:  model.InterviewType(req.InterviewType),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toInterviewResponse(iv))
}

// List は面接一覧を新しい順に返す。
// GET /interviews?limit=&offset=
func (h *InterviewHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	limit, err := queryInt(r, "limit", interview.DefaultListLimit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	interviews, err := h.service.List(r.Context(), userID, limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if limit > interview.MaxListLimit {
		limit = interview.MaxListLimit
	}
	resp := interviewListResponse{
		Interviews: make([]interviewResponse, len(interviews)),
		Limit:      limit,
		Offset:     offset,
	}
	for i, iv := range interviews {
		resp.Interviews[i] = toInterviewResponse(iv)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は面接を返す。
// GET /interviews/{id}
func (h *InterviewHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	iv, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toInterviewResponse(iv))
}

// Update は面接を部分更新する。
// PUT /interviews/{id}
func (h *InterviewHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	var req updateInterviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := interview.UpdateInput{
		Title:          req.Title,
		JobRole:        req.JobRole,
		JobDescription: req.JobDescription,
	}
	if req.InterviewType != nil {
		t := model.InterviewType(*req.InterviewType)
		in.InterviewType = &t
	}
	if req.Status != nil {
		s := model.InterviewStatus(*req.Status)
		in.Status = &s
	}

	iv, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toInterviewResponse(iv))
}

// Delete は面接と関連する分析・録画を削除する。
// DELETE /interviews/{id}
func (h *InterviewHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UploadRecording はmultipartのfileフィールドで送られた録画を保存する。
// POST /interviews/{id}/recording
func (h *InterviewHandler) UploadRecording(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	maxBytes := h.service.MaxRecordingBytes()
	// multipartのヘッダ分の余裕を持たせる
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)

	reader, err := r.MultipartReader()
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewBadRequestError("Request must be multipart/form-data with a file field"))
		return
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeMultipartError(w, err, maxBytes)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		iv, err := h.service.UploadRecording(r.Context(), chi.URLParam(r, "id"), userID, sizeLimitedPart{part}, -1, part.Header.Get("Content-Type"), part.FileName())
		part.Close()
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toInterviewResponse(iv))
		return
	}

	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("file is required"))
}

// sizeLimitedPart はMaxBytesReaderの上限超過をsecurity.ErrTooLargeとして返す。
// サービス層はこのエラーでサイズ超過を判別する。
type sizeLimitedPart struct {
	r io.Reader
}

func (p sizeLimitedPart) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return n, security.ErrTooLarge
	}
	return n, err
}

func writeMultipartError(w http.ResponseWriter, err error, maxBytes int64) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		handleServiceError(w, model.NewPayloadTooLargeError(maxBytes))
		return
	}
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewBadRequestError("Malformed multipart body"))
}

// ImportRecording は公開URLから録画を取り込む。
// POST /interviews/{id}/recording/import
func (h *InterviewHandler) ImportRecording(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	var req importRecordingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	iv, err := h.service.ImportRecording(r.Context(), chi.URLParam(r, "id"), userID, req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toInterviewResponse(iv))
}

// RecordingURL は録画の署名付きダウンロードURLを返す。
// GET /interviews/{id}/recording
func (h *InterviewHandler) RecordingURL(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeNotAuthenticated(w)
		return
	}

	u, err := h.service.RecordingURL(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recordingURLResponse{URL: u.URL, ExpiresAt: u.ExpiresAt})
}

func toInterviewResponse(iv *model.Interview) interviewResponse {
	return interviewResponse{
		ID:             iv.ID,
		UserID:         iv.UserID,
		Title:          iv.Title,
		JobRole:        iv.JobRole,
		JobDescription: iv.JobDescription,
		InterviewType:  string(iv.InterviewType),
		Status:         string(iv.Status),
		HasRecording:   iv.HasRecording(),
		ContentType:    iv.RecordingContentType,
		Transcript:     iv.Transcript,
		CreatedAt:      iv.CreatedAt,
		UpdatedAt:      iv.UpdatedAt,
	}
}
