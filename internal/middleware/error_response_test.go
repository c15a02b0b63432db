package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hirely/hirely-api/internal/model"
)

func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusNotFound, model.NewInterviewNotFoundError())

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	want := map[string]string{
		"detail":   "Interview not found",
		"code":     model.ErrCodeNotFound,
		"category": "interview",
	}
	for k, v := range want {
		if raw[k] != v {
			t.Errorf("%s = %v, want %q", k, raw[k], v)
		}
	}
	if len(raw) != len(want) {
		t.Errorf("body has %d fields, want %d: %v", len(raw), len(want), raw)
	}
}

func TestWriteUnauthorized_SetsChallenge(t *testing.T) {
	w := httptest.NewRecorder()
	WriteUnauthorized(w, model.NewUnauthorizedError(""))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Errorf("WWW-Authenticate = %q, want Bearer", got)
	}
}

func TestWriteInternalServerError_HidesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != model.ErrCodeInternal || body.Detail != "Internal server error" {
		t.Errorf("body = %+v", body)
	}
}
