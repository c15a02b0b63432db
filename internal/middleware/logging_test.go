package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hirely/hirely-api/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/interviews", nil))

	entry := decodeLogLine(t, &buf)
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["method"] != "GET" || entry["path"] != "/api/v1/interviews" {
		t.Errorf("method/path = %v %v", entry["method"], entry["path"])
	}
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("duration_ms missing")
	}
	if _, ok := entry["user_id"]; ok {
		t.Error("user_id should be omitted for anonymous requests")
	}
}

func TestLoggingMiddleware_IncludesUserIDSetByAuth(t *testing.T) {
	var buf bytes.Buffer
	authn := &stubAuthenticator{user: &model.User{ID: "user-42", IsActive: true}}

	handler := NewLoggingMiddleware(newTestLogger(&buf))(
		NewAuthMiddleware(authn)(okHandler()),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer tok")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := decodeLogLine(t, &buf)
	if entry["user_id"] != "user-42" {
		t.Errorf("user_id = %v, want user-42", entry["user_id"])
	}
}

func TestLoggingMiddleware_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusBadGateway, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		handler := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		entry := decodeLogLine(t, &buf)
		if entry["level"] != tt.level {
			t.Errorf("status %d: level = %v, want %s", tt.status, entry["level"], tt.level)
		}
		if entry["status"] != float64(tt.status) {
			t.Errorf("status = %v, want %d", entry["status"], tt.status)
		}
	}
}
