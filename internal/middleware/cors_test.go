package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware_SetsHeadersForAllowedOrigin(t *testing.T) {
	handler := NewCORSMiddleware("http://localhost:3000")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/interviews", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "http://localhost:3000")
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want empty", got)
	}
}

func TestCORSMiddleware_DisallowedOrigin(t *testing.T) {
	handler := NewCORSMiddleware("http://localhost:3000")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/interviews", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestCORSMiddleware_PreflightAllowsAuthorization(t *testing.T) {
	handler := NewCORSMiddleware("http://a.example.com, http://b.example.com")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight should not reach the handler")
		}),
	)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analysis/start", nil)
	req.Header.Set("Origin", "http://b.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK && w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 200 or 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://b.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got == "" {
		t.Error("Access-Control-Allow-Headers should be set")
	}
}
