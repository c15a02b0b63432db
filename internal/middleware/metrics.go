package middleware

import (
	"net/http"
)

// StatusRecorder はHTTPステータスコードの記録先。
type StatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// NewMetricsMiddleware はレスポンスのステータスコードを記録するミドルウェアを返す。
func NewMetricsMiddleware(recorder StatusRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(rec, r)
			recorder.RecordHTTPStatus(rec.statusCode)
		})
	}
}
