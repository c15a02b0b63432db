package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// NewCORSMiddleware は指定されたオリジンに対するCORSミドルウェアを返す。
// カンマ区切りで複数のオリジンを指定できる。
// 認証はAuthorizationヘッダで行うため、Cookieの送信（credentials）は許可しない。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	var origins []string
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}
