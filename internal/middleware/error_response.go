package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hirely/hirely-api/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Detail   string `json:"detail"`
	Code     string `json:"code"`
	Category string `json:"category"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Detail:   apiErr.Message,
		Code:     apiErr.Code,
		Category: apiErr.Category,
	})
}

// WriteUnauthorized はWWW-Authenticateヘッダ付きの401レスポンスを書き込む。
func WriteUnauthorized(w http.ResponseWriter, apiErr *model.APIError) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
