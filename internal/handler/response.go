package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hirely/hirely-api/internal/middleware"
	"github.com/hirely/hirely-api/internal/model"
)

// maxJSONBodyBytes はJSONリクエストボディの上限。
const maxJSONBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをJSONとして読み込む。失敗時はBadRequestを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewBadRequestError("Invalid JSON request body"))
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		if statusCode == http.StatusUnauthorized {
			middleware.WriteUnauthorized(w, apiErr)
			return
		}
		if statusCode == http.StatusInternalServerError {
			// 内部エラーの詳細は返さない
			slog.Error("internal server error", slog.String("error", apiErr.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
		middleware.WriteErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeBadRequest, model.ErrCodeValidation, model.ErrCodeInactiveUser:
		return http.StatusBadRequest
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeProvider:
		return http.StatusBadGateway
	case model.ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// queryInt はクエリパラメータを整数として読み込む。未指定の場合はdefを返す。
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewValidationError(key + " must be an integer")
	}
	return n, nil
}

// writeNotAuthenticated は認証情報がコンテキストにない場合の401を書き込む。
// 認証ミドルウェアの外にルートを誤って登録した場合に到達する。
func writeNotAuthenticated(w http.ResponseWriter) {
	middleware.WriteUnauthorized(w, model.NewUnauthorizedError("Not authenticated"))
}

var (
	errNotFoundRoute    = model.NewNotFoundError("Route")
	errMethodNotAllowed = &model.APIError{Code: model.ErrCodeBadRequest, Message: "Method not allowed", Category: "validation"}
)
