// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Messageはレスポンスのdetailとしてそのまま返却される。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ（detail）
	Category string // カテゴリ: auth, validation, interview, analysis, provider, system
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeInactiveUser    = "INACTIVE_USER"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeProvider        = "PROVIDER_ERROR"
	ErrCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError(message string) *APIError {
	if message == "" {
		message = "Could not validate credentials"
	}
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  message,
		Category: "auth",
	}
}

// NewBadRequestError は不正なリクエストのエラーを生成する。
func NewBadRequestError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeBadRequest,
		Message:  message,
		Category: "validation",
	}
}

// NewValidationError は入力検証エラーを生成する。
// 面接の所有者不一致など、作成時点で判明する不整合もこのエラーで表す。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
	}
}

// NewInactiveUserError は無効化されたアカウントのエラーを生成する。
func NewInactiveUserError() *APIError {
	return &APIError{
		Code:     ErrCodeInactiveUser,
		Message:  "Inactive user",
		Category: "auth",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
// 他ユーザーのリソースへのアクセスも存在を明かさないよう同じエラーで表す。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found", resource),
		Category: "validation",
	}
}

// NewInterviewNotFoundError は面接未検出エラーを生成する。
func NewInterviewNotFoundError() *APIError {
	e := NewNotFoundError("Interview")
	e.Category = "interview"
	return e
}

// NewAnalysisNotFoundError は分析結果未検出エラーを生成する。
func NewAnalysisNotFoundError() *APIError {
	e := NewNotFoundError("Analysis")
	e.Category = "analysis"
	return e
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests, please retry later",
		Category: "system",
	}
}

// NewProviderError は外部プロバイダ呼び出しの失敗を表すエラーを生成する。
// プロバイダが返したメッセージをdetailとしてそのまま含める。
func NewProviderError(provider, message string) *APIError {
	return &APIError{
		Code:     ErrCodeProvider,
		Message:  fmt.Sprintf("%s: %s", provider, message),
		Category: "provider",
	}
}

// NewPayloadTooLargeError は録画ファイルのサイズ超過エラーを生成する。
func NewPayloadTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodePayloadTooLarge,
		Message:  fmt.Sprintf("Recording exceeds the maximum size of %d bytes", limit),
		Category: "validation",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
	}
}
