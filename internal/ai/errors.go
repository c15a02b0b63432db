package ai

import (
	"errors"
	"fmt"
	"net/http"
)

// ProviderError は外部AIプロバイダ呼び出しの失敗を表す。
// Error()の文字列は失敗した分析のerror_messageとしてそのまま記録される。
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int // HTTP応答を得られなかった場合は0
	Message    string
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed (status %d): %s", e.Provider, e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Provider, e.Op, msg)
}

// Unwrap は元のエラーを返す。
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Temporary は再試行で回復し得る失敗かを返す。
// 429と5xx、およびHTTP応答を得られなかった通信エラーが該当する。
func (e *ProviderError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return e.Err != nil
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// IsTemporary はerrが再試行可能なProviderErrorかを返す。
func IsTemporary(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return false
}
