package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はLLMが生成したフィードバック文からHTMLを除去する。
// 結果はプレーンテキストとしてAPIから返されるため、タグはすべて落とし、
// エンティティは元の文字に戻す。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、前後の空白を取り除いたテキストを返す。
func (s *TextSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}

// SanitizeList は各要素をサニタイズし、空になった要素を除外する。
func (s *TextSanitizer) SanitizeList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if clean := s.Sanitize(item); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}
