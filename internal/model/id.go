package model

import "github.com/google/uuid"

// ValidID は面接・分析のIDとして解釈できる文字列（UUID）かどうかを返す。
// UUID列に不正な文字列を渡すとDBがエラーを返すため、クエリ前に判定する。
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
