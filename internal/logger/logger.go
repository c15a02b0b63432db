package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// level はグローバルロガーのログレベル。設定読み込み後にSetLevelで変更できる。
var level = new(slog.LevelVar)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w)
	slog.SetDefault(logger)
}

// SetLevel はログレベルを文字列（debug, info, warn, error）で変更する。
// 不明な値の場合はinfoになる。
func SetLevel(s string) {
	level.Set(ParseLevel(s))
}

// ParseLevel は文字列をslog.Levelに変換する。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
