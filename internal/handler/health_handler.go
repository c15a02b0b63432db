package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger は依存先の疎通確認を行う。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// NewHealthHandler はヘルスチェックのハンドラーを返す。
// DBに疎通できない場合は503を返す。dbがnilの場合はDBの確認を省略する。
// GET /health
func NewHealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "skipped"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Database: "unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "ok"})
	}
}
