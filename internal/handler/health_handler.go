package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger は依存サービスの疎通確認を行う。*sql.DBが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// healthTimeout はヘルスチェック1回あたりのタイムアウト。
const healthTimeout = 2 * time.Second

// NewHealthHandler は/healthのハンドラーを返す。
// 依存先の疎通に失敗した場合は503を返す。
func NewHealthHandler(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(deps))
		status := http.StatusOK

		for name, p := range deps {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			err := p.PingContext(ctx)
			cancel()
			if err != nil {
				slog.Warn("health check failed",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				checks[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
	}
}
