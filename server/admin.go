package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HandleAdminConfig 提供规则参数的读取与更新（热更新，下一 Tick 生效）
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段
func HandleAdminConfig(room *Room) http.HandlerFunc {
	type cfg struct {
		ClientTimeoutMs *int     `json:"clientTimeoutMs,omitempty"`
		ActionsPerSec   *float64 `json:"actionsPerSec,omitempty"`
		ActionBurst     *int     `json:"actionBurst,omitempty"`
		MaxBroadcastLen *int     `json:"maxBroadcastLen,omitempty"`
	}
	view := func(t Tunables) cfg {
		timeoutMs := int(t.ClientTimeout / time.Millisecond)
		return cfg{
			ClientTimeoutMs: &timeoutMs,
			ActionsPerSec:   &t.ActionsPerSec,
			ActionBurst:     &t.ActionBurst,
			MaxBroadcastLen: &t.MaxBroadcastLen,
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(view(room.Tunables()))
			return
		case http.MethodPost:
			var body cfg
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
			t := room.UpdateTunables(func(t *Tunables) {
				if body.ClientTimeoutMs != nil {
					t.ClientTimeout = time.Duration(*body.ClientTimeoutMs) * time.Millisecond
				}
				if body.ActionsPerSec != nil {
					t.ActionsPerSec = *body.ActionsPerSec
				}
				if body.ActionBurst != nil {
					t.ActionBurst = *body.ActionBurst
				}
				if body.MaxBroadcastLen != nil {
					t.MaxBroadcastLen = *body.MaxBroadcastLen
				}
			})
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(view(t))
			Log.Infof("config updated: timeout=%s actionsPerSec=%.1f burst=%d maxBroadcastLen=%d",
				t.ClientTimeout, t.ActionsPerSec, t.ActionBurst, t.MaxBroadcastLen)
			return
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
	}
}

// HandleMetrics 输出世界的运行指标
// GET /metrics
func HandleMetrics(room *Room) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := room.metrics.Snapshot()
		payload := map[string]any{
			"tick":     snap["tick_count"],
			"sessions": room.SessionCount(),
			"metrics":  snap,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}
}
