package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"duochat/internal/pkg/logx"
	"duochat/internal/pkg/resp"
)

const healthCheckTimeout = 2 * time.Second

type healthReport struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	OnlineUsers  int               `json:"onlineUsers"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// HandleHealth probes every configured dependency concurrently. Any failing probe turns the
// response into a 503.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		report := healthReport{
			Status:       "ok",
			Service:      "duochat",
			Dependencies: make(map[string]string, len(deps.Checks)),
		}
		if deps.Manager != nil {
			report.OnlineUsers = deps.Manager.Presence().Len()
		}

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for name, check := range deps.Checks {
			name, check := name, check
			wg.Add(1)
			go func() {
				defer wg.Done()

				status := "ok"
				if err := check.Ping(ctx); err != nil {
					logx.Warn("Health check failed", "dependency", name, "error", err.Error())
					status = "unavailable"
				}

				mu.Lock()
				report.Dependencies[name] = status
				if status != "ok" {
					report.Status = "degraded"
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		if report.Status != "ok" {
			resp.RespondJSON(w, r, http.StatusServiceUnavailable, resp.JSONResponse{
				Code:    http.StatusServiceUnavailable,
				Message: "Service degraded",
				Data:    report,
			})
			return
		}
		resp.RespondSuccess(w, r, report)
	}
}
