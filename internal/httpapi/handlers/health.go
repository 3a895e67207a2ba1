package handlers

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatgw/gateway/internal/httpapi"
)

// Health handles GET /health. Response shape follows spec.md §6:
// {status, uptime, statistics:{totalRequests, successRequests,
// failedRequests, activeConnections}}.
func Health(deps httpapi.Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var total, success, failed int64
		rows, err := deps.Catalog.StatsSince(c.Request.Context(), time.Time{})
		if err == nil {
			for _, r := range rows {
				total += r.RequestCount
				failed += r.ErrorCount
			}
			success = total - failed
		}

		var active int64
		if deps.ActiveConnections != nil {
			active = atomic.LoadInt64(deps.ActiveConnections)
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": int64(time.Since(deps.StartedAt).Seconds()),
			"statistics": gin.H{
				"totalRequests":     total,
				"successRequests":   success,
				"failedRequests":    failed,
				"activeConnections": active,
			},
		})
	}
}
