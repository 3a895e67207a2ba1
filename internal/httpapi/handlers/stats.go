package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatgw/gateway/internal/httpapi"
)

// Stats handles GET /stats, reporting per-provider/model request counts
// over a trailing window (default 24h, overridable with ?hours=N).
func Stats(deps httpapi.Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		hours := 24
		if raw := c.Query("hours"); raw != "" {
			if n, err := time.ParseDuration(raw + "h"); err == nil && n > 0 {
				hours = int(n.Hours())
			}
		}
		since := time.Now().Add(-time.Duration(hours) * time.Hour)

		rows, err := deps.Catalog.StatsSince(c.Request.Context(), since)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorBody("failed to aggregate stats", "server_error", ""))
			return
		}

		accounts, err := deps.Catalog.Accounts(c.Request.Context(), "")
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorBody("failed to list accounts", "server_error", ""))
			return
		}
		accountUsage := make([]gin.H, 0, len(accounts))
		for _, a := range accounts {
			accountUsage = append(accountUsage, gin.H{
				"account_id":  a.ID,
				"provider_id": a.ProviderID,
				"status":      a.Status,
				"used_today":  a.UsedToday,
				"daily_quota": a.DailyQuota,
				"fail_count":  a.FailCount,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"since":    since.Unix(),
			"stats":    rows,
			"accounts": accountUsage,
		})
	}
}
