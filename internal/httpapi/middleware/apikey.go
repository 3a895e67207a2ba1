package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKey gates every request behind one of the configured keys, accepted
// as an `Authorization: Bearer <key>` header, an `X-Api-Key` header, or an
// `api_key` query parameter, mirroring how the vendors' own web clients
// accept a bearer token in more than one place. An empty keys list leaves
// the gateway open, for local/trusted deployments.
//
// source is called once per request rather than once at startup so a key
// rotation picked up by config.Watcher's fsnotify reload takes effect
// without restarting the process.
func APIKey(source func() []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := source()
		if len(keys) == 0 {
			c.Next()
			return
		}
		allowed := false
		key := extractKey(c.Request)
		for _, k := range keys {
			if k != "" && k == key {
				allowed = true
				break
			}
		}
		if !allowed {
			code := "invalid_api_key"
			message := "invalid API key"
			if key == "" {
				code = "missing_api_key"
				message = "missing API key"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"message": message,
					"type":    "invalid_request_error",
					"code":    code,
				},
			})
			return
		}
		c.Next()
	}
}

// StaticKeys adapts a fixed key list to APIKey's source signature, for
// callers that don't need hot-reload (tests, one-shot tooling).
func StaticKeys(keys []string) func() []string {
	return func() []string { return keys }
}

func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	if k := r.Header.Get("X-Api-Key"); k != "" {
		return k
	}
	return r.URL.Query().Get("api_key")
}
