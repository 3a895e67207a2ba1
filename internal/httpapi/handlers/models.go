package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatgw/gateway/internal/httpapi"
	"github.com/chatgw/gateway/internal/llm/chatapi"
)

// ListModels handles GET /v1/models, aggregating every enabled provider's
// published models into one OpenAI-shaped list.
func ListModels(deps httpapi.Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		providers, err := deps.Catalog.Providers(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorBody("failed to list providers", "server_error", ""))
			return
		}

		var data []chatapi.Model
		for _, p := range providers {
			if !p.Enabled {
				continue
			}
			for _, m := range p.Models {
				data = append(data, chatapi.Model{
					ID:      m.PublicID,
					Object:  "model",
					OwnedBy: m.OwnedBy,
				})
			}
		}

		c.JSON(http.StatusOK, chatapi.ModelsResponse{Object: "list", Data: data})
	}
}

// GetModel handles GET /v1/models/:id.
func GetModel(deps httpapi.Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		_, info, _, ok := deps.ResolveModel(c.Request.Context(), id)
		if !ok {
			c.JSON(http.StatusNotFound, errorBody("model not found: "+id, "invalid_request_error", "model_not_found"))
			return
		}
		c.JSON(http.StatusOK, chatapi.Model{
			ID:      info.PublicID,
			Object:  "model",
			OwnedBy: info.OwnedBy,
		})
	}
}
