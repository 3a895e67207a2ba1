package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatgw/gateway/internal/httpapi/handlers"
	"github.com/chatgw/gateway/internal/httpapi/middleware"
	"github.com/chatgw/gateway/internal/infrastructure/config"
)

// Server is the gateway's HTTP listener.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// New builds a Server wired to deps, with gin running in release mode
// when cfg.Mode is "production" and in debug mode otherwise. keySource is called per-request so a
// config.Watcher-driven key rotation takes effect without a restart; pass
// middleware.StaticKeys(auth.APIKeys) for a fixed list.
func New(cfg config.GatewayConfig, keySource func() []string, deps Deps) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS())

	router.GET("/health", handlers.Health(deps))
	router.GET("/stats", handlers.Stats(deps))

	oai := router.Group("/v1")
	oai.Use(middleware.APIKey(keySource))
	{
		oai.POST("/chat/completions", handlers.ChatCompletions(deps))
		oai.GET("/models", handlers.ListModels(deps))
		oai.GET("/models/:id", handlers.GetModel(deps))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: deps.Logger,
	}
}

// Start begins serving in a background goroutine and returns immediately.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting http server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, waiting up to ctx's deadline for
// in-flight requests (including open SSE streams) to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping http server")
	return s.server.Shutdown(ctx)
}
