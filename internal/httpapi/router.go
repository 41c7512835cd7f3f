package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/studytree-ai/internal/apperr"
	"github.com/suPer8Hu/studytree-ai/internal/auth"
	"github.com/suPer8Hu/studytree-ai/internal/common"
	"github.com/suPer8Hu/studytree-ai/internal/config"
	"github.com/suPer8Hu/studytree-ai/internal/generation"
	"github.com/suPer8Hu/studytree-ai/internal/httpapi/handlers"
	"github.com/suPer8Hu/studytree-ai/internal/httpapi/middleware"
	"github.com/suPer8Hu/studytree-ai/internal/prompt"
	"github.com/suPer8Hu/studytree-ai/internal/tracer"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func NewRouter(cfg config.Config, gen *generation.Service, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(otelgin.Middleware(tracer.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.Recovery(log))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposeHeaders:    []string{middleware.RequestIDHeader, "X-Generation-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, apperr.CodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40501, "method not allowed")
	})

	h := handlers.NewHandler(cfg, gen, log)

	r.GET("/", h.Root)
	r.GET("/ping", h.Ping)

	// AI (JWT required)
	ai := r.Group("/ai")
	ai.Use(middleware.AuthRequired(auth.NewVerifier(cfg.JWTSecret, cfg.JWTAlgorithm), log))
	for _, k := range prompt.Kinds() {
		ai.POST("/nodes/:node_id/"+string(k), h.Generate(k))
	}
	ai.GET("/generations/:request_id", h.GetGeneration)

	return r
}
