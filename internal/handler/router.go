package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jukebox/auth-backend/internal/config"
	"github.com/jukebox/auth-backend/internal/service"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// PublicPaths bypass AuthMiddleware.
var PublicPaths = []string{
	"/",
	"/ping",
	"/healthz",
	"/openapi.json",
	"/auth/login",
	"/auth/callback",
}

func NewRouter(cfg config.Config, authHandler *AuthHandler, authService *service.AuthService, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowCredentials))
	r.Use(AuthMiddleware(authService, PublicPaths))

	r.GET("/", Root)
	r.GET("/ping", Ping)
	r.GET("/healthz", Healthz(authService))
	r.GET("/openapi.json", OpenAPIDoc)

	auth := r.Group("/auth")
	{
		auth.GET("/login", authHandler.Login)
		auth.GET("/callback", authHandler.Callback)
		auth.GET("/session", authHandler.Session)
		auth.GET("/me", authHandler.Me)
		auth.POST("/logout", authHandler.Logout)
	}

	return r
}
