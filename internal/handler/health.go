package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jukebox/auth-backend/internal/model"
)

// Pinger is anything whose backing store can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// 헬스체크 엔드포인트
func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, model.PingResponse{Message: "pong"})
}

// 루트 엔드포인트
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, model.RootResponse{
		Status:  "ok",
		Message: "jukebox auth server is running",
	})
}

// Healthz reports 503 when the user store cannot be reached.
func Healthz(store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, model.StatusResponse{Status: "unavailable"})
			return
		}
		c.JSON(http.StatusOK, model.StatusResponse{Status: "ok"})
	}
}
