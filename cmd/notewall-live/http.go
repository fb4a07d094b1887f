package main

import (
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/splashdigilab/willMusic/pkg/slots"
	"github.com/splashdigilab/willMusic/pkg/wall"
)

var errWallNotLoaded = errors.New("wall has not loaded its first snapshot yet")

type viewportRequest struct {
	Width  float64 `json:"width" binding:"required,gt=0"`
	Height float64 `json:"height" binding:"required,gt=0"`
}

// setupStateAPI serves the wall state to the rendering frontend: current
// occupants with their slot geometry, plus a viewport hook for resizes.
func setupStateAPI(addr string, reconciler *wall.Reconciler, alloc *slots.Allocator) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})

	v1 := router.Group("/api/v1")
	{
		v1.GET("/wall", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"items": reconciler.Items()})
		})

		v1.POST("/wall/viewport", func(c *gin.Context) {
			var req viewportRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			alloc.SetViewport(req.Width, req.Height)
			c.Status(http.StatusNoContent)
		})
	}

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalf("Wall state server failed: %s", err)
		}
	}()

	return server
}
