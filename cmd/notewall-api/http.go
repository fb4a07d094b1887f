package main

import (
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/splashdigilab/willMusic/pkg/logger"
	"github.com/splashdigilab/willMusic/pkg/metrics"
	"github.com/splashdigilab/willMusic/pkg/models"
	"github.com/splashdigilab/willMusic/pkg/store"
)

type submissionRequest struct {
	Token   string           `json:"token" binding:"required"`
	Content string           `json:"content" binding:"required"`
	Style   models.NoteStyle `json:"style"`
}

// setupRestAPI initializes the REST API and starts listening.
func setupRestAPI(addr string, noteStore store.Store) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Combined access and error log via zap, RFC3339 with UTC time format.
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/tokens", createTokenHandler(noteStore))
		v1.POST("/notes", createNoteHandler(noteStore))
		v1.GET("/history", historyHandler(noteStore))
	}

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalf("API server failed: %s", err)
		}
	}()

	return server
}

// createTokenHandler issues a one-time submission token to a kiosk.
func createTokenHandler(noteStore store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := noteStore.CreateToken(c.Request.Context())
		if err != nil {
			metrics.IncErrorCount(logger.ComponentAPI)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"token": token})
	}
}

// createNoteHandler accepts a decorated note against a previously issued
// token. The token is consumed atomically; resubmitting the same token is a
// conflict, not a duplicate note.
func createNoteHandler(noteStore store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submissionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		form := models.CreateNoteForm{Content: req.Content, Style: req.Style}
		id, err := noteStore.CreateNote(c.Request.Context(), form, req.Token)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrTokenInvalid):
				c.JSON(http.StatusForbidden, gin.H{"error": "unknown token"})
			case errors.Is(err, store.ErrTokenConsumed), errors.Is(err, store.ErrAlreadySubmitted):
				c.JSON(http.StatusConflict, gin.H{"error": "token already used"})
			default:
				metrics.IncErrorCount(logger.ComponentAPI)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
			}
			return
		}

		metrics.IncNotesSubmitted()
		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

// historyHandler serves one page of played notes for the archive scroll.
func historyHandler(noteStore store.Store) gin.HandlerFunc {
	type pageResponse struct {
		Items  []models.WireNote `json:"items"`
		Cursor string            `json:"cursor,omitempty"`
	}

	return func(c *gin.Context) {
		pageSize := 20
		if err := parsePositiveInt(c.Query("limit"), &pageSize); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}

		page, err := noteStore.GetHistoryPage(c.Request.Context(), pageSize, c.Query("cursor"))
		if err != nil {
			metrics.IncErrorCount(logger.ComponentAPI)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
			return
		}

		resp := pageResponse{Cursor: page.Cursor, Items: make([]models.WireNote, 0, len(page.Items))}
		for _, n := range page.Items {
			resp.Items = append(resp.Items, n.ToWire())
		}
		c.JSON(http.StatusOK, resp)
	}
}
