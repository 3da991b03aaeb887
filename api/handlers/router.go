package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the control API: the terminal routes and, when wsHandler is
// set, the presentation stream under /api.
func NewRouter(term *TerminalHandler, wsHandler *WebSocketHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		term.RegisterRoutes(api)
		if wsHandler != nil {
			wsHandler.RegisterRoutes(api)
		}
	}
	return r
}

// corsMiddleware lets a browser-based presentation client on another origin
// call the API.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
