package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/FL-Penly/mobile-terminal/internal/ws"
)

// WebSocketHandler attaches presentation clients to the terminal stream.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{wsHandler: wsHandler}
}

// Attach handles WS /api/attach.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	// The upgrader has already written the failure response.
	_ = h.wsHandler.HandleConnection(c.Writer, c.Request)
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/attach", h.Attach)
}
