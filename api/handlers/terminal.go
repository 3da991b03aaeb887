// Package handlers provides HTTP API request handlers.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FL-Penly/mobile-terminal/internal/dispatch"
	"github.com/FL-Penly/mobile-terminal/internal/model"
	"github.com/FL-Penly/mobile-terminal/internal/terminal"
)

// Terminal is the part of the terminal client the control API drives.
type Terminal interface {
	Snapshot() terminal.Snapshot
	Activities() []model.Activity
	Status() model.Status
	SendInput(data []byte) error
	SendKey(name string) error
	Resize(cols, rows int) error
	Reconnect() error
	Disconnect() error
	Resume() error
	SetPredictiveEcho(enabled bool) error
	SetDisplayScale(scale float64) error
	SetRuleEnabled(name string, enabled bool) error
	ClearActivities() error
	Sessions(ctx context.Context) (model.SessionList, error)
	SwitchSession(ctx context.Context, name string) error
	KillSession(ctx context.Context, name string) error
}

var _ Terminal = (*terminal.Client)(nil)

// TerminalHandler handles HTTP requests for the terminal client.
type TerminalHandler struct {
	term Terminal
}

// NewTerminalHandler creates a new TerminalHandler.
func NewTerminalHandler(term Terminal) *TerminalHandler {
	return &TerminalHandler{term: term}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// InputRequest is the body of POST /api/input.
type InputRequest struct {
	Data string `json:"data" binding:"required"`
}

// ResizeRequest is the body of POST /api/resize.
type ResizeRequest struct {
	Cols int `json:"cols" binding:"required,min=1"`
	Rows int `json:"rows" binding:"required,min=1"`
}

// ToggleRequest is the body of the echo and rule toggles.
type ToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ScaleRequest is the body of PUT /api/display-scale.
type ScaleRequest struct {
	Scale *float64 `json:"scale" binding:"required"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendTerminalError maps client errors to HTTP responses.
func sendTerminalError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, terminal.ErrUnknownKey):
		sendError(c, http.StatusBadRequest, "UNKNOWN_KEY", err.Error())
	case errors.Is(err, model.ErrProtocol):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrSessionNotFound):
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrCollaboratorUnavailable):
		sendError(c, http.StatusServiceUnavailable, "COLLABORATOR_UNAVAILABLE", err.Error())
	case errors.Is(err, dispatch.ErrStopped):
		sendError(c, http.StatusServiceUnavailable, "TERMINAL_CLOSED", err.Error())
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// accepted reports a request that was queued on the terminal.
func accepted(c *gin.Context, err error) {
	if err != nil {
		sendTerminalError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// State handles GET /api/state.
func (h *TerminalHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.term.Snapshot())
}

// Activities handles GET /api/activities.
func (h *TerminalHandler) Activities(c *gin.Context) {
	list := h.term.Activities()
	if list == nil {
		list = []model.Activity{}
	}
	c.JSON(http.StatusOK, gin.H{"activities": list})
}

// ClearActivities handles DELETE /api/activities.
func (h *TerminalHandler) ClearActivities(c *gin.Context) {
	accepted(c, h.term.ClearActivities())
}

// Input handles POST /api/input.
func (h *TerminalHandler) Input(c *gin.Context) {
	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	accepted(c, h.term.SendInput([]byte(req.Data)))
}

// Keys handles GET /api/keys.
func (h *TerminalHandler) Keys(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"keys": terminal.KeyNames()})
}

// SendKey handles POST /api/keys/:name.
func (h *TerminalHandler) SendKey(c *gin.Context) {
	accepted(c, h.term.SendKey(c.Param("name")))
}

// Resize handles POST /api/resize.
func (h *TerminalHandler) Resize(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	accepted(c, h.term.Resize(req.Cols, req.Rows))
}

// Reconnect handles POST /api/reconnect.
func (h *TerminalHandler) Reconnect(c *gin.Context) {
	accepted(c, h.term.Reconnect())
}

// Disconnect handles POST /api/disconnect.
func (h *TerminalHandler) Disconnect(c *gin.Context) {
	accepted(c, h.term.Disconnect())
}

// Resume handles POST /api/resume.
func (h *TerminalHandler) Resume(c *gin.Context) {
	accepted(c, h.term.Resume())
}

// SetEcho handles PUT /api/echo.
func (h *TerminalHandler) SetEcho(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	accepted(c, h.term.SetPredictiveEcho(*req.Enabled))
}

// SetDisplayScale handles PUT /api/display-scale.
func (h *TerminalHandler) SetDisplayScale(c *gin.Context) {
	var req ScaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	accepted(c, h.term.SetDisplayScale(*req.Scale))
}

// SetRule handles PUT /api/rules/:name.
func (h *TerminalHandler) SetRule(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	accepted(c, h.term.SetRuleEnabled(c.Param("name"), *req.Enabled))
}

// Status handles GET /api/status.
func (h *TerminalHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.term.Status())
}

// Sessions handles GET /api/sessions.
func (h *TerminalHandler) Sessions(c *gin.Context) {
	list, err := h.term.Sessions(c.Request.Context())
	if err != nil {
		sendTerminalError(c, err)
		return
	}
	if list.Sessions == nil {
		list.Sessions = []model.RemoteSession{}
	}
	c.JSON(http.StatusOK, list)
}

// SwitchSession handles POST /api/sessions/:name/switch.
func (h *TerminalHandler) SwitchSession(c *gin.Context) {
	if err := h.term.SwitchSession(c.Request.Context(), c.Param("name")); err != nil {
		sendTerminalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// KillSession handles DELETE /api/sessions/:name.
func (h *TerminalHandler) KillSession(c *gin.Context) {
	if err := h.term.KillSession(c.Request.Context(), c.Param("name")); err != nil {
		sendTerminalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the terminal handler routes on a Gin router group.
func (h *TerminalHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/state", h.State)
	rg.GET("/activities", h.Activities)
	rg.DELETE("/activities", h.ClearActivities)
	rg.POST("/input", h.Input)
	rg.GET("/keys", h.Keys)
	rg.POST("/keys/:name", h.SendKey)
	rg.POST("/resize", h.Resize)
	rg.POST("/reconnect", h.Reconnect)
	rg.POST("/disconnect", h.Disconnect)
	rg.POST("/resume", h.Resume)
	rg.PUT("/echo", h.SetEcho)
	rg.PUT("/display-scale", h.SetDisplayScale)
	rg.PUT("/rules/:name", h.SetRule)
	rg.GET("/status", h.Status)
	rg.GET("/sessions", h.Sessions)
	rg.POST("/sessions/:name/switch", h.SwitchSession)
	rg.DELETE("/sessions/:name", h.KillSession)
}
