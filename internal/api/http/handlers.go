package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshare/internal/api/middleware"
	"github.com/GriffinCanCode/appshare/internal/domain/gateway"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/appshare/internal/shared/apperr"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	coord   *gateway.Coordinator
	logger  *zap.Logger
	started time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(coord *gateway.Coordinator, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		coord:   coord,
		logger:  logger,
		started: time.Now(),
	}
}

// Register mounts the authenticated API routes on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/applications", h.ListApplications)
	r.POST("/applications/:name/start", h.StartApplication)

	r.GET("/instances", h.ListInstances)
	r.GET("/instances/:id", h.GetInstance)
	r.POST("/instances/:id/stop", h.StopInstance)
	r.GET("/instances/:id/logs", h.InstanceLogs)

	r.GET("/sessions", h.ListSessions)
	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions/current", h.CurrentSession)
	r.POST("/sessions/leave", h.LeaveSession)
	r.GET("/sessions/:id", h.GetSession)
	r.DELETE("/sessions/:id", h.CloseSession)
	r.POST("/sessions/:id/join", h.JoinSession)
	r.PATCH("/sessions/:id/settings", h.UpdateSettings)
	r.POST("/sessions/:id/applications", h.BindApplication)
	r.DELETE("/sessions/:id/applications/:instance", h.UnbindApplication)

	r.GET("/stats", h.Stats)
}

// Health handles the unauthenticated health check
func (h *Handlers) Health(c *gin.Context) {
	stats, err := h.coord.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"instances":      stats.Instances,
		"sessions":       stats.Sessions,
		"streams":        stats.Streams,
	})
}

// Stats returns combined component statistics
func (h *Handlers) Stats(c *gin.Context) {
	stats, err := h.coord.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
	})
}

// ============================================================================
// Applications
// ============================================================================

// ListApplications lists the catalogue; ?available=true keeps only
// programs found on PATH
func (h *Handlers) ListApplications(c *gin.Context) {
	availableOnly, _ := strconv.ParseBool(c.Query("available"))
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"applications": h.coord.ListApplications(availableOnly),
	})
}

// StartApplication launches a catalogue application for the caller
func (h *Handlers) StartApplication(c *gin.Context) {
	inst, err := h.coord.StartApplication(c.Request.Context(), middleware.UserID(c), c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":  true,
		"instance": inst,
	})
}

// ListInstances lists the instances visible to the caller
func (h *Handlers) ListInstances(c *gin.Context) {
	instances, err := h.coord.ListInstances(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"instances": instances,
	})
}

// GetInstance returns one instance
func (h *Handlers) GetInstance(c *gin.Context) {
	inst, err := h.coord.InstanceStatus(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"instance": inst,
	})
}

// StopInstance stops an instance and returns once its process has exited
func (h *Handlers) StopInstance(c *gin.Context) {
	if err := h.coord.StopApplication(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "stopped",
	})
}

// InstanceLogs returns the recent output of an instance as plain text
func (h *Handlers) InstanceLogs(c *gin.Context) {
	logs, err := h.coord.InstanceLogs(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", logs)
}

// ============================================================================
// Sessions
// ============================================================================

// ListSessions lists active sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions, err := h.coord.ListSessions(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": sessions,
	})
}

// CreateSession creates a session owned by the caller
func (h *Handlers) CreateSession(c *gin.Context) {
	var req types.CreateSessionRequest
	if !h.bindOptional(c, &req) {
		return
	}
	sess, err := h.coord.CreateSession(c.Request.Context(), middleware.UserID(c), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"session": sess,
	})
}

// CurrentSession returns the caller's session, or null
func (h *Handlers) CurrentSession(c *gin.Context) {
	sess, ok, err := h.coord.CurrentSession(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "session": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

// GetSession returns one session
func (h *Handlers) GetSession(c *gin.Context) {
	sess, err := h.coord.GetSession(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

// JoinSession adds the caller to a session
func (h *Handlers) JoinSession(c *gin.Context) {
	sess, err := h.coord.JoinSession(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

// LeaveSession removes the caller from their session
func (h *Handlers) LeaveSession(c *gin.Context) {
	result, err := h.coord.LeaveSession(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

// CloseSession closes a session owned by the caller
func (h *Handlers) CloseSession(c *gin.Context) {
	if err := h.coord.CloseSession(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "closed"})
}

// UpdateSettings patches the settings of a session owned by the caller
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var patch types.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.badRequest(c, err)
		return
	}
	sess, err := h.coord.UpdateSessionSettings(c.Request.Context(), middleware.UserID(c), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

// BindApplication shares one of the caller's instances with a session
func (h *Handlers) BindApplication(c *gin.Context) {
	var req types.BindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	sess, err := h.coord.BindApplication(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.InstanceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

// UnbindApplication stops sharing an instance with a session
func (h *Handlers) UnbindApplication(c *gin.Context) {
	sess, err := h.coord.UnbindApplication(c.Request.Context(), middleware.UserID(c), c.Param("id"), c.Param("instance"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

// ============================================================================
// Responses
// ============================================================================

// bindOptional decodes a JSON body when one was sent
func (h *Handlers) bindOptional(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, err)
		return false
	}
	return true
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"kind":    apperr.KindInvalid.String(),
		"error":   "Invalid request: " + err.Error(),
	})
}

// fail answers with the status matching err's kind
func (h *Handlers) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	body := gin.H{
		"success": false,
		"kind":    apperr.KindOf(err).String(),
		"error":   err.Error(),
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Limit > 0 {
		body["limit"] = appErr.Limit
	}
	if status >= http.StatusInternalServerError {
		tracing.Logger(c.Request.Context(), h.logger).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		_ = c.Error(err)
	}
	c.JSON(status, body)
}
