package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/portalflow/internal/api/middleware"
	"github.com/timmy/portalflow/internal/logger"
	"github.com/timmy/portalflow/internal/registry"
)

// PoolStatus reports executor utilisation.
type PoolStatus interface {
	Active() int
	Size() int
}

// TaskHandler handles task submission, inspection and cancellation.
type TaskHandler struct {
	registry *registry.Registry
	pool     PoolStatus
	started  time.Time
}

// NewTaskHandler creates a new task handler.
// Parameters:
//   - reg: task registry shared with the executors.
//   - pool: executor pool for status reporting.
// Returns:
//   - *TaskHandler: initialized handler.
func NewTaskHandler(reg *registry.Registry, pool PoolStatus) *TaskHandler {
	return &TaskHandler{registry: reg, pool: pool, started: time.Now()}
}

// SubmitRequest is the body of POST /api/submit.
type SubmitRequest struct {
	UserID      string       `json:"user_id"`
	Identifiers []Identifier `json:"identifiers"`
}

// Identifier accepts a JSON string or number. Any other JSON value keeps its
// literal text, so it is reported as rejected instead of failing the batch.
type Identifier string

// UnmarshalJSON implements json.Unmarshaler.
func (id *Identifier) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = Identifier(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil || n == "" {
		*id = Identifier(data)
		return nil
	}
	text := n.String()
	if strings.ContainsAny(text, ".eE") {
		if f, err := n.Float64(); err == nil {
			text = strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	*id = Identifier(text)
	return nil
}

func (r SubmitRequest) rawIdentifiers() []string {
	raw := make([]string, len(r.Identifiers))
	for i, id := range r.Identifiers {
		raw[i] = string(id)
	}
	return raw
}

// Submit handles POST /api/submit.
func (h *TaskHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	id, rejected, err := h.registry.Submit(req.UserID, req.rawIdentifiers())
	switch {
	case registry.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{
			"success":  false,
			"error":    err.Error(),
			"rejected": rejected,
		})
		return
	case errors.Is(err, registry.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":    false,
			"error":      "Submission failed: " + err.Error(),
			"request_id": logger.GetRequestID(c.Request.Context()),
		})
		return
	}

	task, _ := h.registry.Get(id)
	ctx := logger.SetTaskID(c.Request.Context(), id)
	logger.With(logger.Fields{
		logger.FieldCount:  len(task.Identifiers),
		logger.FieldUserID: task.UserID,
	}).Info(ctx, "Task submitted, %d identifiers rejected", len(rejected))

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"task_id":        id,
		"message":        fmt.Sprintf("Task queued with %d identifiers", len(task.Identifiers)),
		"queue_position": h.registry.QueueDepth(),
		"rejected":       rejected,
	})
}

// Get handles GET /api/task/:id.
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.registry.Get(c.Param("id"))
	if errors.Is(err, registry.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// Cancel handles POST /api/task/:id/cancel.
func (h *TaskHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Cancel(id); errors.Is(err, registry.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Task not found"})
		return
	}
	middleware.GetLogger(c).WithField(logger.FieldTaskID, id).Info("Task cancellation requested")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Task cancelled",
	})
}

// List handles GET /api/tasks.
func (h *TaskHandler) List(c *gin.Context) {
	ids := h.registry.List()
	c.JSON(http.StatusOK, gin.H{
		"tasks": ids,
		"count": len(ids),
	})
}

// Status handles GET /api/status.
func (h *TaskHandler) Status(c *gin.Context) {
	resp := gin.H{
		"status":         "running",
		"total_tasks":    h.registry.Count(),
		"queue_size":     h.registry.QueueDepth(),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"active_workers": 0,
		"workers":        0,
	}
	if h.pool != nil {
		resp["active_workers"] = h.pool.Active()
		resp["workers"] = h.pool.Size()
	}
	c.JSON(http.StatusOK, resp)
}
