package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/infrastructure/logger"
	"github.com/diarco/connexa-sync/internal/infrastructure/scheduler"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// RunScheduler is the part of the scheduler the ops API drives
type RunScheduler interface {
	Trigger() (scheduler.RunRecord, error)
	History() *scheduler.History
	NextRun() time.Time
	Busy() bool
}

// RunHandler lists and triggers publish runs
type RunHandler struct {
	BaseHandler
	scheduler RunScheduler
}

// NewRunHandler creates a RunHandler
func NewRunHandler(s RunScheduler) *RunHandler {
	return &RunHandler{scheduler: s}
}

// RunListResponse is the run history page
type RunListResponse struct {
	Runs    []scheduler.RunRecord `json:"runs"`
	Busy    bool                  `json:"busy"`
	NextRun *time.Time            `json:"next_run,omitempty"`
}

// List returns the most recent runs, newest first
func (h *RunHandler) List(c *gin.Context) {
	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRunsLimit {
			h.BadRequest(c, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	resp := RunListResponse{
		Runs: h.scheduler.History().List(limit),
		Busy: h.scheduler.Busy(),
	}
	if next := h.scheduler.NextRun(); !next.IsZero() {
		resp.NextRun = &next
	}
	h.Success(c, resp)
}

// Get returns one run by scheduler id or pipeline run id
func (h *RunHandler) Get(c *gin.Context) {
	rec, err := h.scheduler.History().Get(c.Param("id"))
	if errors.Is(err, scheduler.ErrRunNotFound) {
		h.NotFound(c, "run not found")
		return
	}
	h.Success(c, rec)
}

// Trigger starts a manual run. A run already executing yields 409.
func (h *RunHandler) Trigger(c *gin.Context) {
	rec, err := h.scheduler.Trigger()
	switch {
	case errors.Is(err, scheduler.ErrRunInProgress):
		h.Conflict(c, "a publish run is already in progress")
		return
	case errors.Is(err, scheduler.ErrSchedulerNotRunning):
		h.Unavailable(c, "scheduler is not running")
		return
	case err != nil:
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Info("Manual run triggered", zap.String("schedule_id", rec.ID))
	h.Accepted(c, rec)
}
