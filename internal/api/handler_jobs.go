package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"letterdesk/internal/apperr"
	"letterdesk/internal/httpserver"
	"letterdesk/internal/jobs"
	"letterdesk/internal/service"
	"letterdesk/pkg/rbac"
)

const maxListLimit = 200

type JobHandler struct {
	letters *service.LetterService
	queue   *jobs.Queue
	logger  *zap.Logger
}

func NewJobHandler(letters *service.LetterService, queue *jobs.Queue, logger *zap.Logger) *JobHandler {
	return &JobHandler{letters: letters, queue: queue, logger: logger}
}

// Submit handles POST /jobs
func (h *JobHandler) Submit(c *gin.Context) {
	var req struct {
		Bureau      string         `json:"bureau" binding:"required"`
		DisputeType string         `json:"dispute_type"`
		Round       string         `json:"round"`
		Payload     map[string]any `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	email, _ := httpserver.Identity(c)
	job, err := h.letters.SubmitIntake(c.Request.Context(), email, req.Bureau, req.DisputeType, req.Round, req.Payload)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

// List handles GET /jobs?limit=N
func (h *JobHandler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "25"))
	if err != nil || limit <= 0 || limit > maxListLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
		return
	}

	email, _ := httpserver.Identity(c)
	list, err := h.queue.ListForEmail(c.Request.Context(), email, limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if list == nil {
		list = []jobs.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

// Get handles GET /jobs/:id. Owners see their own jobs; reviewers see any.
func (h *JobHandler) Get(c *gin.Context) {
	job, ok := h.visible(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) visible(c *gin.Context, id string) (*jobs.Job, bool) {
	email, role := httpserver.Identity(c)
	job, err := h.queue.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return nil, false
	}
	if !strings.EqualFold(job.Email, email) && !rbac.HasPermission(role, rbac.PermissionReviewJob) {
		writeError(c, h.logger, apperr.NotFound("job", id))
		return nil, false
	}
	return job, true
}

// Requeue handles POST /jobs/:id/requeue. Owner only.
func (h *JobHandler) Requeue(c *gin.Context) {
	var req struct {
		Payload map[string]any `json:"payload"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	email, _ := httpserver.Identity(c)
	id := c.Param("id")
	job, err := h.queue.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if !strings.EqualFold(job.Email, email) {
		writeError(c, h.logger, apperr.NotFound("job", id))
		return
	}

	job, err = h.queue.Requeue(c.Request.Context(), id, req.Payload)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Review handles POST /review/jobs/:id
func (h *JobHandler) Review(c *gin.Context) {
	var req struct {
		Status     string `json:"status" binding:"required"`
		Notes      string `json:"notes"`
		LetterText string `json:"letter_text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	job, err := h.queue.Review(c.Request.Context(), c.Param("id"), req.Status, req.Notes, req.LetterText)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
