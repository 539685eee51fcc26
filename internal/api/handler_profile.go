package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"letterdesk/internal/httpserver"
	"letterdesk/internal/repository"
)

const maxProfileBytes = 64 << 10

type ProfileHandler struct {
	profiles *repository.ProfileRepository
	logger   *zap.Logger
}

// NewProfileHandler serves saved profiles. A nil repository disables them.
func NewProfileHandler(profiles *repository.ProfileRepository, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, logger: logger}
}

func (h *ProfileHandler) enabled(c *gin.Context) bool {
	if h.profiles == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "saved profiles are not enabled"})
		return false
	}
	return true
}

// Get handles GET /profile
func (h *ProfileHandler) Get(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	email, _ := httpserver.Identity(c)
	p, err := h.profiles.Get(c.Request.Context(), email)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Put handles PUT /profile with the raw profile document as body.
func (h *ProfileHandler) Put(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProfileBytes+1))
	if err != nil {
		badRequest(c, err)
		return
	}
	if len(body) > maxProfileBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "profile too large"})
		return
	}

	email, _ := httpserver.Identity(c)
	p, err := h.profiles.Save(c.Request.Context(), email, json.RawMessage(body))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
