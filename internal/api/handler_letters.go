package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"letterdesk/internal/account"
	"letterdesk/internal/httpserver"
	"letterdesk/internal/service"
)

type LetterHandler struct {
	letters  *service.LetterService
	accounts *account.Directory
	logger   *zap.Logger
}

func NewLetterHandler(letters *service.LetterService, accounts *account.Directory, logger *zap.Logger) *LetterHandler {
	return &LetterHandler{letters: letters, accounts: accounts, logger: logger}
}

// RecordGeneration handles POST /generations
func (h *LetterHandler) RecordGeneration(c *gin.Context) {
	var req struct {
		LetterID   string `json:"letter_id" binding:"required"`
		LetterText string `json:"letter_text" binding:"required"`
		AccountRef string `json:"account_ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	email, _ := httpserver.Identity(c)
	acct, err := h.accounts.Lookup(ctx, email)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	updated, err := h.letters.RecordLetter(ctx, acct, req.LetterID, req.LetterText, req.AccountRef)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"letter_id": req.LetterID,
		"quota":     h.accounts.Quota(updated),
	})
}

// Usage handles GET /usage
func (h *LetterHandler) Usage(c *gin.Context) {
	ctx := c.Request.Context()
	email, _ := httpserver.Identity(c)
	acct, err := h.accounts.Lookup(ctx, email)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	usage, err := h.letters.Usage(ctx, acct)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}
