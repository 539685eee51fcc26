package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"letterdesk/internal/account"
	"letterdesk/internal/apperr"
	"letterdesk/internal/httpserver"
	"letterdesk/internal/service"
)

type AuthHandler struct {
	auth     *service.AuthService
	accounts *account.Directory
	logger   *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, accounts *account.Directory, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, accounts: accounts, logger: logger}
}

type accountView struct {
	Email   string        `json:"email"`
	Plan    string        `json:"plan"`
	Role    string        `json:"role"`
	Consent bool          `json:"consent"`
	Quota   account.Quota `json:"quota"`
}

func (h *AuthHandler) view(acct *account.Account) accountView {
	return accountView{
		Email:   acct.Email,
		Plan:    acct.Plan,
		Role:    h.auth.RoleOf(acct),
		Consent: acct.Consent,
		Quota:   h.accounts.Quota(acct),
	}
}

// current loads the account of the token holder.
func (h *AuthHandler) current(c *gin.Context) (*account.Account, bool) {
	email, _ := httpserver.Identity(c)
	acct, err := h.accounts.Lookup(c.Request.Context(), email)
	if err != nil {
		writeError(c, h.logger, err)
		return nil, false
	}
	return acct, true
}

// Signup handles POST /signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Plan     string `json:"plan"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	acct, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, req.Plan)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, h.view(acct))
}

// Login handles POST /login
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	token, acct, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"account": h.view(acct),
	})
}

// Me handles GET /me
func (h *AuthHandler) Me(c *gin.Context) {
	acct, ok := h.current(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.view(acct))
}

// Consent handles POST /consent
func (h *AuthHandler) Consent(c *gin.Context) {
	email, _ := httpserver.Identity(c)
	acct, err := h.accounts.RecordConsent(c.Request.Context(), email)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.view(acct))
}

// RequestReset handles POST /password/reset/request. Unknown addresses get
// the same answer as known ones.
func (h *AuthHandler) RequestReset(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err := h.accounts.RequestReset(c.Request.Context(), req.Email)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "if the account exists, a code was sent"})
}

// ConfirmReset handles POST /password/reset/confirm
func (h *AuthHandler) ConfirmReset(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Code     string `json:"code" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.accounts.ConfirmReset(c.Request.Context(), req.Email, req.Code, req.Password); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}

// AdminResetPassword handles POST /admin/accounts/password
func (h *AuthHandler) AdminResetPassword(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.accounts.AdminResetPassword(c.Request.Context(), req.Email, req.Password); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}
