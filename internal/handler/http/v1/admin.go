package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
)

// @Summary Admin login
// @Description Authenticate an administrator and issue a session token cookie.
// @Tags Admin
// @Accept json
// @Produce json
// @Param credentials body AdminLoginRequest true "Admin credentials"
// @Success 200 {object} map[string]string "Logged in"
// @Failure 400 {object} map[string]string "Invalid request body"
// @Failure 401 {object} map[string]string "Invalid credentials"
// @Router /admin/login [post]
func (h *Handler) adminLogin(c *gin.Context) {
	var input AdminLoginRequest
	log := h.logger.WithField("method", "adminLogin")

	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if input.Email != h.cfg.AdminEmail || input.Password != h.cfg.AdminPassword {
		log.Warn("Admin login with invalid credentials")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := signToken(h.cfg.JWTSecret, string(models.RoleAdmin), "", h.cfg.AdminTokenTTL)
	if err != nil {
		log.WithError(err).Error("Failed to sign admin token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.SetCookie(adminCookieName, token, int(h.cfg.AdminTokenTTL.Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "admin logged in"})
}

// @Summary Current admin session
// @Description Confirm that the admin session token is valid.
// @Tags Admin
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} map[string]string
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /admin/me [get]
func (h *Handler) adminMe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"role": c.GetString(ctxKeyRole)})
}

// @Summary Admin logout
// @Description Clear the admin session cookie.
// @Tags Admin
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} map[string]string
// @Router /admin/logout [post]
func (h *Handler) adminLogout(c *gin.Context) {
	c.SetCookie(adminCookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
