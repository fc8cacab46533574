package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
)

// @Summary Register a responder
// @Description Register a dispatchable responder and retroactively assign it to eligible verified incidents. Requires the shared registration token.
// @Tags Responders
// @Accept json
// @Produce json
// @Param responder body RegisterResponderRequest true "Responder registration request"
// @Success 201 {object} RegisterResponderResponse
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Failure 401 {object} map[string]string "Invalid registration token"
// @Router /responders/register [post]
func (h *Handler) registerResponder(c *gin.Context) {
	var input RegisterResponderRequest
	log := h.logger.WithField("method", "registerResponder")

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

	// Общий секрет защищает регистрацию от посторонних
	if h.cfg.ResponderRegToken == "" || input.Token != h.cfg.ResponderRegToken {
		log.Warn("Responder registration with invalid token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid registration token"})
		return
	}

	responder := &models.Responder{
		Name:      input.Name,
		Type:      models.ResponderType(input.Type),
		Latitude:  *input.Latitude,
		Longitude: *input.Longitude,
	}

	assigned, err := h.dispatchService.RegisterResponder(c.Request.Context(), responder)
	if err != nil {
		log.WithError(err).Error("Failed to register responder")
		respondError(c, err)
		return
	}

	token, err := signToken(h.cfg.JWTSecret, string(models.RoleResponder), responder.ID.String(), h.cfg.ResponderTokenTTL)
	if err != nil {
		log.WithError(err).Error("Failed to sign responder token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.SetCookie(responderCookieName, token, int(h.cfg.ResponderTokenTTL.Seconds()), "/", "", false, true)

	responses := make([]IncidentResponse, len(assigned))
	for i, incident := range assigned {
		responses[i] = *ModelToIncidentResponse(incident)
	}
	c.JSON(http.StatusCreated, RegisterResponderResponse{
		Responder: *ModelToResponderResponse(responder),
		Assigned:  responses,
	})
}

// @Summary Current responder
// @Description Get the authenticated responder's record.
// @Tags Responders
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} ResponderResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Responder not found"
// @Router /responders/me [get]
func (h *Handler) responderMe(c *gin.Context) {
	log := h.logger.WithField("method", "responderMe")

	responderID := c.MustGet(ctxKeyResponderID).(uuid.UUID)
	responder, err := h.dispatchService.GetResponder(c.Request.Context(), responderID)
	if err != nil {
		log.WithError(err).Warn("Failed to get responder")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ModelToResponderResponse(responder))
}

// @Summary Responder logout
// @Description Clear the responder session cookie.
// @Tags Responders
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} map[string]string
// @Router /responders/logout [post]
func (h *Handler) responderLogout(c *gin.Context) {
	c.SetCookie(responderCookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "responder logged out"})
}

// @Summary List assignments
// @Description List incidents the authenticated responder is dispatched to, newest first.
// @Tags Responders
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {array} IncidentResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /responders/assignments [get]
func (h *Handler) listAssignments(c *gin.Context) {
	log := h.logger.WithField("method", "listAssignments")

	responderID := c.MustGet(ctxKeyResponderID).(uuid.UUID)
	incidents, err := h.dispatchService.ListAssignments(c.Request.Context(), responderID)
	if err != nil {
		log.WithError(err).Error("Failed to list assignments")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ModelsToIncidentResponses(incidents))
}

// @Summary Find nearby responders
// @Description Read-only search for active responders within a radius of a point. Creates no assignments.
// @Tags Responders
// @Accept json
// @Produce json
// @Param query body NearbyRespondersRequest true "Nearby responders query"
// @Success 200 {array} ResponderResponse
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Router /responders/nearby [post]
func (h *Handler) findNearbyResponders(c *gin.Context) {
	var input NearbyRespondersRequest
	log := h.logger.WithField("method", "findNearbyResponders")

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

	types := make([]models.ResponderType, 0, len(input.Types))
	for _, t := range input.Types {
		types = append(types, models.ResponderType(t))
	}

	responders, err := h.dispatchService.FindNearbyResponders(c.Request.Context(), types, *input.Latitude, *input.Longitude, input.RadiusKm)
	if err != nil {
		log.WithError(err).Error("Failed to find nearby responders")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ModelsToResponderResponses(responders))
}
