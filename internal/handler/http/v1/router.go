package v1

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все маршруты API v1
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	// Маршруты инцидентов
	incidents := api.Group("/incidents")
	{
		incidents.POST("", h.submitReport)
		incidents.GET("", h.listIncidents)
		incidents.GET("/:id", h.getIncident)
		incidents.POST("/:id/upvote", h.upvoteIncident)
		incidents.POST("/verify", AdminAuthMiddleware(h.cfg, h.logger), h.verifyIncident)
		incidents.POST("/status", ActorAuthMiddleware(h.cfg, h.logger), h.updateStatus)
	}

	// Маршруты сессии администратора
	admin := api.Group("/admin")
	{
		admin.POST("/login", h.adminLogin)
		admin.GET("/me", AdminAuthMiddleware(h.cfg, h.logger), h.adminMe)
		admin.POST("/logout", AdminAuthMiddleware(h.cfg, h.logger), h.adminLogout)
	}

	// Маршруты ответчиков
	responders := api.Group("/responders")
	{
		responders.POST("/register", h.registerResponder)
		responders.GET("/me", ResponderAuthMiddleware(h.cfg, h.logger), h.responderMe)
		responders.POST("/logout", ResponderAuthMiddleware(h.cfg, h.logger), h.responderLogout)
		responders.GET("/assignments", ResponderAuthMiddleware(h.cfg, h.logger), h.listAssignments)
		responders.POST("/nearby", h.findNearbyResponders)
	}

	// Websocket-канал рассылки событий
	api.GET("/ws", h.hub.HandleWebSocket)

	// Маршрут Health-check
	api.GET("/system/health", h.healthCheck)
}
