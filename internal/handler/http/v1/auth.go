package v1

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	adminCookieName     = "admin_token"
	responderCookieName = "responder_token"

	ctxKeyRole        = "role"
	ctxKeyResponderID = "responder_id"
)

// tokenClaims - полезная нагрузка JWT: роль и, для ответчиков, их идентификатор
type tokenClaims struct {
	Role        string `json:"role"`
	ResponderID string `json:"responder_id,omitempty"`
	jwt.RegisteredClaims
}

// signToken выпускает JWT с ролью и сроком жизни
func signToken(secret, role, responderID string, ttl time.Duration) (string, error) {
	claims := tokenClaims{
		Role:        role,
		ResponderID: responderID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// parseToken проверяет подпись и срок жизни токена
func parseToken(secret, tokenString string) (*tokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// extractToken достает токен из заголовка Authorization: Bearer или из cookie
func extractToken(c *gin.Context, cookieName string) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if cookie, err := c.Cookie(cookieName); err == nil {
		return cookie
	}
	return ""
}

// AdminAuthMiddleware - middleware для аутентификации администратора
func AdminAuthMiddleware(cfg *config.Config, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c, adminCookieName)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := parseToken(cfg.JWTSecret, tokenString)
		if err != nil || claims.Role != string(models.RoleAdmin) {
			log.WithError(err).Warn("Invalid admin token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxKeyRole, string(models.RoleAdmin))
		c.Next()
	}
}

// ResponderAuthMiddleware - middleware для аутентификации ответчика
func ResponderAuthMiddleware(cfg *config.Config, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c, responderCookieName)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := parseToken(cfg.JWTSecret, tokenString)
		if err != nil || claims.Role != string(models.RoleResponder) {
			log.WithError(err).Warn("Invalid responder token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		responderID, err := uuid.Parse(claims.ResponderID)
		if err != nil {
			log.WithError(err).Warn("Responder token without valid responder id")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxKeyRole, string(models.RoleResponder))
		c.Set(ctxKeyResponderID, responderID)
		c.Next()
	}
}

// ActorAuthMiddleware принимает токен администратора или ответчика.
// Используется на операциях, доступных обеим ролям (смена статуса).
func ActorAuthMiddleware(cfg *config.Config, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, cookieName := range []string{adminCookieName, responderCookieName} {
			tokenString := extractToken(c, cookieName)
			if tokenString == "" {
				continue
			}
			claims, err := parseToken(cfg.JWTSecret, tokenString)
			if err != nil {
				continue
			}
			switch claims.Role {
			case string(models.RoleAdmin):
				c.Set(ctxKeyRole, string(models.RoleAdmin))
				c.Next()
				return
			case string(models.RoleResponder):
				responderID, err := uuid.Parse(claims.ResponderID)
				if err != nil {
					continue
				}
				c.Set(ctxKeyRole, string(models.RoleResponder))
				c.Set(ctxKeyResponderID, responderID)
				c.Next()
				return
			}
		}

		log.Warn("Status operation without valid admin or responder token")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
}

// actorFromContext собирает Actor из данных, положенных middleware
func actorFromContext(c *gin.Context) models.Actor {
	role := models.Role(c.GetString(ctxKeyRole))
	if role == "" {
		role = models.RoleCitizen
	}
	actor := models.Actor{Role: role}
	if id, ok := c.Get(ctxKeyResponderID); ok {
		if responderID, ok := id.(uuid.UUID); ok {
			actor.ResponderID = responderID
		}
	}
	return actor
}
