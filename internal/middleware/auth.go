package middleware

import (
	"net/http"
	"strings"

	"churn-service/pkg/jwtutil"
	"churn-service/pkg/logger"
	"churn-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// AuthMiddleware verifies the JWT token and extracts claims
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := logger.FromEcho(c)

		prometheus.AuthAttemptsCounter.Inc()

		tokenString := c.Request().Header.Get("Authorization")
		if tokenString == "" {
			log.Warn("Missing authorization token")
			prometheus.AuthErrorsCounter.Inc()
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && strings.ToUpper(tokenString[0:7]) == "BEARER " {
			tokenString = tokenString[7:]
		}

		claims, err := jwtutil.ValidateToken(tokenString)
		if err != nil {
			log.Warn("Invalid token", zap.Error(err))
			prometheus.AuthErrorsCounter.Inc()
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}

		prometheus.AuthSuccessCounter.Inc()

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)

		if claims.TenantID != nil {
			c.Set("tenant_id", *claims.TenantID)
			c.Set("tenant_name", claims.TenantName)
			c.Set("role", claims.Role)

			log = log.With(
				zap.Uint("tenant_id", *claims.TenantID),
				zap.String("tenant_name", claims.TenantName),
			)
		}

		log = log.With(
			zap.Uint("user_id", claims.UserID),
			zap.String("email", claims.Email),
		)
		c.Set("logger", log)

		return next(c)
	}
}

// RequireTenantContext ensures the request has tenant context in the JWT.
// Every pipeline route sits behind this; there is no tenant-less access to
// customer data.
func RequireTenantContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := logger.FromEcho(c)

		tenantID, ok := c.Get("tenant_id").(uint)
		if !ok || tenantID == 0 {
			log.Warn("Missing tenant context")
			prometheus.TenantContextMissingCounter.Inc()
			return c.JSON(http.StatusForbidden, echo.Map{
				"error":   "tenant context required",
				"message": "Please select a tenant before accessing this resource",
			})
		}

		return next(c)
	}
}
