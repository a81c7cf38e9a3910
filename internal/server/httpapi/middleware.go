package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/logging"
	"github.com/dmitrijs2005/wagate/internal/server/auth"
	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/gin-gonic/gin"
)

const (
	userIDContextKey   = "id_user"
	deviceIDContextKey = "id_device"

	deviceKeyHeader = "device-api-key"
)

func UserIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func bearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// RequireAuth admits requests carrying a valid bearer access token and
// stores the token's user id on the context.
func RequireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abort(c, http.StatusUnauthorized, "Please enter bearer authentication!")
			return
		}

		userID, err := auth.GetUserIDFromToken(token, secret)
		if err != nil {
			abort(c, http.StatusForbidden, "Access token verification failed!")
			return
		}

		c.Set(userIDContextKey, userID)
		c.Next()
	}
}

// RequireDeviceKey admits requests whose device-api-key header names a
// connected device.
func RequireDeviceKey(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(deviceKeyHeader)
		if key == "" {
			abort(c, http.StatusUnauthorized, "Please enter api key device!")
			return
		}

		device, err := deps.Repos.Devices(deps.DB).FindByAPIKey(c.Request.Context(), key)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			abort(c, http.StatusNotFound, "API key device not found, please another api key device with status connected!")
			return
		case err != nil:
			deps.Logger.Error(c.Request.Context(), "device key lookup failed", "error", err)
			abort(c, http.StatusInternalServerError, "An error occurred during check API key.")
			return
		}
		if device.Status != models.DeviceConnected {
			abort(c, http.StatusNotFound, "API key device not found, please another api key device with status connected!")
			return
		}

		c.Set(userIDContextKey, device.UserID)
		c.Set(deviceIDContextKey, device.ID)
		c.Next()
	}
}

// RequestLogger writes one structured line per request.
func RequestLogger(logger logging.Logger) gin.HandlerFunc {
	logger = logger.With("module", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
