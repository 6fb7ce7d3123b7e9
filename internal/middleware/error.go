package middleware

import (
	"net/http"

	"github.com/frlabs/sitegate/internal/pkg/apperrors"
	"github.com/frlabs/sitegate/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

const (
	HeaderCacheControl = "Cache-Control"
	NoStore            = "no-store"
)

// ErrorHandler renders the last error pushed with c.Error as the JSON
// envelope. Unknown errors become a generic 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := apperrors.Wrap(c.Errors.Last().Err, "Errore interno")

		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", appErr.Type,
			"request_id", c.GetString(ContextRequestID),
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.LogError(c.Request.Context(), appErr, "request failed", logFields...)
		} else {
			logger.Warn(appErr.Message, logFields...)
		}

		if c.Writer.Written() {
			return
		}
		c.Header(HeaderCacheControl, NoStore)
		c.JSON(appErr.HTTPStatus, appErr.Envelope())
	}
}

// Recovery turns a panic into the generic internal error envelope.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic recovered",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"request_id", c.GetString(ContextRequestID),
			"panic", recovered,
		)
		c.Header(HeaderCacheControl, NoStore)
		c.AbortWithStatusJSON(http.StatusInternalServerError, apperrors.Envelope{OK: false, Error: "Errore interno"})
	})
}
