package middleware

import (
	"net/http"

	apperrors "streamrelay/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// abortWith writes err as the JSON error body and stops the chain.
func abortWith(c *gin.Context, err *apperrors.AppError) {
	body := gin.H{
		"error":   string(err.Code),
		"message": err.Message,
	}
	if len(err.Details) > 0 {
		body["details"] = err.Details
	}
	c.AbortWithStatusJSON(err.HTTPStatus, body)
}

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error. Errors that are not AppErrors become a generic 500.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr := apperrors.GetAppError(err)
		if appErr == nil {
			appErr = apperrors.Wrap(err, apperrors.ErrCodeInternal, "internal server error")
		}

		log := logger.With(
			"code", appErr.Code,
			"status", appErr.HTTPStatus,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			log.Errorw(appErr.Message, "error", appErr.Cause)
		} else {
			log.Debugw(appErr.Message)
		}

		abortWith(c, appErr)
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", r,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
				)
				abortWith(c, apperrors.NewInternalError("internal server error"))
			}
		}()
		c.Next()
	}
}
