package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chalkboard/internal/middleware"
	"chalkboard/internal/service"
)

func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthenticated), errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrBanned), errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInvite), errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, service.ErrProviderDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, service.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail 统一错误响应；5xx 不向客户端暴露内部原因
func fail(c *gin.Context, log *zap.SugaredLogger, err error) {
	code := statusOf(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		log.Errorw("request failed", "path", c.FullPath(), "uid", c.GetString(middleware.ContextUserIDKey), "err", err)
		msg = http.StatusText(code)
	}
	c.JSON(code, gin.H{"msg": msg})
}

func badParams(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid params"})
}
