// Package api exposes the host-facing REST endpoints.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"guest-concierge/internal/apperr"
	"guest-concierge/internal/transport"

	"github.com/gin-gonic/gin"
)

// respondError writes err with the status its kind maps to. Unexpected
// errors are logged and answered with a generic message.
func respondError(c *gin.Context, log *slog.Logger, err error) {
	var sendErr *transport.SendError
	if errors.As(err, &sendErr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "retryable": sendErr.Retryable})
		return
	}
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
