package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	organizationdomain "github.com/subledger-io/subledger/internal/organization/domain"
	webhookdomain "github.com/subledger-io/subledger/internal/webhook/domain"
)

func respondData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// AbortWithError maps domain sentinels to HTTP statuses. Unrecognized
// errors become a 500 with a generic message; internals never leak to the
// caller.
func AbortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, webhookdomain.ErrEmptyBody),
		errors.Is(err, webhookdomain.ErrMalformedEvent),
		errors.Is(err, organizationdomain.ErrInvalidName):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, webhookdomain.ErrInvalidSignature):
		status = http.StatusUnauthorized
		message = err.Error()
	case errors.Is(err, webhookdomain.ErrEventNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, webhookdomain.ErrNotReplayable):
		status = http.StatusConflict
		message = err.Error()
	}

	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
