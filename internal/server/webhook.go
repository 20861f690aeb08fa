package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC of the raw body. The provider's
// composite "t=...,v1=..." shape and a bare hex digest are both accepted.
const SignatureHeader = "Signature"

// PostWebhook is the synchronous half of the pipeline. Anything past
// signature and envelope checks is acknowledged immediately; outcomes are
// settled asynchronously in the ledger.
func (s *Server) PostWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.ingest.Receive(c.Request.Context(), rawBody, c.GetHeader(SignatureHeader))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "event_id": result.EventID})
}

func (s *Server) ListDeadLetters(c *gin.Context) {
	limit := intQuery(c, "limit", 100)

	events, err := s.ingest.ListFailed(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, events)
}

func (s *Server) ReplayEvent(c *gin.Context) {
	eventID := c.Param("id")

	if err := s.ingest.Replay(c.Request.Context(), eventID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("replay requested", zap.String("event_id", eventID))
	c.JSON(http.StatusAccepted, gin.H{"replayed": true, "event_id": eventID})
}
