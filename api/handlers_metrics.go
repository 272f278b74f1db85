package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/intouch-cp/lb-controlplane/cperrors"
	"github.com/intouch-cp/lb-controlplane/metrics"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "instance_id": s.coord.InstanceID()})
}

// handleIngestMetric accepts a single self-reported sample (spec.md
// §6's ingestion endpoint). A validation error is reported as 400
// without touching any state; anything else is a transient server-side
// condition reported as 503 so the backend retries.
func (s *Server) handleIngestMetric(c *gin.Context) {
	var sample metrics.Sample
	if err := c.ShouldBindJSON(&sample); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.ingestor.Ingest(c.Request.Context(), sample); err != nil {
		if cperrors.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
