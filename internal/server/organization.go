package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type createOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
}

// PostOrganization provisions an organization together with its starter
// FREE subscription and usage counter.
func (s *Server) PostOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	org, err := s.orgsvc.Create(c.Request.Context(), req.Name)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": org})
}
