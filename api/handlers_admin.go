package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/intouch-cp/lb-controlplane/policy"
	"github.com/intouch-cp/lb-controlplane/registry"
	"github.com/intouch-cp/lb-controlplane/weight"
)

func (s *Server) handleListServers(c *gin.Context) {
	c.JSON(http.StatusOK, s.servers.All())
}

func (s *Server) handleAddServer(c *gin.Context) {
	var desc registry.ServerDescriptor
	if err := c.ShouldBindJSON(&desc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if desc.ID == "" || (desc.Pool != registry.Incoming && desc.Pool != registry.Outgoing) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and pool (incoming|outgoing) are required"})
		return
	}
	s.servers.Add(desc)
	c.JSON(http.StatusCreated, desc)
}

func (s *Server) handleRemoveServer(c *gin.Context) {
	s.servers.Remove(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleEnableServer(c *gin.Context) {
	if !s.servers.SetEnabled(c.Param("id"), true) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown server"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDisableServer(c *gin.Context) {
	if !s.servers.SetEnabled(c.Param("id"), false) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown server"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListPolicies(c *gin.Context) {
	c.JSON(http.StatusOK, s.policies.All())
}

func (s *Server) handleSetFixedWeight(c *gin.Context) {
	var body struct {
		Weight int `json:"weight"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.policies.SetFixedWeight(c.Param("id"), body.Weight)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleEnableDynamic(c *gin.Context) {
	s.policies.EnableDynamicWeight(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetThresholds(c *gin.Context) {
	var t policy.Thresholds
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.policies.SetThresholds(c.Param("id"), t)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetAutoRemoval(c *gin.Context) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.policies.SetAutoRemoval(c.Param("id"), body.Enabled)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleManualRemove(c *gin.Context) {
	s.policies.ManuallyRemove(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleReEnable(c *gin.Context) {
	s.policies.ReEnable(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleResetPolicies(c *gin.Context) {
	s.policies.ResetAll()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetWeightFactors(c *gin.Context) {
	c.JSON(http.StatusOK, s.weights.Factors())
}

func (s *Server) handleSetWeightFactors(c *gin.Context) {
	var f weight.Factors
	if err := c.ShouldBindJSON(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := f.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.weights.SetFactors(f)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleApplyPreset(c *gin.Context) {
	preset, ok := weight.Presets[c.Param("name")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown preset"})
		return
	}
	s.weights.SetFactors(preset)
	c.JSON(http.StatusOK, preset)
}

func (s *Server) handleListInstances(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.ActiveInstances(c.Request.Context()))
}

func (s *Server) handleCurrentConfig(c *gin.Context) {
	text, err := s.mat.Current()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no config materialized yet"})
		return
	}
	c.String(http.StatusOK, text)
}
