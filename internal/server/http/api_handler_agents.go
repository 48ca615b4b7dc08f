package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	authdomain "agentex/internal/auth/domain"
	apierrors "agentex/internal/errors"
	agentsdomain "agentex/internal/agents/domain"
)

type registerAgentRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// HandleRegisterAgent registers the agent, provisioning its workflow
// exactly once. Re-registering an existing name returns the stored record.
func (h *APIHandler) HandleRegisterAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.Wrap(apierrors.CodeInvalidArgument, "invalid register request", err))
		return
	}
	if !h.authorize(c, authdomain.ResourceAgent, req.Name, authdomain.OperationCreate) {
		return
	}

	agent, err := h.registrar.Register(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// HandleGetAgent returns the agent by name.
func (h *APIHandler) HandleGetAgent(c *gin.Context) {
	name := c.Param("name")
	if !h.authorize(c, authdomain.ResourceAgent, name, authdomain.OperationRead) {
		return
	}

	agent, err := h.registrar.Get(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// HandleListAgents returns all registered agents.
func (h *APIHandler) HandleListAgents(c *gin.Context) {
	agents, err := h.registrar.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if agents == nil {
		agents = []agentsdomain.Agent{}
	}
	c.JSON(http.StatusOK, gin.H{"items": agents})
}
