package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	authdomain "agentex/internal/auth/domain"
	"agentex/internal/auth/ports"
	apierrors "agentex/internal/errors"
)

// AuthHandler serves the authentication and authorization management
// endpoints.
type AuthHandler struct {
	verifier ports.Verifier
	api      *APIHandler
}

// NewAuthHandler wires the handler.
func NewAuthHandler(deps RouterDeps, api *APIHandler) *AuthHandler {
	return &AuthHandler{verifier: deps.Verifier, api: api}
}

// HandleAuthn verifies the forwarded credential headers and returns the
// resolved principal context.
func (h *AuthHandler) HandleAuthn(c *gin.Context) {
	principal, err := h.verifier.Verify(c.Request.Context(), c.Request.Header)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, principal)
}

type authzRequest struct {
	Principal string `json:"principal" binding:"required"`
	Resource  struct {
		Type     string `json:"type" binding:"required"`
		Selector string `json:"selector" binding:"required"`
	} `json:"resource" binding:"required"`
	Operation string `json:"operation" binding:"required"`
}

func (r authzRequest) edge() (string, authdomain.Resource, authdomain.Operation) {
	return r.Principal,
		authdomain.Resource{Type: authdomain.ResourceType(r.Resource.Type), Selector: r.Resource.Selector},
		authdomain.Operation(r.Operation)
}

// HandleGrant persists a permission edge.
func (h *AuthHandler) HandleGrant(c *gin.Context) {
	var req authzRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.Wrap(apierrors.CodeInvalidArgument, "invalid grant request", err))
		return
	}
	principal, resource, operation := req.edge()
	if err := h.api.admission.Grant(c.Request.Context(), principal, resource, operation); err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, nil)
}

// HandleRevoke removes a permission edge.
func (h *AuthHandler) HandleRevoke(c *gin.Context) {
	var req authzRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.Wrap(apierrors.CodeInvalidArgument, "invalid revoke request", err))
		return
	}
	principal, resource, operation := req.edge()
	if err := h.api.admission.Revoke(c.Request.Context(), principal, resource, operation); err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, nil)
}

// HandleCheck verifies one permission edge, remapping child resources to
// their owning task.
func (h *AuthHandler) HandleCheck(c *gin.Context) {
	var req authzRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.Wrap(apierrors.CodeInvalidArgument, "invalid check request", err))
		return
	}
	principal, resource, operation := req.edge()
	err := h.api.admission.Check(c.Request.Context(), principal, resource, operation)
	if h.api.metrics != nil {
		h.api.metrics.RecordAuthzCheck(c.Request.Context(), err == nil)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, nil)
}

type authzSearchRequest struct {
	Principal       string `json:"principal" binding:"required"`
	FilterResource  string `json:"filter_resource" binding:"required"`
	FilterOperation string `json:"filter_operation" binding:"required"`
}

// HandleSearch lists the resource selectors of one type the principal may
// act on.
func (h *AuthHandler) HandleSearch(c *gin.Context) {
	var req authzSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.Wrap(apierrors.CodeInvalidArgument, "invalid search request", err))
		return
	}
	selectors, err := h.api.admission.ListResources(c.Request.Context(), req.Principal,
		authdomain.ResourceType(req.FilterResource), authdomain.Operation(req.FilterOperation))
	if err != nil {
		respondError(c, err)
		return
	}
	if selectors == nil {
		selectors = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"items": selectors})
}
