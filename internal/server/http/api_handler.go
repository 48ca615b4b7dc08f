package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	agentsapp "agentex/internal/agents/app"
	authapp "agentex/internal/auth/app"
	authdomain "agentex/internal/auth/domain"
	apierrors "agentex/internal/errors"
	eventsapp "agentex/internal/events/app"
	"agentex/internal/logging"
	"agentex/internal/observability"
)

// APIHandler serves the platform API. One instance backs all routes.
type APIHandler struct {
	admission   *authapp.Admission
	sequencer   *eventsapp.Sequencer
	trackers    *eventsapp.TrackerService
	registrar   *agentsapp.Registrar
	broadcaster *eventsapp.Broadcaster
	metrics     *observability.MetricsCollector
	logger      logging.Logger
}

// NewAPIHandler wires the handler.
func NewAPIHandler(deps RouterDeps) *APIHandler {
	return &APIHandler{
		admission:   deps.Admission,
		sequencer:   deps.Sequencer,
		trackers:    deps.Trackers,
		registrar:   deps.Registrar,
		broadcaster: deps.Broadcaster,
		metrics:     deps.Metrics,
		logger:      logging.OrNop(deps.Logger),
	}
}

// HandleHealth reports liveness.
func (h *APIHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorize runs the admission check for the authenticated principal and
// writes the error response on failure. Child resource types resolve to
// their owning task inside the admission layer.
func (h *APIHandler) authorize(c *gin.Context, resourceType authdomain.ResourceType, selector string, operation authdomain.Operation) bool {
	principal, ok := principalFrom(c)
	if !ok {
		respondError(c, apierrors.New(apierrors.CodeUnauthenticated, "no principal on request"))
		return false
	}

	err := h.admission.Check(c.Request.Context(), principal.Principal(),
		authdomain.Resource{Type: resourceType, Selector: selector}, operation)
	if h.metrics != nil {
		h.metrics.RecordAuthzCheck(c.Request.Context(), err == nil)
	}
	if err != nil {
		respondError(c, err)
		return false
	}
	return true
}
