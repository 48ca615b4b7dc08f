package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	authdomain "agentex/internal/auth/domain"
	apierrors "agentex/internal/errors"
	eventsdomain "agentex/internal/events/domain"
)

type createTrackerRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	TaskID  string `json:"task_id" binding:"required"`
}

// HandleCreateTracker returns the tracker for the (agent, task) pair,
// creating it on first use. Repeated calls return the same row.
func (h *APIHandler) HandleCreateTracker(c *gin.Context) {
	var req createTrackerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.Wrap(apierrors.CodeInvalidArgument, "invalid tracker request", err))
		return
	}
	if !h.authorize(c, authdomain.ResourceTask, req.TaskID, authdomain.OperationUpdate) {
		return
	}

	tracker, err := h.trackers.GetOrCreate(c.Request.Context(), req.AgentID, req.TaskID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracker)
}

// HandleGetTracker returns one tracker by id. A tracker whose task the
// principal may not read answers exactly like a missing id, so tracker
// ids cannot be swept for existence.
func (h *APIHandler) HandleGetTracker(c *gin.Context) {
	id := c.Param("id")
	notFound := apierrors.Newf(apierrors.CodeNotFound, "tracker %s not found", id)

	tracker, err := h.trackers.Get(c.Request.Context(), id)
	if err != nil {
		if apierrors.HasCode(err, apierrors.CodeNotFound) {
			respondError(c, notFound)
		} else {
			respondError(c, err)
		}
		return
	}

	principal, ok := principalFrom(c)
	if !ok {
		respondError(c, apierrors.New(apierrors.CodeUnauthenticated, "no principal on request"))
		return
	}
	err = h.admission.Check(c.Request.Context(), principal.Principal(),
		authdomain.Resource{Type: authdomain.ResourceTask, Selector: tracker.TaskID}, authdomain.OperationRead)
	if h.metrics != nil {
		h.metrics.RecordAuthzCheck(c.Request.Context(), err == nil)
	}
	if err != nil {
		if apierrors.HasCode(err, apierrors.CodeForbidden) {
			respondError(c, notFound)
		} else {
			respondError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, tracker)
}

type commitTrackerRequest struct {
	LastProcessedEventID *string `json:"last_processed_event_id"`
	Status               *string `json:"status"`
	StatusReason         *string `json:"status_reason"`
}

// HandleCommitTracker applies a cursor or status update to the tracker. A
// cursor moving backwards is rejected with CURSOR_REGRESSION.
func (h *APIHandler) HandleCommitTracker(c *gin.Context) {
	var req commitTrackerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.Wrap(apierrors.CodeInvalidArgument, "invalid commit request", err))
		return
	}

	tracker, err := h.trackers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !h.authorize(c, authdomain.ResourceTask, tracker.TaskID, authdomain.OperationUpdate) {
		return
	}

	update := eventsdomain.TrackerUpdate{
		LastProcessedEventID: req.LastProcessedEventID,
		StatusReason:         req.StatusReason,
	}
	if req.Status != nil {
		status := eventsdomain.TrackerStatus(*req.Status)
		update.Status = &status
	}

	committed, err := h.trackers.Commit(c.Request.Context(), tracker.ID, update)
	if h.metrics != nil && update.LastProcessedEventID != nil {
		h.metrics.RecordCursorCommit(c.Request.Context(), apierrors.HasCode(err, apierrors.CodeCursorRegression))
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, committed)
}

// HandleGetState returns the task's state document.
func (h *APIHandler) HandleGetState(c *gin.Context) {
	taskID := c.Param("id")
	if !h.authorize(c, authdomain.ResourceState, taskID, authdomain.OperationRead) {
		return
	}

	state, err := h.trackers.GetState(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// HandlePutState replaces the task's state document.
func (h *APIHandler) HandlePutState(c *gin.Context) {
	taskID := c.Param("id")
	if !h.authorize(c, authdomain.ResourceTask, taskID, authdomain.OperationUpdate) {
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		respondError(c, apierrors.Wrap(apierrors.CodeInvalidArgument, "unreadable state body", err))
		return
	}

	state, err := h.trackers.PutState(c.Request.Context(), taskID, body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
