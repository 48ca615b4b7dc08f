package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	authdomain "agentex/internal/auth/domain"
	apierrors "agentex/internal/errors"
	eventsapp "agentex/internal/events/app"
	eventsdomain "agentex/internal/events/domain"
)

type appendEventRequest struct {
	TaskID  string               `json:"task_id" binding:"required"`
	AgentID string               `json:"agent_id" binding:"required"`
	Content eventsdomain.Content `json:"content" binding:"required"`
}

// HandleAppendEvent appends one event to a task's log. Appending requires
// update permission on the owning task.
func (h *APIHandler) HandleAppendEvent(c *gin.Context) {
	var req appendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.Wrap(apierrors.CodeInvalidArgument, "invalid append request", err))
		return
	}
	if !h.authorize(c, authdomain.ResourceTask, req.TaskID, authdomain.OperationUpdate) {
		return
	}

	start := time.Now()
	event, err := h.sequencer.Append(c.Request.Context(), req.TaskID, req.AgentID, req.Content)
	if h.metrics != nil {
		status := "ok"
		if err != nil {
			status = string(apierrors.CodeOf(err))
			if apierrors.HasCode(err, apierrors.CodeSequenceConflict) {
				h.metrics.RecordAppendConflict(c.Request.Context())
			}
		}
		h.metrics.RecordAppend(c.Request.Context(), status, time.Since(start))
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

// HandleListEvents returns a window of a task's log strictly after the
// given cursor (last_processed_event_id or after_sequence_id), ascending.
// agent_id is accepted for symmetry with the tracker routes; it does not
// narrow the window.
func (h *APIHandler) HandleListEvents(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		respondError(c, apierrors.New(apierrors.CodeInvalidArgument, "task_id query parameter is required"))
		return
	}
	if !h.authorize(c, authdomain.ResourceTask, taskID, authdomain.OperationRead) {
		return
	}

	query := eventsapp.ListQuery{
		TaskID:       taskID,
		AfterEventID: c.Query("last_processed_event_id"),
	}
	if raw := c.Query("after_sequence_id"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(c, apierrors.New(apierrors.CodeInvalidArgument, "after_sequence_id must be an integer"))
			return
		}
		query.AfterSequence = seq
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(c, apierrors.New(apierrors.CodeInvalidArgument, "limit must be a non-negative integer"))
			return
		}
		query.Limit = limit
	}

	events, err := h.sequencer.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	if events == nil {
		events = []eventsdomain.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}

// HandleGetEvent returns one event by id. The admission check targets the
// event itself; ownership remapping resolves it to the owning task.
func (h *APIHandler) HandleGetEvent(c *gin.Context) {
	id := c.Param("id")
	if !h.authorize(c, authdomain.ResourceEvent, id, authdomain.OperationRead) {
		return
	}

	event, err := h.sequencer.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}
