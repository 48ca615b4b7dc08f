package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	authdomain "agentex/internal/auth/domain"
	apierrors "agentex/internal/errors"
	eventsapp "agentex/internal/events/app"
	eventsdomain "agentex/internal/events/domain"
)

// streamKeepAliveInterval is how often an idle stream emits a comment line
// so intermediaries do not reap the connection.
const streamKeepAliveInterval = 15 * time.Second

// HandleStreamEvents tails a task's event log over SSE. Events already
// past the cursor are replayed first, then live events follow; the
// subscription is registered before the replay so nothing falls between.
func (h *APIHandler) HandleStreamEvents(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		respondError(c, apierrors.New(apierrors.CodeInvalidArgument, "task_id query parameter is required"))
		return
	}
	if !h.authorize(c, authdomain.ResourceTask, taskID, authdomain.OperationRead) {
		return
	}

	var afterSeq int64
	if raw := c.Query("after_sequence_id"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seq < 0 {
			respondError(c, apierrors.New(apierrors.CodeInvalidArgument, "after_sequence_id must be a non-negative integer"))
			return
		}
		afterSeq = seq
	}

	events, cancel := h.broadcaster.Subscribe(taskID)
	defer cancel()

	if h.metrics != nil {
		h.metrics.IncrementActiveStreams(c.Request.Context())
		defer h.metrics.DecrementActiveStreams(c.Request.Context())
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	// Replay the backlog. Live events older than what the replay already
	// delivered are filtered below by sequence.
	lastSent := afterSeq
	backlog, err := h.sequencer.List(c.Request.Context(), eventsapp.ListQuery{TaskID: taskID, AfterSequence: afterSeq})
	if err != nil {
		writeSSEError(c.Writer, err)
		return
	}
	for _, event := range backlog {
		if err := writeSSEEvent(c.Writer, event); err != nil {
			return
		}
		lastSent = event.SequenceID
	}
	c.Writer.Flush()

	keepAlive := time.NewTicker(streamKeepAliveInterval)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.SequenceID <= lastSent {
				continue
			}
			if err := writeSSEEvent(c.Writer, event); err != nil {
				return
			}
			lastSent = event.SequenceID
			c.Writer.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func writeSSEEvent(w io.Writer, event eventsdomain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: task_event\ndata: %s\n\n", event.SequenceID, payload)
	return err
}

func writeSSEError(w gin.ResponseWriter, err error) {
	payload, _ := json.Marshal(errorEnvelope{
		Message: err.Error(),
		Code:    string(apierrors.CodeOf(err)),
		Data:    nil,
	})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	w.Flush()
}
