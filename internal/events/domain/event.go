package domain

import (
	"encoding/json"
	"strings"
	"time"

	apierrors "agentex/internal/errors"
)

// ContentKind tags the message-content variant carried by an event.
type ContentKind string

const (
	// ContentText is a plain text message from an agent or user.
	ContentText ContentKind = "text"
	// ContentData is a structured payload emitted by the agent.
	ContentData ContentKind = "data"
	// ContentToolRequest records the agent invoking a tool.
	ContentToolRequest ContentKind = "tool_request"
	// ContentToolResponse records a tool's result.
	ContentToolResponse ContentKind = "tool_response"
)

// Content is the tagged message payload of an event. Exactly the fields
// required by Kind are set; Validate enforces the per-variant shape.
type Content struct {
	Kind       ContentKind     `json:"kind"`
	Author     string          `json:"author,omitempty"`
	Text       string          `json:"text,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolArgs   json.RawMessage `json:"tool_args,omitempty"`
	ToolResult json.RawMessage `json:"tool_result,omitempty"`
}

// Validate reports whether the content forms a usable variant.
func (c Content) Validate() error {
	switch c.Kind {
	case ContentText:
		if strings.TrimSpace(c.Text) == "" {
			return apierrors.New(apierrors.CodeInvalidArgument, "text content requires text")
		}
	case ContentData:
		if len(c.Data) == 0 {
			return apierrors.New(apierrors.CodeInvalidArgument, "data content requires data")
		}
	case ContentToolRequest:
		if strings.TrimSpace(c.ToolName) == "" || strings.TrimSpace(c.ToolCallID) == "" {
			return apierrors.New(apierrors.CodeInvalidArgument, "tool_request content requires tool_name and tool_call_id")
		}
	case ContentToolResponse:
		if strings.TrimSpace(c.ToolCallID) == "" {
			return apierrors.New(apierrors.CodeInvalidArgument, "tool_response content requires tool_call_id")
		}
	default:
		return apierrors.Newf(apierrors.CodeInvalidArgument, "unknown content kind %q", c.Kind)
	}
	return nil
}

// Event is one immutable entry in a task's ordered log.
type Event struct {
	// ID is the globally unique identifier, assigned on append.
	ID string `json:"id"`
	// TaskID scopes the event to one task's log.
	TaskID string `json:"task_id"`
	// AgentID is the agent that emitted the event.
	AgentID string `json:"agent_id"`
	// SequenceID is the strictly increasing position within the task's
	// log, starting at 1. Assigned by storage on append; never reused.
	SequenceID int64 `json:"sequence_id"`
	// CreatedAt is the append timestamp (UTC, millisecond precision).
	CreatedAt time.Time `json:"created_at"`
	// Content is the tagged message payload.
	Content Content `json:"content"`
}
