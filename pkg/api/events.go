package api

// StreamEventType identifies the type of a streaming event.
type StreamEventType string

// Run lifecycle events, in the order a run emits them.
const (
	EventRunStarted        StreamEventType = "run_started"
	EventConsolidated      StreamEventType = "consolidated"
	EventBlockStarted      StreamEventType = "block_started"
	EventBlockFinished     StreamEventType = "block_finished"
	EventSecurityBlocked   StreamEventType = "security_blocked"
	EventIsolationFallback StreamEventType = "isolation_fallback"
	EventRunFinished       StreamEventType = "run_finished"
	EventError             StreamEventType = "error"
)

// StreamEvent is one message on the execution WebSocket.
type StreamEvent struct {
	Type           StreamEventType `json:"type"`
	SequenceNumber int             `json:"sequence_number"`
	RunID          string          `json:"run_id,omitempty"`
	Message        string          `json:"message,omitempty"`
	Block          *BlockResult    `json:"block,omitempty"`
	Summary        *RunSummary     `json:"summary,omitempty"`
	Error          *APIError       `json:"error,omitempty"`
}

// Terminal reports whether no further events follow e.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventRunFinished || e.Type == EventError
}
