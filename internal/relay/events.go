// Package relay multiplexes chat sessions over live connections and runs
// the token streaming pipeline between the model client and the history
// store.
package relay

// Inbound message types.
const (
	TypeUserMessage    = "user_message"
	TypeStopGeneration = "stop_generation"
)

// Outbound message types. Every generation ends with exactly one of
// response_end, stopped or error.
const (
	TypeSessionID     = "session_id"
	TypeResponseChunk = "response_chunk"
	TypeResponseEnd   = "response_end"
	TypeStopped       = "stopped"
	TypeError         = "error"
)

// WireMessage is the envelope for both directions of the chat socket.
type WireMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Sink delivers outbound events for one connection. Implementations must
// not block; a slow consumer is the connection's problem, not the
// pipeline's.
type Sink interface {
	Send(msg WireMessage)
}
