package consts

import "time"

// Buffer sizes for various operations
const (
	// BufferSize256KB is 256 kilobytes
	BufferSize256KB = 256 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
)

// WebSocket limits
const (
	// MaxInboundMessageSize is the maximum size of a message read from a peer
	MaxInboundMessageSize = 8192
	// SendQueueSize is the per-connection outbound message buffer
	SendQueueSize = 256
)

// Timeouts for various operations
const (
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout60Seconds is a 60 second timeout (1 minute)
	Timeout60Seconds = 60 * time.Second
	// Timeout2Minutes is a 2 minute timeout
	Timeout2Minutes = 2 * time.Minute
)

// History limits
const (
	// TitleRuneLimit is the maximum length of a session title
	TitleRuneLimit = 32
	// PreviewRuneLimit is the maximum length of a session preview
	PreviewRuneLimit = 64
)
