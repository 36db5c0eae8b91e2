package thenvoi

import "time"

// Default endpoints and tunables.
const (
	DefaultWSURL   = "wss://api.thenvoi.com/ws"
	DefaultRESTURL = "https://api.thenvoi.com"

	// DefaultMaxRetries is the number of processing attempts allowed per
	// message before it is marked permanently failed.
	DefaultMaxRetries = 1

	// DefaultQueueSize bounds each room's inbound event queue.
	DefaultQueueSize = 64

	// DefaultShutdownTimeout bounds how long Stop waits for in-flight
	// callbacks before cancelling them.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultHTTPTimeout applies to individual REST calls.
	DefaultHTTPTimeout = 30 * time.Second

	// defaultProcessedCacheSize bounds the per-room dedupe cache used
	// during backlog synchronization.
	defaultProcessedCacheSize = 5

	// Reconnect backoff bounds for the WebSocket leg.
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
)
