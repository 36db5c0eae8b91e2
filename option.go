package thenvoi

import (
	"log/slog"
	"net/http"
	"time"
)

// MentionPolicy decides whether SendMessage requires at least one mention.
// The platform's validation model and its observed facade usage disagree
// on this, so it is a policy rather than a hard rule.
type MentionPolicy int

const (
	// MentionsOptional allows SendMessage with an empty mention list.
	MentionsOptional MentionPolicy = iota
	// MentionsRequired rejects SendMessage calls without mentions before
	// any network call is made.
	MentionsRequired
)

// LinkOption configures a Link via the functional options pattern.
type LinkOption func(*linkOptions)

type linkOptions struct {
	wsURL      string
	restURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func resolveLinkOptions(opts []LinkOption) linkOptions {
	var o linkOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.wsURL == "" {
		o.wsURL = DefaultWSURL
	}
	if o.restURL == "" {
		o.restURL = DefaultRESTURL
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// WithWSURL overrides the WebSocket endpoint.
func WithWSURL(url string) LinkOption {
	return func(o *linkOptions) { o.wsURL = url }
}

// WithRESTURL overrides the REST base URL.
func WithRESTURL(url string) LinkOption {
	return func(o *linkOptions) { o.restURL = url }
}

// WithHTTPClient supplies a custom HTTP client for REST calls. The
// client's connection pool is shared by all room workers and must be
// safe for concurrent use.
func WithHTTPClient(c *http.Client) LinkOption {
	return func(o *linkOptions) { o.httpClient = c }
}

// WithLinkLogger sets the logger used by the Link.
func WithLinkLogger(l *slog.Logger) LinkOption {
	return func(o *linkOptions) { o.logger = l }
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	maxRetries       int
	hydration        bool
	hydrationSet     bool
	autoSubscribe    bool
	autoSubscribeSet bool
	mentionPolicy    MentionPolicy
	queueSize        int
	shutdownTimeout  time.Duration
	roomFilter       RoomFilter
	preprocessor     Preprocessor
	cleanup          CleanupFunc
	logger           *slog.Logger
}

func resolveRuntimeOptions(opts []RuntimeOption) runtimeOptions {
	o := runtimeOptions{hydration: true, autoSubscribe: true}
	for _, fn := range opts {
		fn(&o)
	}
	if o.maxRetries == 0 {
		o.maxRetries = DefaultMaxRetries
	}
	if o.queueSize == 0 {
		o.queueSize = DefaultQueueSize
	}
	if o.shutdownTimeout == 0 {
		o.shutdownTimeout = DefaultShutdownTimeout
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// WithMaxRetries sets how many processing attempts a message gets before
// it is marked permanently failed.
func WithMaxRetries(n int) RuntimeOption {
	return func(o *runtimeOptions) { o.maxRetries = n }
}

// WithContextHydration toggles loading prior room history on the first
// message processed for a room. Agents that manage their own state can
// disable it to skip the API call.
func WithContextHydration(enabled bool) RuntimeOption {
	return func(o *runtimeOptions) { o.hydration = enabled; o.hydrationSet = true }
}

// WithAutoSubscribeExisting toggles subscribing to rooms the agent is
// already a participant of when the runtime starts.
func WithAutoSubscribeExisting(enabled bool) RuntimeOption {
	return func(o *runtimeOptions) { o.autoSubscribe = enabled; o.autoSubscribeSet = true }
}

// WithMentionPolicy sets the policy for SendMessage mention validation.
func WithMentionPolicy(p MentionPolicy) RuntimeOption {
	return func(o *runtimeOptions) { o.mentionPolicy = p }
}

// WithQueueSize bounds each room's inbound event queue.
func WithQueueSize(n int) RuntimeOption {
	return func(o *runtimeOptions) { o.queueSize = n }
}

// WithShutdownTimeout bounds how long Stop waits for in-flight callbacks
// before cancelling them.
func WithShutdownTimeout(d time.Duration) RuntimeOption {
	return func(o *runtimeOptions) { o.shutdownTimeout = d }
}

// WithRoomFilter restricts which rooms the agent joins.
func WithRoomFilter(f RoomFilter) RuntimeOption {
	return func(o *runtimeOptions) { o.roomFilter = f }
}

// WithPreprocessor replaces the default event preprocessor.
func WithPreprocessor(p Preprocessor) RuntimeOption {
	return func(o *runtimeOptions) { o.preprocessor = p }
}

// WithCleanup registers a callback invoked exactly once per room
// teardown, after the room's worker has drained.
func WithCleanup(fn CleanupFunc) RuntimeOption {
	return func(o *runtimeOptions) { o.cleanup = fn }
}

// WithLogger sets the logger used by the Runtime and its room workers.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOptions) { o.logger = l }
}
