package pulse

import (
	"context"
	"errors"

	clientspulse "github.com/inletai/inlet-go/features/stream/pulse/clients/pulse"
)

// Streams wires a caller-provided Pulse client into the preprocessing update
// pipeline. It creates per-request publishing sinks and can spawn subscribers
// that reuse the same client so services do not need to manage multiple Pulse
// connections.
type Streams struct {
	client clientspulse.Client
}

// StreamsOptions configures the helper returned by NewStreams.
type StreamsOptions struct {
	// Client is the Pulse client used for both publishing and subscribing. It
	// is required and typically built via features/stream/pulse/clients/pulse.
	Client clientspulse.Client
}

// NewStreams constructs helpers for publishing preprocessing updates to Pulse
// and subscribing to the resulting request streams. Callers hand per-request
// sinks to preprocess controllers and keep the helper around to create
// subscribers (e.g., SSE fan-out) later on.
func NewStreams(opts StreamsOptions) (*Streams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	return &Streams{client: opts.Client}, nil
}

// SinkFor returns a publishing sink for the given request, suitable for use as
// the controller's update sink, typically fanned out next to the request's
// channel sink.
func (s *Streams) SinkFor(requestID string) (*Sink, error) {
	return NewSink(Options{Client: s.client, RequestID: requestID})
}

// NewSubscriber constructs a Pulse-backed subscriber that reuses the helper's
// client. This keeps stream publishing and consumption on the same Redis
// connection pool for efficiency.
func (s *Streams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = s.client
	return NewSubscriber(opts)
}

// Close releases the underlying Pulse client. Call this during service
// shutdown after all subscribers have been canceled.
func (s *Streams) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
