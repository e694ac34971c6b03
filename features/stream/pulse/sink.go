// Package pulse exposes a preprocess.UpdateSink implementation that publishes
// preprocessing progress updates to goa.design/pulse streams, so UIs and
// observers in other processes can follow an in-flight request. Services build
// a Redis client, pass it to the Pulse client wrapper, and hand the resulting
// sink to the preprocess controller (typically fanned out next to the
// request's channel sink).
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/inletai/inlet-go/features/stream/pulse/clients/pulse"
	"github.com/inletai/inlet-go/preprocess"
)

type (
	// Options configures the Pulse update sink.
	Options struct {
		// Client is the Pulse client used to publish updates. Required.
		Client pulse.Client
		// RequestID identifies the request whose updates this sink carries.
		// Required; it derives the stream name.
		RequestID string
		// StreamID overrides the derived stream name. Defaults to
		// `request/<RequestID>`.
		StreamID string
	}

	// Sink publishes update envelopes to one request's Pulse stream.
	// Thread-safe for concurrent Send operations.
	Sink struct {
		client    pulse.Client
		requestID string
		streamID  string
	}

	// envelope wraps updates for transmission over Pulse streams.
	envelope struct {
		// Type identifies the update kind (e.g. "status.create").
		Type string `json:"type"`
		// RequestID links the update to the request being preprocessed.
		RequestID string `json:"request_id"`
		// Timestamp records when the update was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Payload contains the update-specific data.
		Payload json.RawMessage `json:"payload,omitempty"`
	}
)

// NewSink constructs a Pulse-backed update sink for one request.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	if opts.RequestID == "" {
		return nil, errors.New("request id is required")
	}
	streamID := opts.StreamID
	if streamID == "" {
		streamID = fmt.Sprintf("request/%s", opts.RequestID)
	}
	return &Sink{
		client:    opts.Client,
		requestID: opts.RequestID,
		streamID:  streamID,
	}, nil
}

// Send implements preprocess.UpdateSink. The update is wrapped in an envelope
// carrying the request ID and publication time and published to the request's
// stream.
func (s *Sink) Send(ctx context.Context, update preprocess.Update) error {
	payload, err := preprocess.EncodeUpdate(update)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(s.streamID)
	if err != nil {
		return err
	}
	env := envelope{
		Type:      string(update.UpdateType()),
		RequestID: s.requestID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := handle.Add(ctx, env.Type, data); err != nil {
		return err
	}
	return nil
}

// Close releases resources owned by the sink by delegating to the Pulse
// client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
