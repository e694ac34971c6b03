package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/inletai/inlet-go/features/stream/pulse/clients/pulse"
	"github.com/inletai/inlet-go/preprocess"
)

type (
	// EnvelopeDecoder converts raw payloads read from Pulse into update events.
	// Custom decoders can be provided to handle non-standard envelope formats.
	EnvelopeDecoder func([]byte) (UpdateEvent, error)

	// UpdateEvent is one preprocessing update read back from a request stream.
	UpdateEvent struct {
		// RequestID identifies the request the update belongs to.
		RequestID string
		// Timestamp is the publication time recorded by the sink.
		Timestamp time.Time
		// Update is the decoded update.
		Update preprocess.Update
	}

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to
		// "inlet_subscriber".
		SinkName string
		// Buffer specifies the event channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes event payloads. Defaults to the built-in JSON
		// envelope decoder.
		Decoder EnvelopeDecoder
	}

	// Subscriber consumes request streams and emits the preprocessing updates
	// published to them, so out-of-process observers can render a request's
	// progress as it happens.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}
)

// NewSubscriber constructs a Pulse-backed subscriber. The Client field in opts
// is required; SinkName, Buffer, and Decoder default to sensible values if not
// provided (see SubscriberOptions field documentation).
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "inlet_subscriber"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = decodeEnvelope
	}
	return &Subscriber{
		client: opts.Client,
		buffer: buffer,
		name:   name,
		decode: decoder,
	}, nil
}

// Subscribe opens a Pulse sink on the given stream ID and returns channels for
// update events and errors. It spawns a goroutine that consumes from the sink,
// decodes payloads, and emits update events. The returned cancel function
// stops consumption, closes the sink, and closes both channels.
//
// Usage:
//
//	updates, errs, cancel, err := sub.Subscribe(ctx, "request/abc123")
//	defer cancel()
//	for evt := range updates {
//	    // render evt.Update
//	}
func (s *Subscriber) Subscribe(
	ctx context.Context,
	streamID string,
	opts ...streamopts.Sink,
) (<-chan UpdateEvent, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	updates := make(chan UpdateEvent, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, updates, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return updates, errs, cancelFunc, nil
}

// consume reads events from the Pulse sink channel, decodes them, and emits
// them on the out channel. It acks each event after successful emission.
// Closes both channels when ctx is canceled or when the sink channel closes.
// Sends errors on the errs channel if decoding or acking fails, then returns.
func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- UpdateEvent, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("pulse ack: %w", ackErr)
				return
			}
		}
	}
}

// decodeEnvelope deserializes the default JSON envelope written by Sink and
// extracts the typed update. Returns an error if the payload is malformed.
func decodeEnvelope(payload []byte) (UpdateEvent, error) {
	var env struct {
		RequestID string          `json:"request_id"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return UpdateEvent{}, err
	}
	update, err := preprocess.DecodeUpdate(env.Payload)
	if err != nil {
		return UpdateEvent{}, err
	}
	return UpdateEvent{
		RequestID: env.RequestID,
		Timestamp: env.Timestamp,
		Update:    update,
	}, nil
}
