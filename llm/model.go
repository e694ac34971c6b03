// Package llm implements the streaming prediction protocol of the Inlet SDK:
// model handles, the Complete and Respond entry points, and the Prediction
// value that behaves both as a deferred result and as a live fragment stream.
//
// A prediction runs on exactly one rpc.Channel. Inbound channel messages are
// the only mutators of a Prediction; callers consume it by awaiting Wait or
// iterating a Streamer, and may request cancellation at any time.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inletai/inlet-go/rpc"
	"github.com/inletai/inlet-go/telemetry"
)

// ErrModelReleased is returned by prediction entry points invoked on a model
// handle that has been released.
var ErrModelReleased = errors.New("llm: model handle released")

type (
	// ModelDescriptor identifies a loaded model instance.
	ModelDescriptor struct {
		// Identifier is the instance identifier used to address the model.
		Identifier string `json:"identifier"`
		// Path is the model's location in the server's model directory.
		Path string `json:"path,omitempty"`
		// Architecture is the model architecture family (e.g. "llama").
		Architecture string `json:"architecture,omitempty"`
		// ContextLength is the loaded context window size in tokens.
		ContextLength int `json:"contextLength,omitempty"`
	}

	// Model is a handle on one loaded model. Handles are cheap and safe for
	// concurrent use; each prediction opens its own channel.
	Model struct {
		endpoint   rpc.Endpoint
		descriptor ModelDescriptor
		logger     telemetry.Logger
		metrics    *telemetry.PredictionMetrics
		released   atomic.Bool
	}

	// ModelOptions configures optional collaborators of a model handle.
	ModelOptions struct {
		// Logger receives prediction lifecycle log entries. Defaults to a
		// no-op logger.
		Logger telemetry.Logger
		// Metrics records prediction instruments. Nil disables recording.
		Metrics *telemetry.PredictionMetrics
	}

	// PredictionOptions carries the optional inputs of a prediction request.
	PredictionOptions struct {
		// Config overrides the loaded model's prediction configuration.
		Config *Config
		// StructuredOutput constrains the generated text to a JSON Schema.
		StructuredOutput *StructuredOutput
	}

	// predictArgs is the creation payload of a predict channel.
	predictArgs struct {
		Model            string            `json:"model"`
		Prompt           string            `json:"prompt,omitempty"`
		Messages         []ChatMessage     `json:"messages,omitempty"`
		Config           Config            `json:"config"`
		StructuredOutput *StructuredOutput `json:"structuredOutput,omitempty"`
	}
)

// NewModel constructs a handle on the model described by descriptor, issuing
// predictions through endpoint.
func NewModel(endpoint rpc.Endpoint, descriptor ModelDescriptor, opts ModelOptions) *Model {
	if opts.Logger == nil {
		opts.Logger = telemetry.NopLogger{}
	}
	return &Model{
		endpoint:   endpoint,
		descriptor: descriptor,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// Descriptor returns the descriptor the handle was created with.
func (m *Model) Descriptor() ModelDescriptor { return m.descriptor }

// Release unloads the model on the server and marks the handle released.
// Subsequent predictions fail with ErrModelReleased. Release is idempotent on
// the client side.
func (m *Model) Release(ctx context.Context) error {
	if m.released.Swap(true) {
		return nil
	}
	return m.endpoint.Call(ctx, "unloadModel", map[string]string{"identifier": m.descriptor.Identifier}, nil)
}

// Complete requests a text completion of prompt. Template-specific fields are
// forcibly cleared — InputPrefix and InputSuffix are emptied and StopStrings
// defaults to the empty list unless explicitly set — so a raw completion does
// not interact with the loaded prompt template.
//
// The returned Prediction is live immediately; fragments and the terminal
// state arrive asynchronously. ctx cancellation is forwarded to the server as
// a cancel request.
func (m *Model) Complete(ctx context.Context, prompt string, opts *PredictionOptions) (*Prediction, error) {
	if m.released.Load() {
		return nil, ErrModelReleased
	}
	if opts == nil {
		opts = &PredictionOptions{}
	}
	var cfg Config
	if opts.Config != nil {
		cfg = *opts.Config
	}
	cfg.InputPrefix = ""
	cfg.InputSuffix = ""
	if cfg.StopStrings == nil {
		cfg.StopStrings = []string{}
	}
	if err := m.validate(&cfg, opts.StructuredOutput); err != nil {
		return nil, err
	}
	args := predictArgs{
		Model:            m.descriptor.Identifier,
		Prompt:           prompt,
		Config:           cfg,
		StructuredOutput: opts.StructuredOutput,
	}
	return m.start(ctx, "llm.complete", args)
}

// Respond requests the next assistant turn for the given conversation. The
// caller's configuration is passed through unmodified; the loaded prompt
// template applies.
func (m *Model) Respond(ctx context.Context, chat *Chat, opts *PredictionOptions) (*Prediction, error) {
	if m.released.Load() {
		return nil, ErrModelReleased
	}
	if opts == nil {
		opts = &PredictionOptions{}
	}
	if err := chat.validate(); err != nil {
		return nil, err
	}
	var cfg Config
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := m.validate(opts.Config, opts.StructuredOutput); err != nil {
		return nil, err
	}
	args := predictArgs{
		Model:            m.descriptor.Identifier,
		Messages:         chat.Messages(),
		Config:           cfg,
		StructuredOutput: opts.StructuredOutput,
	}
	return m.start(ctx, "llm.respond", args)
}

func (m *Model) validate(cfg *Config, out *StructuredOutput) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return out.Validate()
}

// start opens the predict channel and wires its messages into a fresh
// Prediction. The channel is exclusively owned by this prediction and never
// reused.
func (m *Model) start(ctx context.Context, operation string, args predictArgs) (*Prediction, error) {
	p := newPrediction(m.descriptor.Identifier)
	spanCtx, span := telemetry.StartPredictionSpan(ctx, operation, m.descriptor.Identifier)
	opened := time.Now()
	var first sync.Once
	var spanEnd sync.Once

	settle := func(outcome string) {
		m.metrics.RecordOutcome(spanCtx, m.descriptor.Identifier, outcome)
		m.logger.Debug(spanCtx, "prediction settled", "model", m.descriptor.Identifier, "outcome", outcome)
		spanEnd.Do(func() { span.End() })
	}

	ch, err := m.endpoint.OpenChannel(ctx, "predict", args, func(msg rpc.Message) {
		switch msg := msg.(type) {
		case rpc.Fragment:
			first.Do(func() {
				m.metrics.RecordFirstFragment(spanCtx, m.descriptor.Identifier, time.Since(opened))
			})
			m.metrics.RecordFragment(spanCtx, m.descriptor.Identifier)
			p.push(msg)
		case rpc.Success:
			stats, desc, err := m.decodeSuccess(msg)
			if err != nil {
				p.fail(err)
				settle(string(StateFailed))
				return
			}
			p.finish(stats, desc)
			settle(string(StateSucceeded))
		case rpc.Canceled:
			p.canceled()
			settle(string(StateCanceled))
		case rpc.Error:
			p.fail(&rpc.ServerError{Title: msg.Title, Code: msg.Code})
			settle(string(StateFailed))
		default:
			m.logger.Warn(spanCtx, "unexpected predict channel message", "type", string(msg.MessageType()))
		}
	})
	if err != nil {
		spanEnd.Do(func() { span.End() })
		return nil, fmt.Errorf("llm: open predict channel: %w", err)
	}

	ch.OnError(func(err error) {
		p.fail(err)
		settle(string(StateFailed))
	})

	// Forward cancellation onto the channel, whichever side fires first.
	p.cancelEvent.Subscribe(func(struct{}) {
		if err := ch.Send(context.Background(), rpc.Cancel{}); err != nil {
			m.logger.Warn(spanCtx, "cancel request not sent", "err", err.Error())
		}
	})
	go func() {
		select {
		case <-ctx.Done():
			p.Cancel()
			<-p.terminal
		case <-p.terminal:
		}
		_ = ch.Close()
	}()
	return p, nil
}

// decodeSuccess parses the raw stats and model descriptor of a success
// message, falling back to the handle's descriptor when the server omits it.
func (m *Model) decodeSuccess(msg rpc.Success) (Stats, ModelDescriptor, error) {
	var stats Stats
	if len(msg.Stats) > 0 {
		if err := json.Unmarshal(msg.Stats, &stats); err != nil {
			return Stats{}, ModelDescriptor{}, fmt.Errorf("llm: decode prediction stats: %w", err)
		}
	}
	desc := m.descriptor
	if len(msg.ModelInfo) > 0 {
		if err := json.Unmarshal(msg.ModelInfo, &desc); err != nil {
			return Stats{}, ModelDescriptor{}, fmt.Errorf("llm: decode model descriptor: %w", err)
		}
	}
	return stats, desc, nil
}
