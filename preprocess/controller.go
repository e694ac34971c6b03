package preprocess

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/inletai/inlet-go/llm"
	"github.com/inletai/inlet-go/telemetry"
)

// ErrEnded is returned when a preprocessing stage emits an update through a
// controller on which End has been called, e.g. from a stray asynchronous
// callback outliving cancellation.
var ErrEnded = errors.New("preprocess: controller ended")

type (
	// Request is the immutable input a preprocessing stage works on.
	Request struct {
		// History is the conversation before the current user message.
		History []llm.ChatMessage
		// UserMessage is the message being preprocessed.
		UserMessage llm.ChatMessage
	}

	// Controller is the per-request facade handed to a preprocessing stage.
	// Exactly one controller exists per request; it is single-use and must
	// not be consumed after End.
	//
	// All update emission serializes on the controller, so the host observes
	// one totally ordered update stream per request.
	Controller struct {
		ctx     context.Context
		sink    UpdateSink
		logger  telemetry.Logger
		request Request

		mu     sync.Mutex
		ended  bool
		blocks []terminator
	}

	// Options configures optional collaborators of a controller.
	Options struct {
		// Logger receives controller lifecycle log entries. Defaults to a
		// no-op logger.
		Logger telemetry.Logger
	}
)

// NewController constructs the facade for one request. ctx is the request's
// abort signal: its Done channel closes when the request is canceled, and the
// stage is expected to stop cooperatively. sink receives every update the
// stage emits.
func NewController(ctx context.Context, sink UpdateSink, request Request, opts Options) (*Controller, error) {
	if sink == nil {
		return nil, errors.New("preprocess: update sink is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NopLogger{}
	}
	return &Controller{
		ctx:     ctx,
		sink:    sink,
		logger:  opts.Logger,
		request: request,
	}, nil
}

// Context returns the request's abort signal.
func (c *Controller) Context() context.Context { return c.ctx }

// History returns a copy of the conversation preceding the user message.
func (c *Controller) History() []llm.ChatMessage {
	return append([]llm.ChatMessage(nil), c.request.History...)
}

// UserMessage returns the message being preprocessed.
func (c *Controller) UserMessage() llm.ChatMessage { return c.request.UserMessage }

// CreateStatus creates a top-level status step and emits its creation update.
func (c *Controller) CreateStatus(state StepState, text string) (*StatusStep, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := &StatusStep{
		ctrl:  c,
		id:    uuid.NewString(),
		state: state,
		text:  text,
	}
	if err := c.registerLocked(step, StatusCreate{
		ID:    step.id,
		State: state,
		Text:  text,
	}); err != nil {
		return nil, err
	}
	return step, nil
}

// CreateCitation creates an immutable citation block and emits its creation
// update.
func (c *Controller) CreateCitation(citedText, source string) (*CitationBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	block := &CitationBlock{id: uuid.NewString(), citedText: citedText, source: source}
	if err := c.registerLocked(block, CitationCreate{
		ID:        block.id,
		CitedText: citedText,
		Source:    source,
	}); err != nil {
		return nil, err
	}
	return block, nil
}

// CreateDebugInfo creates an immutable debug block and emits its creation
// update.
func (c *Controller) CreateDebugInfo(debugInfo string) (*DebugInfoBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	block := &DebugInfoBlock{id: uuid.NewString(), debugInfo: debugInfo}
	if err := c.registerLocked(block, DebugInfoCreate{
		ID:        block.id,
		DebugInfo: debugInfo,
	}); err != nil {
		return nil, err
	}
	return block, nil
}

// End closes the controller: every step still waiting or loading transitions
// to canceled with its last text preserved, then the controller permanently
// rejects further updates. End is idempotent; the forced termination runs
// exactly once.
func (c *Controller) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return nil
	}
	for _, block := range c.blocks {
		block.forceTerminate()
	}
	c.ended = true
	c.logger.Debug(c.ctx, "preprocess controller ended", "blocks", len(c.blocks))
	return nil
}

// Ended reports whether End has been called.
func (c *Controller) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// registerLocked emits the creation update and, on success, records the block
// for forced termination. Callers hold c.mu.
func (c *Controller) registerLocked(block terminator, create Update) error {
	if err := c.sendLocked(create); err != nil {
		return err
	}
	c.blocks = append(c.blocks, block)
	return nil
}

// sendLocked emits one update through the sink. Callers hold c.mu.
func (c *Controller) sendLocked(update Update) error {
	if c.ended {
		return ErrEnded
	}
	return c.sink.Send(c.ctx, update)
}
