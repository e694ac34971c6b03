package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/inletai/inlet-go/events"
	"github.com/inletai/inlet-go/rpc"
)

// State is the lifecycle state of a prediction.
type State string

const (
	// StatePending means the prediction has not reached a terminal state.
	StatePending State = "pending"
	// StateSucceeded means the server delivered the final success message.
	StateSucceeded State = "succeeded"
	// StateFailed means the channel or the server reported a failure.
	StateFailed State = "failed"
	// StateCanceled means the server acknowledged a cancel request.
	StateCanceled State = "canceled"
)

// ErrCanceled is the terminal error of a canceled prediction. Wait returns it
// and streamers raise it after yielding the fragments received before the
// cancellation took effect.
var ErrCanceled = errors.New("llm: prediction canceled")

type (
	// Prediction is the dual result of a prediction request: it can be awaited
	// once for the terminal Result via Wait, and it can be consumed any number
	// of times as a fragment stream via Stream. Both views share one
	// append-only fragment buffer, so a streamer created after fragments have
	// arrived replays them from the beginning of the prediction.
	//
	// A Prediction is created by the Complete and Respond entry points and is
	// mutated only by the channel handlers those entry points install. Exactly
	// one terminal transition happens; it is observed by all consumers after
	// every previously delivered fragment.
	Prediction struct {
		modelID string

		mu        sync.Mutex
		fragments []rpc.Fragment
		state     State
		err       error
		result    *Result
		// changed is closed and replaced on every mutation, waking all
		// blocked consumers. terminal is closed once, on the terminal
		// transition.
		changed  chan struct{}
		terminal chan struct{}

		cancelEvent *events.Once[struct{}]
		requestStop func(struct{})
	}

	// Result is the terminal value of a successful prediction.
	Result struct {
		// Content is the concatenation of all fragment text in arrival order.
		Content string
		// Stats carries the final prediction statistics.
		Stats Stats
		// Model describes the model instance that produced the prediction.
		Model ModelDescriptor
	}

	// Stats carries the statistics the server reports with the terminal
	// success message.
	Stats struct {
		// TokensPerSecond is the generation throughput.
		TokensPerSecond float64 `json:"tokensPerSecond,omitempty"`
		// TimeToFirstTokenSec is the delay before the first token, in seconds.
		TimeToFirstTokenSec float64 `json:"timeToFirstTokenSec,omitempty"`
		// PromptTokens is the number of tokens in the processed prompt.
		PromptTokens int `json:"promptTokensCount,omitempty"`
		// PredictedTokens is the number of generated tokens.
		PredictedTokens int `json:"predictedTokensCount,omitempty"`
		// StopReason tells why generation ended (e.g. "eosFound",
		// "maxPredictedTokensReached", "stopStringFound").
		StopReason string `json:"stopReason,omitempty"`
	}

	// Streamer is a single-pass, non-restartable view over a prediction's
	// fragment sequence. Independent streamers over the same prediction each
	// observe the complete sequence from the beginning of their own iteration.
	Streamer struct {
		prediction *Prediction
		pos        int
		done       bool
	}
)

// newPrediction constructs a pending prediction together with its one-shot
// cancel event.
func newPrediction(modelID string) *Prediction {
	cancelEvent, requestStop := events.NewOnce[struct{}]()
	return &Prediction{
		modelID:     modelID,
		state:       StatePending,
		changed:     make(chan struct{}),
		terminal:    make(chan struct{}),
		cancelEvent: cancelEvent,
		requestStop: requestStop,
	}
}

// Cancel requests cancellation of the prediction. The request is forwarded to
// the server on the prediction's channel; the prediction stays pending until
// the server answers with a terminal message, so fragments may still arrive
// after Cancel returns. Calling Cancel more than once has no further effect.
func (p *Prediction) Cancel() {
	p.requestStop(struct{}{})
}

// State returns the current lifecycle state.
func (p *Prediction) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Content returns the text aggregated so far. Before the terminal transition
// this is a snapshot of a moving value.
func (p *Prediction) Content() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contentLocked()
}

// Wait blocks until the prediction reaches a terminal state and returns the
// final Result. It returns ErrCanceled for a canceled prediction, the failure
// error for a failed one, and ctx.Err if ctx ends first. Wait may be called
// any number of times; every call observes the same outcome.
func (p *Prediction) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-p.terminal:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

// Stream returns a new streamer replaying the fragment sequence from the
// start. Fragments received before the call are not lost: the streamer yields
// them first, then follows live arrivals.
func (p *Prediction) Stream() *Streamer {
	return &Streamer{prediction: p}
}

// Next returns the next fragment of the sequence, blocking until one arrives
// or the prediction terminates. After the last fragment it returns io.EOF for
// a succeeded prediction, ErrCanceled for a canceled one, and the failure
// error for a failed one. A terminal return is sticky: the streamer cannot be
// restarted.
func (s *Streamer) Next(ctx context.Context) (rpc.Fragment, error) {
	if s.done {
		return rpc.Fragment{}, io.EOF
	}
	p := s.prediction
	for {
		p.mu.Lock()
		if s.pos < len(p.fragments) {
			frag := p.fragments[s.pos]
			p.mu.Unlock()
			s.pos++
			return frag, nil
		}
		if p.state != StatePending {
			err := p.err
			p.mu.Unlock()
			s.done = true
			if err != nil {
				return rpc.Fragment{}, err
			}
			return rpc.Fragment{}, io.EOF
		}
		changed := p.changed
		p.mu.Unlock()
		select {
		case <-changed:
		case <-ctx.Done():
			return rpc.Fragment{}, ctx.Err()
		}
	}
}

// push appends a fragment and wakes blocked consumers. Fragments arriving
// after the terminal transition are dropped.
func (p *Prediction) push(frag rpc.Fragment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePending {
		return
	}
	p.fragments = append(p.fragments, frag)
	p.broadcastLocked()
}

// finish records the successful terminal state, computing the aggregated
// content from the fragments received so far. A second terminal transition is
// a no-op.
func (p *Prediction) finish(stats Stats, model ModelDescriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePending {
		return
	}
	p.state = StateSucceeded
	p.result = &Result{
		Content: p.contentLocked(),
		Stats:   stats,
		Model:   model,
	}
	close(p.terminal)
	p.broadcastLocked()
}

// fail records the failed terminal state. A second terminal transition is a
// no-op; already-delivered fragments remain readable through streamers that
// consumed them.
func (p *Prediction) fail(err error) {
	p.terminate(StateFailed, err)
}

// canceled records the canceled terminal state after the server acknowledged
// a cancel request.
func (p *Prediction) canceled() {
	p.terminate(StateCanceled, ErrCanceled)
}

func (p *Prediction) terminate(state State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePending {
		return
	}
	p.state = state
	p.err = err
	close(p.terminal)
	p.broadcastLocked()
}

func (p *Prediction) contentLocked() string {
	var b strings.Builder
	for _, f := range p.fragments {
		b.WriteString(f.Content)
	}
	return b.String()
}

func (p *Prediction) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}
