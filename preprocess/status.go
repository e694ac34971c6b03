package preprocess

import (
	"fmt"

	"github.com/google/uuid"
)

// StepState is the display state of a status step node.
type StepState string

const (
	// StepWaiting means the step has not started.
	StepWaiting StepState = "waiting"
	// StepLoading means the step is in progress.
	StepLoading StepState = "loading"
	// StepDone means the step completed successfully.
	StepDone StepState = "done"
	// StepError means the step failed.
	StepError StepState = "error"
	// StepCanceled means the step was abandoned, either explicitly or by
	// forced termination when the controller ended.
	StepCanceled StepState = "canceled"
)

// terminal reports whether no further transition happens from s.
func (s StepState) terminal() bool {
	switch s {
	case StepDone, StepError, StepCanceled:
		return true
	}
	return false
}

type (
	// terminator is the internal forced-termination capability every block
	// created through a controller implements. It is invoked only by the
	// owning controller when it ends and is invisible to API consumers.
	terminator interface {
		// forceTerminate transitions any in-progress state to canceled,
		// emitting the corresponding update. Blocks without in-progress state
		// implement it as a no-op.
		forceTerminate()
	}

	// StatusStep is one structured progress node reported by the
	// preprocessing stage. Steps form a tree: AddSubStatus creates nested
	// children. A step is never deleted, only transitioned; the valid
	// transitions are waiting → loading → {done, error, canceled}, with
	// canceled also reachable from waiting or loading through forced
	// termination.
	StatusStep struct {
		ctrl        *Controller
		id          string
		indentation int

		// Guarded by ctrl.mu: all step mutation serializes on the owning
		// controller so the update stream has a single total order.
		state     StepState
		text      string
		lastChild *StatusStep
	}

	// CitationBlock is an immutable leaf annotation citing source material.
	CitationBlock struct {
		id        string
		citedText string
		source    string
	}

	// DebugInfoBlock is an immutable leaf annotation carrying debug text.
	DebugInfoBlock struct {
		id        string
		debugInfo string
	}
)

// ID returns the node identity, unique within the request.
func (s *StatusStep) ID() string { return s.id }

// Indentation returns the nesting depth of the node.
func (s *StatusStep) Indentation() int { return s.indentation }

// State returns the current step state.
func (s *StatusStep) State() StepState {
	s.ctrl.mu.Lock()
	defer s.ctrl.mu.Unlock()
	return s.state
}

// Text returns the current display text.
func (s *StatusStep) Text() string {
	s.ctrl.mu.Lock()
	defer s.ctrl.mu.Unlock()
	return s.text
}

// SetState transitions the step and emits the update. Transitions out of a
// terminal state are rejected.
func (s *StatusStep) SetState(state StepState) error {
	return s.update(func() { s.state = state })
}

// SetText replaces the display text and emits the update.
func (s *StatusStep) SetText(text string) error {
	return s.update(func() { s.text = text })
}

func (s *StatusStep) update(apply func()) error {
	s.ctrl.mu.Lock()
	defer s.ctrl.mu.Unlock()
	if s.state.terminal() {
		return fmt.Errorf("preprocess: status step %s already terminal (%s)", s.id, s.state)
	}
	apply()
	return s.ctrl.sendLocked(StatusUpdate{ID: s.id, State: s.state, Text: s.text})
}

// AddSubStatus creates a child step one indentation level deeper, positioned
// immediately after the deepest last-added descendant of this step so the
// consuming UI inserts it below everything already nested here.
func (s *StatusStep) AddSubStatus(state StepState, text string) (*StatusStep, error) {
	s.ctrl.mu.Lock()
	defer s.ctrl.mu.Unlock()

	anchor := s
	for anchor.lastChild != nil {
		anchor = anchor.lastChild
	}
	child := &StatusStep{
		ctrl:        s.ctrl,
		id:          uuid.NewString(),
		indentation: s.indentation + 1,
		state:       state,
		text:        text,
	}
	if err := s.ctrl.registerLocked(child, StatusCreate{
		ID:          child.id,
		State:       state,
		Text:        text,
		Location:    &Location{Type: "afterId", ID: anchor.id},
		Indentation: child.indentation,
	}); err != nil {
		return nil, err
	}
	s.lastChild = child
	return child, nil
}

// forceTerminate implements terminator. Steps still waiting or loading become
// canceled with their last text preserved; terminal steps are untouched.
func (s *StatusStep) forceTerminate() {
	if s.state.terminal() {
		return
	}
	s.state = StepCanceled
	// Best effort: the controller is ending; a sink failure cannot be
	// surfaced to the stage anymore.
	_ = s.ctrl.sendLocked(StatusUpdate{ID: s.id, State: StepCanceled, Text: s.text})
}

// ID returns the block identity.
func (c *CitationBlock) ID() string { return c.id }

// CitedText returns the cited source excerpt.
func (c *CitationBlock) CitedText() string { return c.citedText }

// Source returns the citation source name.
func (c *CitationBlock) Source() string { return c.source }

// forceTerminate implements terminator. Citations carry no in-progress state.
func (*CitationBlock) forceTerminate() {}

// ID returns the block identity.
func (d *DebugInfoBlock) ID() string { return d.id }

// DebugInfo returns the debug text.
func (d *DebugInfoBlock) DebugInfo() string { return d.debugInfo }

// forceTerminate implements terminator. Debug blocks carry no in-progress state.
func (*DebugInfoBlock) forceTerminate() {}
