// Package preprocess gives a prompt-preprocessing stage a narrow, single-use
// facade over one in-flight request: read-only access to the conversation,
// an abort signal, and write-only emission of structured progress updates
// (status steps, citation blocks, debug blocks).
//
// Updates are tagged variants delivered through an UpdateSink. The production
// sink writes them onto the request's rpc channel; the features/stream/pulse
// republisher forwards the same envelopes to Redis-backed streams.
package preprocess

import (
	"context"
	"encoding/json"
	"fmt"
)

// UpdateType enumerates the update payload flavors.
type UpdateType string

const (
	// UpdateStatusCreate announces a new status step node.
	UpdateStatusCreate UpdateType = "status.create"
	// UpdateStatusUpdate transitions an existing status step node.
	UpdateStatusUpdate UpdateType = "status.update"
	// UpdateCitationCreate announces a citation block.
	UpdateCitationCreate UpdateType = "citationBlock.create"
	// UpdateDebugInfoCreate announces a debug information block.
	UpdateDebugInfoCreate UpdateType = "debugInfoBlock.create"
)

type (
	// Update is one element of the preprocessing update union. Concrete types
	// carry the payload for their UpdateType.
	Update interface {
		// UpdateType returns the wire discriminator for this update.
		UpdateType() UpdateType
	}

	// UpdateSink delivers updates to the host rendering them. Implementations
	// must be safe for concurrent use.
	UpdateSink interface {
		// Send delivers one update. Errors propagate to the emitting caller.
		Send(ctx context.Context, update Update) error
	}

	// Location positions a new node relative to an existing one in the
	// consuming UI.
	Location struct {
		// Type is always "afterId".
		Type string `json:"type"`
		// ID is the node the new one is inserted after.
		ID string `json:"id"`
	}

	// StatusCreate announces a status step node.
	StatusCreate struct {
		// ID is the node identity, unique within the request.
		ID string `json:"id"`
		// State is the initial step state.
		State StepState `json:"state"`
		// Text is the display text.
		Text string `json:"text"`
		// Location positions the node after an existing one. Nil appends at
		// the end of the top-level list.
		Location *Location `json:"location,omitempty"`
		// Indentation is the nesting depth, 0 for top-level steps.
		Indentation int `json:"indentation,omitempty"`
	}

	// StatusUpdate transitions an existing status step node.
	StatusUpdate struct {
		ID    string    `json:"id"`
		State StepState `json:"state"`
		Text  string    `json:"text"`
	}

	// CitationCreate announces an immutable citation block.
	CitationCreate struct {
		ID        string `json:"id"`
		CitedText string `json:"citedText"`
		Source    string `json:"source"`
	}

	// DebugInfoCreate announces an immutable debug information block.
	DebugInfoCreate struct {
		ID        string `json:"id"`
		DebugInfo string `json:"debugInfo"`
	}
)

// UpdateType implements Update.
func (StatusCreate) UpdateType() UpdateType { return UpdateStatusCreate }

// UpdateType implements Update.
func (StatusUpdate) UpdateType() UpdateType { return UpdateStatusUpdate }

// UpdateType implements Update.
func (CitationCreate) UpdateType() UpdateType { return UpdateCitationCreate }

// UpdateType implements Update.
func (DebugInfoCreate) UpdateType() UpdateType { return UpdateDebugInfoCreate }

// EncodeUpdate serializes an update into its wire envelope: the payload
// fields flattened next to a "type" discriminator.
func EncodeUpdate(u Update) ([]byte, error) {
	raw, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("preprocess: marshal update: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("preprocess: flatten update: %w", err)
	}
	fields["type"] = string(u.UpdateType())
	return json.Marshal(fields)
}

// DecodeUpdate parses a wire envelope produced by EncodeUpdate back into its
// typed update.
func DecodeUpdate(data []byte) (Update, error) {
	var tag struct {
		Type UpdateType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("preprocess: decode update: %w", err)
	}
	var u Update
	switch tag.Type {
	case UpdateStatusCreate:
		u = &StatusCreate{}
	case UpdateStatusUpdate:
		u = &StatusUpdate{}
	case UpdateCitationCreate:
		u = &CitationCreate{}
	case UpdateDebugInfoCreate:
		u = &DebugInfoCreate{}
	default:
		return nil, fmt.Errorf("preprocess: unknown update type %q", tag.Type)
	}
	if err := json.Unmarshal(data, u); err != nil {
		return nil, fmt.Errorf("preprocess: decode %s update: %w", tag.Type, err)
	}
	switch u := u.(type) {
	case *StatusCreate:
		return *u, nil
	case *StatusUpdate:
		return *u, nil
	case *CitationCreate:
		return *u, nil
	case *DebugInfoCreate:
		return *u, nil
	}
	return u, nil
}
