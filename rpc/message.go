package rpc

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates the channel message union.
type MessageType string

const (
	// MessageFragment carries one incremental unit of generated text.
	MessageFragment MessageType = "fragment"
	// MessageSuccess terminates a predict channel with final statistics and
	// the descriptor of the model that produced the prediction.
	MessageSuccess MessageType = "success"
	// MessageCanceled terminates a predict channel after the server
	// acknowledged a cancel request.
	MessageCanceled MessageType = "canceled"
	// MessageError terminates a predict channel with a server-side failure.
	MessageError MessageType = "error"
	// MessageCancel is the outbound request to stop an in-flight prediction.
	MessageCancel MessageType = "cancel"
	// MessageUpdate carries a preprocessing progress update (status step,
	// citation block, debug block) for an in-flight request.
	MessageUpdate MessageType = "update"
)

type (
	// Message is one element of the channel message union. Concrete types
	// carry the payload for their MessageType.
	Message interface {
		// MessageType returns the wire discriminator for this message.
		MessageType() MessageType
	}

	// Fragment is an inbound incremental piece of generated text. Ordering is
	// the arrival order on the channel; fragments are never reordered or
	// merged by the SDK.
	Fragment struct {
		// Content is the generated text of this fragment.
		Content string `json:"content,omitempty"`
		// TokenCount is the number of tokens the fragment represents, when
		// the server reports it.
		TokenCount int `json:"tokenCount,omitempty"`
	}

	// Success is the inbound terminal message of a successful prediction.
	// Stats and ModelInfo are kept as raw JSON: the predict layer owns their
	// schema and decoding them here would duplicate it.
	Success struct {
		Stats     json.RawMessage `json:"stats,omitempty"`
		ModelInfo json.RawMessage `json:"modelInfo,omitempty"`
	}

	// Canceled is the inbound terminal message of a prediction the server
	// stopped in response to a cancel request.
	Canceled struct{}

	// Error is the inbound terminal message of a failed prediction.
	Error struct {
		Title string `json:"title,omitempty"`
		Code  string `json:"code,omitempty"`
	}

	// Cancel is the outbound request to stop an in-flight prediction. The
	// channel stays open until the server answers with a terminal message.
	Cancel struct{}

	// Update is an outbound preprocessing progress update. Payload is the
	// already-encoded update envelope produced by the preprocess package.
	Update struct {
		Payload json.RawMessage `json:"update,omitempty"`
	}
)

// MessageType implements Message.
func (Fragment) MessageType() MessageType { return MessageFragment }

// MessageType implements Message.
func (Success) MessageType() MessageType { return MessageSuccess }

// MessageType implements Message.
func (Canceled) MessageType() MessageType { return MessageCanceled }

// MessageType implements Message.
func (Error) MessageType() MessageType { return MessageError }

// MessageType implements Message.
func (Cancel) MessageType() MessageType { return MessageCancel }

// MessageType implements Message.
func (Update) MessageType() MessageType { return MessageUpdate }

// envelope is the wire form of a channel message: the payload fields flattened
// next to a "type" discriminator.
type envelope struct {
	Type MessageType `json:"type"`
	Fragment
	Success
	Error
	Update
}

// EncodeMessage serializes a channel message into its wire envelope.
func EncodeMessage(msg Message) ([]byte, error) {
	env := envelope{Type: msg.MessageType()}
	switch m := msg.(type) {
	case Fragment:
		env.Fragment = m
	case Success:
		env.Success = m
	case Error:
		env.Error = m
	case Update:
		env.Update = m
	case Canceled, Cancel:
		// Discriminator only.
	default:
		return nil, fmt.Errorf("rpc: unknown message type %T", msg)
	}
	return json.Marshal(env)
}

// DecodeMessage parses a wire envelope into its typed channel message.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("rpc: decode channel message: %w", err)
	}
	switch env.Type {
	case MessageFragment:
		return env.Fragment, nil
	case MessageSuccess:
		return env.Success, nil
	case MessageCanceled:
		return Canceled{}, nil
	case MessageError:
		return env.Error, nil
	case MessageCancel:
		return Cancel{}, nil
	case MessageUpdate:
		return env.Update, nil
	default:
		return nil, fmt.Errorf("rpc: unknown channel message type %q", env.Type)
	}
}
