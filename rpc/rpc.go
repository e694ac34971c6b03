// Package rpc defines the transport boundary of the SDK. An Endpoint exposes
// the two interaction shapes the Inlet server protocol offers: long-running
// channels scoped to a single operation (streaming predictions, preprocessing
// sessions) and unary calls (model lookup, listings). The package also defines
// the typed message union exchanged on predict channels.
//
// Implementations live in subpackages: rpc/ws speaks the production WebSocket
// protocol, rpc/rpctest provides a scriptable in-memory endpoint for tests.
package rpc

import (
	"context"
	"fmt"

	"github.com/inletai/inlet-go/events"
)

type (
	// Endpoint is a connection to one server namespace. It is safe for
	// concurrent use; each OpenChannel call creates an independent channel
	// that is never shared with another operation.
	Endpoint interface {
		// OpenChannel starts the named long-running operation with the given
		// creation payload and registers onMessage to receive every inbound
		// message for the channel, in the exact order the transport delivered
		// them. The returned Channel is exclusively owned by the caller.
		//
		// onMessage is invoked from a single goroutine per channel; handlers
		// never observe two messages of the same channel concurrently or out
		// of order.
		OpenChannel(ctx context.Context, operation string, creation any, onMessage func(Message)) (Channel, error)

		// Call performs a unary RPC and decodes the result into out, which
		// must be a pointer. Pass nil to discard the result.
		Call(ctx context.Context, method string, params, out any) error

		// Close tears down the connection. All open channels fail their
		// error events with the close reason.
		Close(ctx context.Context) error
	}

	// Channel is one side of a scoped, typed, bidirectional message stream
	// associated with a single long-running operation.
	Channel interface {
		// Send transmits an outbound message on the channel.
		Send(ctx context.Context, msg Message) error

		// OnError registers a handler for the channel's one-shot error event.
		// The handler fires at most once, with the transport- or server-level
		// error that ended the channel, regardless of whether registration
		// happened before or after the failure.
		OnError(handler func(error))

		// Close releases the channel without sending further messages.
		Close() error
	}
)

// ServerError is an error reported by the server for a channel or call.
type ServerError struct {
	// Title is the human-readable error description sent by the server.
	Title string
	// Code is the stable machine-readable error code, when provided.
	Code string
}

// Error implements error.
func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inlet server: %s (%s)", e.Title, e.Code)
	}
	return fmt.Sprintf("inlet server: %s", e.Title)
}

// NewErrorEvent builds the one-shot error event backing Channel.OnError
// implementations. Shared by the ws and rpctest endpoints.
func NewErrorEvent() (*events.Once[error], func(error)) {
	return events.NewOnce[error]()
}
