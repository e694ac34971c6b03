// Package rpctest provides an in-memory rpc.Endpoint for tests. The server
// side is scripted: tests deliver inbound messages, fail channels, and answer
// unary calls, while recorded outbound traffic is available for assertions.
package rpctest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/inletai/inlet-go/events"
	"github.com/inletai/inlet-go/rpc"
)

type (
	// Endpoint is a fake rpc.Endpoint. It records every opened channel and
	// dispatches unary calls to registered handlers.
	Endpoint struct {
		mu       sync.Mutex
		channels []*Channel
		calls    map[string]CallHandler
		closed   bool
	}

	// CallHandler answers one unary method. The returned value is serialized
	// into the caller's out parameter.
	CallHandler func(params json.RawMessage) (any, error)

	// Channel is the test-visible side of an opened channel. Tests script the
	// server by calling Deliver and Fail; the code under test holds the same
	// value through the rpc.Channel interface.
	Channel struct {
		// Operation is the operation name the channel was opened with.
		Operation string
		// Creation is the serialized creation payload.
		Creation json.RawMessage

		endpoint  *Endpoint
		onMessage func(rpc.Message)

		mu     sync.Mutex
		sent   []rpc.Message
		closed bool

		errEvent *events.Once[error]
		failErr  func(error)
	}
)

// NewEndpoint constructs an empty fake endpoint.
func NewEndpoint() *Endpoint {
	return &Endpoint{calls: make(map[string]CallHandler)}
}

// HandleCall registers the handler answering the named unary method.
func (e *Endpoint) HandleCall(method string, h CallHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[method] = h
}

// Channels returns the channels opened so far, in creation order.
func (e *Endpoint) Channels() []*Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Channel(nil), e.channels...)
}

// LastChannel returns the most recently opened channel, or nil.
func (e *Endpoint) LastChannel() *Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.channels) == 0 {
		return nil
	}
	return e.channels[len(e.channels)-1]
}

// OpenChannel implements rpc.Endpoint.
func (e *Endpoint) OpenChannel(_ context.Context, operation string, creation any, onMessage func(rpc.Message)) (rpc.Channel, error) {
	raw, err := json.Marshal(creation)
	if err != nil {
		return nil, fmt.Errorf("rpctest: marshal creation payload: %w", err)
	}
	errEvent, failErr := rpc.NewErrorEvent()
	ch := &Channel{
		Operation: operation,
		Creation:  raw,
		endpoint:  e,
		onMessage: onMessage,
		errEvent:  errEvent,
		failErr:   failErr,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("rpctest: endpoint closed")
	}
	e.channels = append(e.channels, ch)
	return ch, nil
}

// Call implements rpc.Endpoint.
func (e *Endpoint) Call(_ context.Context, method string, params, out any) error {
	e.mu.Lock()
	h, ok := e.calls[method]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("rpctest: no handler for method %q", method)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("rpctest: marshal params: %w", err)
	}
	res, err := h(raw)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	encoded, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("rpctest: marshal result: %w", err)
	}
	return json.Unmarshal(encoded, out)
}

// Close implements rpc.Endpoint.
func (e *Endpoint) Close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Send implements rpc.Channel by recording the outbound message.
func (c *Channel) Send(_ context.Context, msg rpc.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("rpctest: channel closed")
	}
	c.sent = append(c.sent, msg)
	return nil
}

// OnError implements rpc.Channel.
func (c *Channel) OnError(handler func(error)) {
	c.errEvent.Subscribe(handler)
}

// Close implements rpc.Channel.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Deliver scripts an inbound server message. The registered message handler
// runs synchronously on the calling goroutine, mirroring the per-channel
// single-writer dispatch of the production transport.
func (c *Channel) Deliver(msg rpc.Message) {
	c.onMessage(msg)
}

// Fail fires the channel's one-shot error event.
func (c *Channel) Fail(err error) {
	c.failErr(err)
}

// Sent returns the outbound messages recorded so far, in send order.
func (c *Channel) Sent() []rpc.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]rpc.Message(nil), c.sent...)
}
