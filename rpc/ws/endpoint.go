// Package ws implements the rpc.Endpoint contract over the Inlet server's
// WebSocket protocol. Every frame is a JSON envelope; channels are multiplexed
// over the connection by integer channel ID and unary calls by call ID. A
// single reader goroutine dispatches inbound frames, so handlers of one
// channel always observe its messages in delivery order.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/inletai/inlet-go/events"
	"github.com/inletai/inlet-go/rpc"
	"github.com/inletai/inlet-go/telemetry"
)

type (
	// Options configures a WebSocket endpoint.
	Options struct {
		// Logger receives transport-level log entries. Defaults to a no-op
		// logger.
		Logger telemetry.Logger
		// DialLimit bounds how often Dial may attempt a connection, shared
		// across reconnecting callers. Nil means unlimited.
		DialLimit *rate.Limiter
		// Dialer is the underlying WebSocket dialer. Defaults to
		// websocket.DefaultDialer.
		Dialer *websocket.Dialer
	}

	// Endpoint is a WebSocket-backed rpc.Endpoint. Construct with Dial.
	Endpoint struct {
		conn   *websocket.Conn
		logger telemetry.Logger

		writeMu sync.Mutex

		mu       sync.Mutex
		channels map[uint64]*channel
		calls    map[uint64]chan callResult
		closed   bool

		nextChannel atomic.Uint64
		nextCall    atomic.Uint64
	}

	// channel is one multiplexed operation on the connection.
	channel struct {
		id        uint64
		endpoint  *Endpoint
		onMessage func(rpc.Message)
		errEvent  *events.Once[error]
		failErr   func(error)
	}

	callResult struct {
		result json.RawMessage
		err    error
	}

	// clientEnvelope is the wire form of client-to-server frames.
	clientEnvelope struct {
		Type      string          `json:"type"`
		ChannelID uint64          `json:"channelId,omitempty"`
		CallID    uint64          `json:"callId,omitempty"`
		Operation string          `json:"operation,omitempty"`
		Method    string          `json:"method,omitempty"`
		Creation  json.RawMessage `json:"creationParameter,omitempty"`
		Parameter json.RawMessage `json:"parameter,omitempty"`
		Message   json.RawMessage `json:"message,omitempty"`
	}

	// serverEnvelope is the wire form of server-to-client frames.
	serverEnvelope struct {
		Type      string          `json:"type"`
		ChannelID uint64          `json:"channelId,omitempty"`
		CallID    uint64          `json:"callId,omitempty"`
		Message   json.RawMessage `json:"message,omitempty"`
		Result    json.RawMessage `json:"result,omitempty"`
		Error     *wireError      `json:"error,omitempty"`
	}

	wireError struct {
		Title string `json:"title"`
		Code  string `json:"code,omitempty"`
	}
)

// Frame type discriminators of the connection protocol.
const (
	frameChannelCreate = "channelCreate"
	frameChannelSend   = "channelSend"
	frameChannelClose  = "channelClose"
	frameChannelError  = "channelError"
	frameRPCCall       = "rpcCall"
	frameRPCResult     = "rpcResult"
	frameRPCError      = "rpcError"
)

// ErrEndpointClosed is returned by operations on a closed endpoint.
var ErrEndpointClosed = errors.New("ws: endpoint closed")

// Dial connects to the server at the given WebSocket URL and starts the frame
// dispatch loop. The connection attempt honors opts.DialLimit.
func Dial(ctx context.Context, url string, opts Options) (*Endpoint, error) {
	if opts.Logger == nil {
		opts.Logger = telemetry.NopLogger{}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.DialLimit != nil {
		if err := opts.DialLimit.Wait(ctx); err != nil {
			return nil, fmt.Errorf("ws: dial rate limit: %w", err)
		}
	}
	conn, resp, err := opts.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}
	e := &Endpoint{
		conn:     conn,
		logger:   opts.Logger,
		channels: make(map[uint64]*channel),
		calls:    make(map[uint64]chan callResult),
	}
	go e.readLoop()
	return e, nil
}

// OpenChannel implements rpc.Endpoint.
func (e *Endpoint) OpenChannel(ctx context.Context, operation string, creation any, onMessage func(rpc.Message)) (rpc.Channel, error) {
	raw, err := json.Marshal(creation)
	if err != nil {
		return nil, fmt.Errorf("ws: marshal creation payload: %w", err)
	}
	errEvent, failErr := rpc.NewErrorEvent()
	ch := &channel{
		id:        e.nextChannel.Add(1),
		endpoint:  e,
		onMessage: onMessage,
		errEvent:  errEvent,
		failErr:   failErr,
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEndpointClosed
	}
	e.channels[ch.id] = ch
	e.mu.Unlock()

	env := clientEnvelope{
		Type:      frameChannelCreate,
		ChannelID: ch.id,
		Operation: operation,
		Creation:  raw,
	}
	if err := e.write(env); err != nil {
		e.removeChannel(ch.id)
		return nil, err
	}
	e.logger.Debug(ctx, "channel opened", "operation", operation, "channel_id", ch.id)
	return ch, nil
}

// Call implements rpc.Endpoint.
func (e *Endpoint) Call(ctx context.Context, method string, params, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("ws: marshal call params: %w", err)
	}
	id := e.nextCall.Add(1)
	resCh := make(chan callResult, 1)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEndpointClosed
	}
	e.calls[id] = resCh
	e.mu.Unlock()

	env := clientEnvelope{
		Type:      frameRPCCall,
		CallID:    id,
		Method:    method,
		Parameter: raw,
	}
	if err := e.write(env); err != nil {
		e.removeCall(id)
		return err
	}
	select {
	case <-ctx.Done():
		e.removeCall(id)
		return ctx.Err()
	case res := <-resCh:
		if res.err != nil {
			return res.err
		}
		if out == nil || res.result == nil {
			return nil
		}
		if err := json.Unmarshal(res.result, out); err != nil {
			return fmt.Errorf("ws: decode %s result: %w", method, err)
		}
		return nil
	}
}

// Close implements rpc.Endpoint. Open channels fail their error events and
// pending calls return ErrEndpointClosed.
func (e *Endpoint) Close(ctx context.Context) error {
	e.fail(ErrEndpointClosed)
	e.logger.Debug(ctx, "endpoint closed")
	return e.conn.Close()
}

func (e *Endpoint) readLoop() {
	for {
		_, data, err := e.conn.ReadMessage()
		if err != nil {
			e.fail(fmt.Errorf("ws: connection lost: %w", err))
			return
		}
		e.dispatch(data)
	}
}

func (e *Endpoint) dispatch(data []byte) {
	ctx := context.Background()
	var env serverEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		e.logger.Warn(ctx, "dropping malformed frame", "err", err.Error())
		return
	}
	switch env.Type {
	case frameChannelSend:
		ch := e.channel(env.ChannelID)
		if ch == nil {
			e.logger.Warn(ctx, "message for unknown channel", "channel_id", env.ChannelID)
			return
		}
		msg, err := rpc.DecodeMessage(env.Message)
		if err != nil {
			ch.failErr(err)
			e.removeChannel(env.ChannelID)
			return
		}
		ch.onMessage(msg)
	case frameChannelError:
		if ch := e.channel(env.ChannelID); ch != nil {
			ch.failErr(serverError(env.Error))
			e.removeChannel(env.ChannelID)
		}
	case frameChannelClose:
		e.removeChannel(env.ChannelID)
	case frameRPCResult:
		if resCh := e.takeCall(env.CallID); resCh != nil {
			resCh <- callResult{result: env.Result}
		}
	case frameRPCError:
		if resCh := e.takeCall(env.CallID); resCh != nil {
			resCh <- callResult{err: serverError(env.Error)}
		}
	default:
		e.logger.Warn(ctx, "unknown frame type", "type", env.Type)
	}
}

// fail marks the endpoint closed and propagates err to every open channel and
// pending call. Idempotent.
func (e *Endpoint) fail(err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	channels := e.channels
	calls := e.calls
	e.channels = make(map[uint64]*channel)
	e.calls = make(map[uint64]chan callResult)
	e.mu.Unlock()
	for _, ch := range channels {
		ch.failErr(err)
	}
	for _, resCh := range calls {
		resCh <- callResult{err: err}
	}
}

func (e *Endpoint) write(env clientEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ws: marshal frame: %w", err)
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("ws: write frame: %w", err)
	}
	return nil
}

func (e *Endpoint) channel(id uint64) *channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channels[id]
}

func (e *Endpoint) removeChannel(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.channels, id)
}

func (e *Endpoint) takeCall(id uint64) chan callResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	resCh := e.calls[id]
	delete(e.calls, id)
	return resCh
}

func (e *Endpoint) removeCall(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.calls, id)
}

// Send implements rpc.Channel.
func (c *channel) Send(_ context.Context, msg rpc.Message) error {
	raw, err := rpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return c.endpoint.write(clientEnvelope{
		Type:      frameChannelSend,
		ChannelID: c.id,
		Message:   raw,
	})
}

// OnError implements rpc.Channel.
func (c *channel) OnError(handler func(error)) {
	c.errEvent.Subscribe(handler)
}

// Close implements rpc.Channel.
func (c *channel) Close() error {
	c.endpoint.removeChannel(c.id)
	return c.endpoint.write(clientEnvelope{Type: frameChannelClose, ChannelID: c.id})
}

func serverError(we *wireError) error {
	if we == nil {
		return &rpc.ServerError{Title: "unknown server error"}
	}
	return &rpc.ServerError{Title: we.Title, Code: we.Code}
}
