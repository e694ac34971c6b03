package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/inletai/inlet-go/features/stream/pulse/clients/pulse"
	"github.com/inletai/inlet-go/preprocess"
)

type (
	// fakeClient implements clientspulse.Client over scripted streams.
	fakeClient struct {
		stream   func(name string) (clientspulse.Stream, error)
		closed   bool
		closeErr error
	}

	// fakeStream records Add calls and hands out a scripted sink.
	fakeStream struct {
		add     func(ctx context.Context, event string, payload []byte) (string, error)
		newSink func(ctx context.Context, name string) (clientspulse.Sink, error)
	}

	// fakeSink feeds events from a channel.
	fakeSink struct {
		ch     chan *streaming.Event
		mu     sync.Mutex
		acked  []string
		ackErr error
	}
)

func (c *fakeClient) Stream(name string) (clientspulse.Stream, error) { return c.stream(name) }

func (c *fakeClient) Close(context.Context) error {
	c.closed = true
	return c.closeErr
}

func (s *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	return s.add(ctx, event, payload)
}

func (s *fakeStream) NewSink(ctx context.Context, name string, _ ...streamopts.Sink) (clientspulse.Sink, error) {
	return s.newSink(ctx, name)
}

func (s *fakeStream) Destroy(context.Context) error { return nil }

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.ch }

func (s *fakeSink) Ack(_ context.Context, ev *streaming.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ackErr != nil {
		return s.ackErr
	}
	s.acked = append(s.acked, ev.ID)
	return nil
}

func (s *fakeSink) ackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

func (s *fakeSink) Close(context.Context) {}

func TestSendPublishesEnvelope(t *testing.T) {
	var gotName string
	str := &fakeStream{
		add: func(_ context.Context, event string, payload []byte) (string, error) {
			require.Equal(t, "status.create", event)
			var env envelope
			require.NoError(t, json.Unmarshal(payload, &env))
			require.Equal(t, "req-123", env.RequestID)
			require.Equal(t, "status.create", env.Type)
			require.False(t, env.Timestamp.IsZero())
			update, err := preprocess.DecodeUpdate(env.Payload)
			require.NoError(t, err)
			create, ok := update.(preprocess.StatusCreate)
			require.True(t, ok)
			require.Equal(t, "searching", create.Text)
			return "1-0", nil
		},
	}
	cli := &fakeClient{stream: func(name string) (clientspulse.Stream, error) {
		gotName = name
		return str, nil
	}}

	sink, err := NewSink(Options{Client: cli, RequestID: "req-123"})
	require.NoError(t, err)
	err = sink.Send(context.Background(), preprocess.StatusCreate{
		ID:    "s1",
		State: preprocess.StepLoading,
		Text:  "searching",
	})
	require.NoError(t, err)
	require.Equal(t, "request/req-123", gotName)
}

func TestSinkRequiresClientAndRequest(t *testing.T) {
	_, err := NewSink(Options{RequestID: "req-1"})
	require.EqualError(t, err, "pulse client is required")
	_, err = NewSink(Options{Client: &fakeClient{}})
	require.EqualError(t, err, "request id is required")
}

func TestCustomStreamID(t *testing.T) {
	var gotName string
	str := &fakeStream{add: func(context.Context, string, []byte) (string, error) { return "1-0", nil }}
	cli := &fakeClient{stream: func(name string) (clientspulse.Stream, error) {
		gotName = name
		return str, nil
	}}

	sink, err := NewSink(Options{Client: cli, RequestID: "req-1", StreamID: "observers/all"})
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), preprocess.DebugInfoCreate{ID: "d1", DebugInfo: "x"}))
	require.Equal(t, "observers/all", gotName)
}

func TestStreamCreationError(t *testing.T) {
	cli := &fakeClient{stream: func(string) (clientspulse.Stream, error) {
		return nil, errors.New("boom")
	}}
	sink, err := NewSink(Options{Client: cli, RequestID: "req-1"})
	require.NoError(t, err)
	err = sink.Send(context.Background(), preprocess.DebugInfoCreate{ID: "d1"})
	require.EqualError(t, err, "boom")
}

func TestAddError(t *testing.T) {
	str := &fakeStream{add: func(context.Context, string, []byte) (string, error) {
		return "", errors.New("add-failed")
	}}
	cli := &fakeClient{stream: func(string) (clientspulse.Stream, error) { return str, nil }}
	sink, err := NewSink(Options{Client: cli, RequestID: "req-1"})
	require.NoError(t, err)
	err = sink.Send(context.Background(), preprocess.DebugInfoCreate{ID: "d1"})
	require.EqualError(t, err, "add-failed")
}

func TestCloseDelegates(t *testing.T) {
	cli := &fakeClient{}
	sink, err := NewSink(Options{Client: cli, RequestID: "req-1"})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	require.True(t, cli.closed)
}
