package preprocess

import (
	"context"
	"errors"

	"github.com/inletai/inlet-go/rpc"
)

// ChannelSink writes updates onto the rpc channel of the request being
// preprocessed. This is the production sink: the server relays the updates to
// the host UI rendering the request.
type ChannelSink struct {
	channel rpc.Channel
}

// NewChannelSink constructs a sink writing to the given channel.
func NewChannelSink(channel rpc.Channel) (*ChannelSink, error) {
	if channel == nil {
		return nil, errors.New("preprocess: channel is required")
	}
	return &ChannelSink{channel: channel}, nil
}

// Send implements UpdateSink.
func (s *ChannelSink) Send(ctx context.Context, update Update) error {
	raw, err := EncodeUpdate(update)
	if err != nil {
		return err
	}
	return s.channel.Send(ctx, rpc.Update{Payload: raw})
}

// multiSink fans one update out to several sinks.
type multiSink []UpdateSink

// MultiSink combines sinks into one that delivers every update to each of
// them in order, stopping at the first failure. Used to publish the same
// update stream to the request channel and to out-of-process observers.
func MultiSink(sinks ...UpdateSink) UpdateSink {
	return multiSink(sinks)
}

// Send implements UpdateSink.
func (m multiSink) Send(ctx context.Context, update Update) error {
	for _, s := range m {
		if err := s.Send(ctx, update); err != nil {
			return err
		}
	}
	return nil
}
