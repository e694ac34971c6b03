// Package inlet is the Go SDK for the Inlet local model-inference server. A
// Client connects to the server over its WebSocket RPC protocol and hands out
// model handles; predictions stream back as fragment sequences that can also
// be awaited as a single result. See the llm and preprocess packages for the
// prediction and prompt-preprocessing surfaces.
package inlet

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/inletai/inlet-go/config"
	"github.com/inletai/inlet-go/llm"
	"github.com/inletai/inlet-go/rpc"
	"github.com/inletai/inlet-go/rpc/ws"
	"github.com/inletai/inlet-go/telemetry"
)

type (
	// Client is a connection to one Inlet server.
	Client struct {
		endpoint rpc.Endpoint
		logger   telemetry.Logger
		metrics  *telemetry.PredictionMetrics
	}

	// Options configures a Client.
	Options struct {
		// Config is the client configuration. Zero value uses
		// config.Default().
		Config config.Config
		// Logger receives SDK log entries. Defaults to the clue-backed
		// logger.
		Logger telemetry.Logger
		// Endpoint overrides the transport. Tests substitute an in-memory
		// endpoint here; when set, Config.ServerURL is ignored and no
		// connection is dialed.
		Endpoint rpc.Endpoint
	}
)

// Connect establishes a connection to the server and returns a Client.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg.ServerURL == "" {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewClueLogger()
	}
	endpoint := opts.Endpoint
	if endpoint == nil {
		dialCtx := ctx
		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
		}
		limit := rate.NewLimiter(rate.Limit(float64(cfg.DialsPerMinute)/60), cfg.DialsPerMinute)
		ep, err := ws.Dial(dialCtx, cfg.ServerURL, ws.Options{
			Logger:    logger,
			DialLimit: limit,
		})
		if err != nil {
			return nil, err
		}
		endpoint = ep
	}
	logger.Info(ctx, "connected", "server_url", cfg.ServerURL)
	return &Client{
		endpoint: endpoint,
		logger:   logger,
		metrics:  telemetry.NewPredictionMetrics(),
	}, nil
}

// Model returns a handle on the loaded model with the given instance
// identifier.
func (c *Client) Model(ctx context.Context, identifier string) (*llm.Model, error) {
	var desc llm.ModelDescriptor
	params := map[string]string{"identifier": identifier}
	if err := c.endpoint.Call(ctx, "getModelInfo", params, &desc); err != nil {
		return nil, fmt.Errorf("inlet: look up model %q: %w", identifier, err)
	}
	return llm.NewModel(c.endpoint, desc, llm.ModelOptions{
		Logger:  c.logger,
		Metrics: c.metrics,
	}), nil
}

// ListLoadedModels returns the descriptors of all models currently loaded on
// the server.
func (c *Client) ListLoadedModels(ctx context.Context) ([]llm.ModelDescriptor, error) {
	var descs []llm.ModelDescriptor
	if err := c.endpoint.Call(ctx, "listLoadedModels", struct{}{}, &descs); err != nil {
		return nil, fmt.Errorf("inlet: list loaded models: %w", err)
	}
	return descs, nil
}

// Close tears down the connection. In-flight predictions fail with the close
// reason.
func (c *Client) Close(ctx context.Context) error {
	return c.endpoint.Close(ctx)
}
