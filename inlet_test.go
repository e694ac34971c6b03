package inlet

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inletai/inlet-go/config"
	"github.com/inletai/inlet-go/rpc"
	"github.com/inletai/inlet-go/rpc/rpctest"
)

func TestConnectRejectsInvalidConfig(t *testing.T) {
	_, err := Connect(context.Background(), Options{
		Config: config.Config{ServerURL: "http://not-a-ws-url"},
	})
	require.Error(t, err)
}

func TestClientModelLookup(t *testing.T) {
	endpoint := rpctest.NewEndpoint()
	endpoint.HandleCall("getModelInfo", func(params json.RawMessage) (any, error) {
		var p map[string]string
		require.NoError(t, json.Unmarshal(params, &p))
		require.Equal(t, "llama-3-8b", p["identifier"])
		return map[string]any{
			"identifier":    "llama-3-8b",
			"architecture":  "llama",
			"contextLength": 8192,
		}, nil
	})

	client, err := Connect(context.Background(), Options{Endpoint: endpoint})
	require.NoError(t, err)

	model, err := client.Model(context.Background(), "llama-3-8b")
	require.NoError(t, err)
	desc := model.Descriptor()
	require.Equal(t, "llama-3-8b", desc.Identifier)
	require.Equal(t, "llama", desc.Architecture)
	require.Equal(t, 8192, desc.ContextLength)
}

func TestClientListLoadedModels(t *testing.T) {
	endpoint := rpctest.NewEndpoint()
	endpoint.HandleCall("listLoadedModels", func(json.RawMessage) (any, error) {
		return []map[string]any{
			{"identifier": "llama-3-8b"},
			{"identifier": "qwen-2.5-7b"},
		}, nil
	})

	client, err := Connect(context.Background(), Options{Endpoint: endpoint})
	require.NoError(t, err)

	descs, err := client.ListLoadedModels(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 2)
	require.Equal(t, "qwen-2.5-7b", descs[1].Identifier)
}

func TestClientEndToEndPrediction(t *testing.T) {
	endpoint := rpctest.NewEndpoint()
	endpoint.HandleCall("getModelInfo", func(json.RawMessage) (any, error) {
		return map[string]string{"identifier": "llama-3-8b"}, nil
	})

	client, err := Connect(context.Background(), Options{Endpoint: endpoint})
	require.NoError(t, err)
	model, err := client.Model(context.Background(), "llama-3-8b")
	require.NoError(t, err)

	p, err := model.Complete(context.Background(), "2+2=", nil)
	require.NoError(t, err)

	ch := endpoint.LastChannel()
	ch.Deliver(rpc.Fragment{Content: "4"})
	ch.Deliver(rpc.Success{Stats: json.RawMessage(`{"tokensPerSecond":10}`)})

	res, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "4", res.Content)
}
