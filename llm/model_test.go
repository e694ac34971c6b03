package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inletai/inlet-go/rpc"
	"github.com/inletai/inlet-go/rpc/rpctest"
)

func newTestModel(t *testing.T) (*Model, *rpctest.Endpoint) {
	t.Helper()
	endpoint := rpctest.NewEndpoint()
	model := NewModel(endpoint, ModelDescriptor{Identifier: "llama-3-8b"}, ModelOptions{})
	return model, endpoint
}

func TestCompleteScenario(t *testing.T) {
	model, endpoint := newTestModel(t)
	ctx := context.Background()

	p, err := model.Complete(ctx, "2+2=", nil)
	require.NoError(t, err)

	ch := endpoint.LastChannel()
	require.NotNil(t, ch)
	require.Equal(t, "predict", ch.Operation)

	// Template-specific fields are forcibly cleared for completions.
	var args struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		Config struct {
			StopStrings []string `json:"stopStrings"`
			InputPrefix string   `json:"inputPrefix"`
			InputSuffix string   `json:"inputSuffix"`
		} `json:"config"`
	}
	require.NoError(t, json.Unmarshal(ch.Creation, &args))
	require.Equal(t, "llama-3-8b", args.Model)
	require.Equal(t, "2+2=", args.Prompt)
	require.NotNil(t, args.Config.StopStrings)
	require.Empty(t, args.Config.StopStrings)
	require.Equal(t, "", args.Config.InputPrefix)
	require.Equal(t, "", args.Config.InputSuffix)

	ch.Deliver(rpc.Fragment{Content: "4"})
	ch.Deliver(rpc.Success{Stats: json.RawMessage(`{"tokensPerSecond":10}`)})

	res, err := p.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "4", res.Content)
	require.Equal(t, float64(10), res.Stats.TokensPerSecond)
	require.Equal(t, "llama-3-8b", res.Model.Identifier)
}

func TestCompleteKeepsExplicitStopStrings(t *testing.T) {
	model, endpoint := newTestModel(t)
	_, err := model.Complete(context.Background(), "count: ", &PredictionOptions{
		Config: &Config{StopStrings: []string{"\n"}},
	})
	require.NoError(t, err)

	var args struct {
		Config Config `json:"config"`
	}
	require.NoError(t, json.Unmarshal(endpoint.LastChannel().Creation, &args))
	require.Equal(t, []string{"\n"}, args.Config.StopStrings)
}

func TestRespondPassesConfigThrough(t *testing.T) {
	model, endpoint := newTestModel(t)
	chat := NewChat("be brief").AddUserMessage("hello")
	temp := 0.7
	_, err := model.Respond(context.Background(), chat, &PredictionOptions{
		Config: &Config{Temperature: &temp, InputPrefix: "<user>"},
	})
	require.NoError(t, err)

	var args struct {
		Messages []ChatMessage `json:"messages"`
		Config   Config        `json:"config"`
	}
	require.NoError(t, json.Unmarshal(endpoint.LastChannel().Creation, &args))
	require.Len(t, args.Messages, 2)
	require.Equal(t, RoleSystem, args.Messages[0].Role)
	require.Equal(t, "hello", args.Messages[1].Content)
	require.Equal(t, "<user>", args.Config.InputPrefix)
	require.NotNil(t, args.Config.Temperature)
	require.Equal(t, 0.7, *args.Config.Temperature)
}

func TestValidationRejectsBeforeChannelTraffic(t *testing.T) {
	model, endpoint := newTestModel(t)
	temp := 3.5
	_, err := model.Complete(context.Background(), "hi", &PredictionOptions{
		Config: &Config{Temperature: &temp},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "temperature", verr.Param)
	require.Empty(t, endpoint.Channels(), "no channel may be opened for invalid input")
}

func TestRespondRejectsEmptyChat(t *testing.T) {
	model, endpoint := newTestModel(t)
	_, err := model.Respond(context.Background(), &Chat{}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "chat", verr.Param)
	require.Empty(t, endpoint.Channels())
}

func TestReleasedModelRejectsPredictions(t *testing.T) {
	model, endpoint := newTestModel(t)
	endpoint.HandleCall("unloadModel", func(json.RawMessage) (any, error) { return nil, nil })
	require.NoError(t, model.Release(context.Background()))
	require.NoError(t, model.Release(context.Background()), "release is idempotent")

	_, err := model.Complete(context.Background(), "hi", nil)
	require.ErrorIs(t, err, ErrModelReleased)
	_, err = model.Respond(context.Background(), NewChat("").AddUserMessage("hi"), nil)
	require.ErrorIs(t, err, ErrModelReleased)
	require.Empty(t, endpoint.Channels())
}

func TestCancelForwardsOnChannel(t *testing.T) {
	model, endpoint := newTestModel(t)
	p, err := model.Complete(context.Background(), "hi", nil)
	require.NoError(t, err)

	ch := endpoint.LastChannel()
	p.Cancel()
	sent := ch.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, rpc.MessageCancel, sent[0].MessageType())

	// The prediction stays pending until the server acknowledges.
	require.Equal(t, StatePending, p.State())
	ch.Deliver(rpc.Canceled{})
	_, err = p.Wait(context.Background())
	require.ErrorIs(t, err, ErrCanceled)
}

func TestContextCancellationRequestsStop(t *testing.T) {
	model, endpoint := newTestModel(t)
	ctx, cancel := context.WithCancel(context.Background())
	p, err := model.Complete(ctx, "hi", nil)
	require.NoError(t, err)

	ch := endpoint.LastChannel()
	cancel()
	require.Eventually(t, func() bool {
		return len(ch.Sent()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, rpc.MessageCancel, ch.Sent()[0].MessageType())

	ch.Deliver(rpc.Canceled{})
	_, err = p.Wait(context.Background())
	require.ErrorIs(t, err, ErrCanceled)
}

func TestChannelErrorFailsPrediction(t *testing.T) {
	model, endpoint := newTestModel(t)
	p, err := model.Complete(context.Background(), "hi", nil)
	require.NoError(t, err)

	boom := errors.New("connection lost")
	endpoint.LastChannel().Fail(boom)
	_, err = p.Wait(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestServerErrorMessageFailsPrediction(t *testing.T) {
	model, endpoint := newTestModel(t)
	p, err := model.Complete(context.Background(), "hi", nil)
	require.NoError(t, err)

	endpoint.LastChannel().Deliver(rpc.Error{Title: "model crashed", Code: "engine.crash"})
	_, err = p.Wait(context.Background())
	var serr *rpc.ServerError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "model crashed", serr.Title)
	require.Equal(t, "engine.crash", serr.Code)
}

func TestSuccessModelInfoOverridesDescriptor(t *testing.T) {
	model, endpoint := newTestModel(t)
	p, err := model.Complete(context.Background(), "hi", nil)
	require.NoError(t, err)

	ch := endpoint.LastChannel()
	ch.Deliver(rpc.Fragment{Content: "ok"})
	ch.Deliver(rpc.Success{
		Stats:     json.RawMessage(`{"stopReason":"eosFound","predictedTokensCount":2}`),
		ModelInfo: json.RawMessage(`{"identifier":"llama-3-8b","architecture":"llama","contextLength":8192}`),
	})

	res, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "eosFound", res.Stats.StopReason)
	require.Equal(t, "llama", res.Model.Architecture)
	require.Equal(t, 8192, res.Model.ContextLength)
}
