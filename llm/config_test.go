package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	f64 := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }

	cases := []struct {
		name  string
		cfg   *Config
		param string
	}{
		{name: "nil config", cfg: nil},
		{name: "zero config", cfg: &Config{}},
		{name: "all fields valid", cfg: &Config{
			Temperature:           f64(0.8),
			MaxPredictedTokens:    i(256),
			TopP:                  f64(0.9),
			TopK:                  i(40),
			RepeatPenalty:         f64(1.1),
			ContextOverflowPolicy: "rollingWindow",
			StopStrings:           []string{"\n\n"},
		}},
		{name: "temperature above maximum", cfg: &Config{Temperature: f64(2.5)}, param: "temperature"},
		{name: "negative temperature", cfg: &Config{Temperature: f64(-0.1)}, param: "temperature"},
		{name: "zero max tokens", cfg: &Config{MaxPredictedTokens: i(0)}, param: "maxPredictedTokens"},
		{name: "topP at exclusive minimum", cfg: &Config{TopP: f64(0)}, param: "topPSampling"},
		{name: "topP above one", cfg: &Config{TopP: f64(1.5)}, param: "topPSampling"},
		{name: "zero topK", cfg: &Config{TopK: i(0)}, param: "topKSampling"},
		{name: "negative repeat penalty", cfg: &Config{RepeatPenalty: f64(-1)}, param: "repeatPenalty"},
		{name: "unknown overflow policy", cfg: &Config{ContextOverflowPolicy: "explode"}, param: "contextOverflowPolicy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.param == "" {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.param, verr.Param)
		})
	}
}

func TestConfigWireShape(t *testing.T) {
	raw, err := json.Marshal(Config{})
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))

	// Template fields always serialize so the server sees explicit values;
	// everything else is omitted when unset.
	require.Contains(t, fields, "stopStrings")
	require.Contains(t, fields, "inputPrefix")
	require.Contains(t, fields, "inputSuffix")
	require.NotContains(t, fields, "temperature")
	require.NotContains(t, fields, "topPSampling")
	require.JSONEq(t, `null`, string(fields["stopStrings"]))

	raw, err = json.Marshal(Config{StopStrings: []string{}})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &fields))
	require.JSONEq(t, `[]`, string(fields["stopStrings"]))
}

func TestStructuredOutputValidate(t *testing.T) {
	require.NoError(t, (*StructuredOutput)(nil).Validate())
	require.NoError(t, (&StructuredOutput{
		Schema: json.RawMessage(`{"type":"object","properties":{"answer":{"type":"string"}}}`),
	}).Validate())

	var verr *ValidationError
	err := (&StructuredOutput{}).Validate()
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "structuredOutput.schema", verr.Param)

	err = (&StructuredOutput{Schema: json.RawMessage(`{"type":`)}).Validate()
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "structuredOutput.schema", verr.Param)
}
