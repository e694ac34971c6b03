package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Config is the per-prediction configuration override. Pointer fields
	// distinguish "unset, use the loaded model's default" from an explicit
	// value. StopStrings, InputPrefix and InputSuffix always appear on the
	// wire: the Complete entry point forcibly clears them so a completion is
	// not silently combined with a loaded prompt template.
	Config struct {
		// Temperature controls sampling randomness. 0 to 2.
		Temperature *float64 `json:"temperature,omitempty"`
		// MaxPredictedTokens caps the number of generated tokens. At least 1.
		MaxPredictedTokens *int `json:"maxPredictedTokens,omitempty"`
		// TopP is the nucleus sampling threshold. Between 0 (exclusive) and 1.
		TopP *float64 `json:"topPSampling,omitempty"`
		// TopK limits sampling to the K most likely tokens. At least 1.
		TopK *int `json:"topKSampling,omitempty"`
		// RepeatPenalty penalizes repeated tokens. At least 0.
		RepeatPenalty *float64 `json:"repeatPenalty,omitempty"`
		// ContextOverflowPolicy tells the server what to do when the
		// conversation no longer fits the context window: "stopAtLimit",
		// "truncateMiddle" or "rollingWindow".
		ContextOverflowPolicy string `json:"contextOverflowPolicy,omitempty"`
		// StopStrings end generation when produced. null means "use the
		// model default"; an empty array disables stop strings explicitly.
		StopStrings []string `json:"stopStrings"`
		// InputPrefix is prepended to the prompt by the loaded template.
		InputPrefix string `json:"inputPrefix"`
		// InputSuffix is appended to the prompt by the loaded template.
		InputSuffix string `json:"inputSuffix"`
	}

	// StructuredOutput constrains the generated text to conform to a JSON
	// Schema. The schema is validated locally before any channel traffic.
	StructuredOutput struct {
		// Schema is the JSON Schema of the expected output.
		Schema json.RawMessage `json:"schema"`
	}

	// ValidationError reports a prediction input that failed schema
	// validation. No channel traffic happens when one is returned.
	ValidationError struct {
		// Param names the offending parameter ("temperature",
		// "stopStrings.2", ...). Empty when the fault is not tied to a single
		// parameter.
		Param string
		// Err is the underlying validation failure.
		Err error
	}
)

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("llm: invalid prediction config: parameter %q: %v", e.Param, e.Err)
	}
	return fmt.Sprintf("llm: invalid prediction config: %v", e.Err)
}

// Unwrap supports errors.Is/As over the underlying failure.
func (e *ValidationError) Unwrap() error { return e.Err }

// configSchema is the JSON Schema every prediction configuration is validated
// against before a channel is opened.
const configSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"temperature": {"type": "number", "minimum": 0, "maximum": 2},
		"maxPredictedTokens": {"type": "integer", "minimum": 1},
		"topPSampling": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
		"topKSampling": {"type": "integer", "minimum": 1},
		"repeatPenalty": {"type": "number", "minimum": 0},
		"contextOverflowPolicy": {"enum": ["stopAtLimit", "truncateMiddle", "rollingWindow"]},
		"stopStrings": {"type": ["array", "null"], "items": {"type": "string"}},
		"inputPrefix": {"type": "string"},
		"inputSuffix": {"type": "string"}
	}
}`

var compileConfigSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(configSchema))
	if err != nil {
		return nil, fmt.Errorf("llm: parse config schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("config.json", doc); err != nil {
		return nil, fmt.Errorf("llm: add config schema resource: %w", err)
	}
	return c.Compile("config.json")
})

// Validate checks the configuration against the prediction config schema. A
// nil receiver is valid (no override).
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	schema, err := compileConfigSchema()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return &ValidationError{Err: err}
	}
	value, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return &ValidationError{Err: err}
	}
	if err := schema.Validate(value); err != nil {
		return &ValidationError{Param: offendingParam(err), Err: err}
	}
	return nil
}

// Validate checks that the structured output schema itself is a valid JSON
// Schema. A nil receiver is valid (free-form output).
func (s *StructuredOutput) Validate() error {
	if s == nil {
		return nil
	}
	if len(s.Schema) == 0 {
		return &ValidationError{Param: "structuredOutput.schema", Err: fmt.Errorf("schema is empty")}
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(s.Schema)))
	if err != nil {
		return &ValidationError{Param: "structuredOutput.schema", Err: err}
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("output.json", doc); err != nil {
		return &ValidationError{Param: "structuredOutput.schema", Err: err}
	}
	if _, err := c.Compile("output.json"); err != nil {
		return &ValidationError{Param: "structuredOutput.schema", Err: err}
	}
	return nil
}

// offendingParam extracts the instance path of the deepest validation cause,
// joined with dots, so errors name the parameter the caller got wrong.
func offendingParam(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return ""
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return strings.Join(ve.InstanceLocation, ".")
}
