// Package products decodes and validates per-product config payloads.
// A payload that fails decoding or validation is surfaced to the consumer as
// an error-tagged change, never silently dropped.
package products

import (
	"strings"

	json "github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"rcsync/internal/types"
)

// Well-known products. Paths may carry any other product name; those decode
// without schema validation.
const (
	ApmTracing    types.Product = "APM_TRACING"
	LiveDebugging types.Product = "LIVE_DEBUGGING"
	AgentConfig   types.Product = "AGENT_CONFIG"
	AgentTask     types.Product = "AGENT_TASK"
)

var schemas map[types.Product]*jsonschema.Schema

func init() {
	schemas = map[types.Product]*jsonschema.Schema{
		ApmTracing:    mustCompile("apm_tracing.json", apmTracingSchema),
		LiveDebugging: mustCompile("live_debugging.json", liveDebuggingSchema),
	}
}

func mustCompile(name, src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(err)
	}
	sch, err := c.Compile(name)
	if err != nil {
		panic(err)
	}
	return sch
}

// Parse decodes a config body (JSON, with YAML as fallback) and validates it
// against the product's schema when one is registered. The decoded body is
// always a JSON-shaped map.
func Parse(p types.Product, raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, types.Err(types.ErrBadResponse, nil, "empty body for product %s", p)
	}
	body, err := decodeBody(raw)
	if err != nil {
		return nil, err
	}
	if sch, ok := schemas[p]; ok {
		if err := sch.Validate(any(body)); err != nil {
			return nil, types.Err(types.ErrBadResponse, err, "schema validation failed for product %s", p)
		}
	}
	return body, nil
}

func decodeBody(raw []byte) (map[string]any, error) {
	var v any
	jsonErr := json.Unmarshal(raw, &v)
	if jsonErr != nil {
		var yv any
		if yamlErr := yaml.Unmarshal(raw, &yv); yamlErr != nil {
			return nil, types.Err(types.ErrBadResponse, jsonErr, "body is neither JSON nor YAML")
		}
		// Round-trip through JSON so numbers and keys come out JSON-shaped,
		// same as the direct decode path.
		b, err := json.Marshal(yv)
		if err != nil {
			return nil, types.Err(types.ErrBadResponse, err, "yaml body does not map to JSON")
		}
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, types.Err(types.ErrBadResponse, err, "yaml body does not map to JSON")
		}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, types.Err(types.ErrBadResponse, nil, "config body must be an object")
	}
	return m, nil
}
