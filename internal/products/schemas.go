package products

// Embedded schemas for the products this client understands natively. They
// check shape, not semantics; the consumer still owns interpretation.

const apmTracingSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["lib_config"],
  "properties": {
    "lib_config": {
      "type": "object",
      "properties": {
        "tracing_enabled": {"type": "boolean"},
        "tracing_sampling_rate": {"type": "number", "minimum": 0, "maximum": 1},
        "log_injection_enabled": {"type": "boolean"},
        "tracing_header_tags": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["header", "tag_name"],
            "properties": {
              "header": {"type": "string"},
              "tag_name": {"type": "string"}
            }
          }
        }
      }
    },
    "service_target": {
      "type": "object",
      "properties": {
        "service": {"type": "string"},
        "env": {"type": "string"}
      }
    }
  }
}`

const liveDebuggingSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "type"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "type": {
      "type": "string",
      "enum": ["LOG_PROBE", "METRIC_PROBE", "SPAN_PROBE", "SPAN_DECORATION_PROBE"]
    },
    "version": {"type": "integer", "minimum": 0},
    "active": {"type": "boolean"},
    "where": {
      "type": "object",
      "properties": {
        "typeName": {"type": "string"},
        "methodName": {"type": "string"},
        "sourceFile": {"type": "string"},
        "lines": {"type": "array", "items": {"type": "string"}}
      }
    },
    "evaluateAt": {"type": "string", "enum": ["ENTRY", "EXIT"]}
  }
}`
