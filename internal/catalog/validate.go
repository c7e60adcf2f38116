package catalog

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
)

// ValidateArguments checks call arguments against the descriptor's input
// schema before any backend work happens. A mismatch is a configuration
// error and must not touch the backend or its breaker. Descriptors without
// a schema accept anything.
func ValidateArguments(desc *ToolDescriptor, args map[string]interface{}) error {
	if len(desc.InputSchema) == 0 {
		return nil
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(desc.InputSchema, &schema); err != nil {
		return contracts.NewError(contracts.KindConfiguration,
			"tool "+desc.Name+" has a malformed input schema", err)
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return contracts.NewError(contracts.KindConfiguration,
			"tool "+desc.Name+" input schema does not resolve", err)
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	if err := resolved.Validate(args); err != nil {
		return contracts.NewError(contracts.KindConfiguration,
			"arguments do not match schema for "+desc.Name, err)
	}
	return nil
}
