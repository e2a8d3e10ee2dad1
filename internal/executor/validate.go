package executor

import (
	"encoding/json"
	"strings"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// validate checks args against the schema and returns the declared arguments
// only. Unknown arguments are dropped.
func validate(s *models.ToolSchema, args map[string]any) (map[string]any, error) {
	input := make(map[string]any, len(s.Parameters))
	var missing []string
	for _, p := range s.Parameters {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				missing = append(missing, p.Name)
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			return nil, errs.InvalidArgumentsf("argument %q must be of type %s", p.Name, p.Type)
		}
		input[p.Name] = v
	}
	if len(missing) > 0 {
		return nil, errs.InvalidArgumentsf("missing required arguments: %s", strings.Join(missing, ", "))
	}
	return input, nil
}

func typeMatches(typ string, v any) bool {
	switch typ {
	case models.ParamString:
		_, ok := v.(string)
		return ok
	case models.ParamNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return true
		}
		return false
	case models.ParamBoolean:
		_, ok := v.(bool)
		return ok
	case models.ParamArray:
		_, ok := v.([]any)
		return ok
	case models.ParamObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}
