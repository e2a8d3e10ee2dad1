package schema

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

const (
	executeWorkflowTrigger = "n8n-nodes-base.executeWorkflowTrigger"
	formTrigger            = "n8n-nodes-base.formTrigger"
	chatTrigger            = "@n8n/n8n-nodes-langchain.chatTrigger"
	webhookTrigger         = "n8n-nodes-base.webhook"
	manualTrigger          = "n8n-nodes-base.manualTrigger"
)

// findTrigger returns the first enabled trigger node in node order.
func findTrigger(wf *models.Workflow) *models.Node {
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if n.Disabled {
			continue
		}
		switch n.Type {
		case executeWorkflowTrigger, formTrigger, chatTrigger, webhookTrigger, manualTrigger:
			return n
		}
		if strings.HasSuffix(strings.ToLower(n.Type), "trigger") {
			return n
		}
	}
	return nil
}

func triggerParameters(n *models.Node) []models.Parameter {
	switch n.Type {
	case executeWorkflowTrigger:
		return workflowInputs(n.Parameters)
	case formTrigger:
		return formFields(n.Parameters)
	case chatTrigger:
		return []models.Parameter{{
			Name:        "chatInput",
			Type:        models.ParamString,
			Required:    true,
			Description: "Message passed to the chat trigger",
		}}
	case webhookTrigger:
		return []models.Parameter{{
			Name:        "body",
			Type:        models.ParamObject,
			Description: "Request body passed to the webhook",
		}}
	default:
		return []models.Parameter{}
	}
}

// workflowInputs reads the inputs declared on an execute-workflow trigger,
// either as a field list or as a JSON example.
func workflowInputs(params map[string]any) []models.Parameter {
	out := []models.Parameter{}
	switch params["inputSource"] {
	case "passthrough":
		return out
	case "jsonExample":
		example, _ := params["jsonExample"].(string)
		var fields map[string]any
		if err := json.Unmarshal([]byte(example), &fields); err != nil {
			return out
		}
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, models.Parameter{Name: name, Type: jsonType(fields[name]), Required: true})
		}
		return out
	}

	for _, v := range listValues(params["workflowInputs"]) {
		name, _ := v["name"].(string)
		if name == "" {
			continue
		}
		typ, _ := v["type"].(string)
		out = append(out, models.Parameter{Name: name, Type: paramType(typ), Required: true})
	}
	return out
}

func formFields(params map[string]any) []models.Parameter {
	out := []models.Parameter{}
	for _, v := range listValues(params["formFields"]) {
		label, _ := v["fieldLabel"].(string)
		if label == "" {
			continue
		}
		required, _ := v["requiredField"].(bool)
		typ := models.ParamString
		if v["fieldType"] == "number" {
			typ = models.ParamNumber
		}
		out = append(out, models.Parameter{Name: label, Type: typ, Required: required})
	}
	return out
}

// listValues unwraps the {"values": [...]} shape used by fixed-collection parameters.
func listValues(v any) []map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	raw, _ := m["values"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if im, ok := item.(map[string]any); ok {
			out = append(out, im)
		}
	}
	return out
}

func paramType(t string) string {
	switch t {
	case models.ParamString, models.ParamNumber, models.ParamBoolean, models.ParamArray, models.ParamObject:
		return t
	case "":
		return models.ParamString
	default:
		return models.ParamAny
	}
}

func jsonType(v any) string {
	switch v.(type) {
	case string:
		return models.ParamString
	case float64:
		return models.ParamNumber
	case bool:
		return models.ParamBoolean
	case []any:
		return models.ParamArray
	case map[string]any:
		return models.ParamObject
	default:
		return models.ParamAny
	}
}
