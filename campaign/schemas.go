package campaign

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Per-action config schemas. Configs are free-form maps, so the schemas only
// pin the fields each executor reads; everything else passes through.
var actionConfigSchemas = map[ActionType]string{
	ActionProfileVisit: `{"type":"object"}`,
	ActionLikePost: `{
		"type": "object",
		"properties": {"reaction": {"type": "string", "minLength": 1}}
	}`,
	ActionCommentPost: `{
		"type": "object",
		"properties": {"message": {"type": "string", "minLength": 1}},
		"required": ["message"]
	}`,
	ActionSendConnectionRequest: `{
		"type": "object",
		"properties": {"message": {"type": "string"}}
	}`,
	ActionSendFollowup: `{
		"type": "object",
		"properties": {"message": {"type": "string", "minLength": 1}},
		"required": ["message"]
	}`,
	ActionWithdrawRequest: `{"type":"object"}`,
	ActionSendInMail: `{
		"type": "object",
		"properties": {
			"subject": {"type": "string"},
			"message": {"type": "string", "minLength": 1}
		},
		"required": ["message"]
	}`,
}

var compiledConfigSchemas = compileConfigSchemas()

func compileConfigSchemas() map[ActionType]*jsonschema.Schema {
	compiled := make(map[ActionType]*jsonschema.Schema, len(actionConfigSchemas))
	for at, src := range actionConfigSchemas {
		var doc any
		if err := json.Unmarshal([]byte(src), &doc); err != nil {
			panic(fmt.Sprintf("campaign: schema for %s: %v", at, err))
		}
		c := jsonschema.NewCompiler()
		name := string(at) + ".json"
		if err := c.AddResource(name, doc); err != nil {
			panic(fmt.Sprintf("campaign: schema for %s: %v", at, err))
		}
		schema, err := c.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("campaign: schema for %s: %v", at, err))
		}
		compiled[at] = schema
	}
	return compiled
}

// validateActionConfig checks a node config against its action schema.
// Unknown action types fail closed.
func validateActionConfig(at ActionType, cfg map[string]any) error {
	schema, ok := compiledConfigSchemas[at]
	if !ok {
		return fmt.Errorf("unknown action type %q", at)
	}
	payload := any(cfg)
	if cfg == nil {
		payload = map[string]any{}
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("invalid %s config: %w", at, err)
	}
	return nil
}
