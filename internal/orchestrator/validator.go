package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// createTaskSchema is the hard-reject contract for POST /v1/tasks bodies.
// Semantic checks (URL well-formedness, tier pricing) happen in CreateTask.
const createTaskSchema = `{
  "type": "object",
  "required": ["provider", "video_url", "quality"],
  "properties": {
    "provider":    {"type": "string", "minLength": 1},
    "video_url":   {"type": "string", "minLength": 1},
    "audio_url":   {"type": "string"},
    "text_prompt": {"type": "string"},
    "quality":     {"type": "string", "enum": ["standard", "high", "ultra"]}
  },
  "anyOf": [
    {"required": ["audio_url"]},
    {"required": ["text_prompt"]}
  ]
}`

// Validator checks raw request payloads against the compiled task schema
// before they are decoded.
type Validator struct {
	createTask *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	schema, err := jsonschema.CompileString("syncreel://schemas/create_task", createTaskSchema)
	if err != nil {
		return nil, fmt.Errorf("compile create_task schema: %w", err)
	}
	return &Validator{createTask: schema}, nil
}

// ValidateCreateTask returns ErrInvalidInput when the payload does not match
// the create-task contract.
func (v *Validator) ValidateCreateTask(raw json.RawMessage) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrInvalidInput, err)
	}
	if err := v.createTask.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
