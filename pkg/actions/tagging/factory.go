package tagging

import (
	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/registry"
)

// ActionFactory creates apply_tags actions.
type ActionFactory struct {
	client *gateway.Client
}

func NewActionFactory(client *gateway.Client) *ActionFactory {
	return &ActionFactory{client: client}
}

func (f *ActionFactory) Create(config map[string]any) (registry.Action, error) {
	return NewAction(config, f.client)
}

func (f *ActionFactory) ID() string {
	return "apply_tags"
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tags": map[string]any{
				"type":        "array",
				"description": "Tags to add to or remove from the customer.",
				"items":       map[string]any{"type": "string"},
				"minItems":    1,
			},
			"mode": map[string]any{
				"type":        "string",
				"description": "Whether to add or remove the tags.",
				"default":     "add",
				"enum":        []string{"add", "remove"},
			},
		},
		"required":             []string{"tags"},
		"additionalProperties": false,
	}
}
