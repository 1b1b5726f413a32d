package airesponse

import (
	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/registry"
)

// ActionFactory creates ai_response actions.
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
	return "ai_response"
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "Instruction for the AI reply. Supports templating.",
				"examples": []string{
					"Answer the customer's question about order status.",
					"Reply to: {{.trigger_data.message_body}}",
				},
			},
		},
		"required":             []string{"prompt"},
		"additionalProperties": false,
	}
}
