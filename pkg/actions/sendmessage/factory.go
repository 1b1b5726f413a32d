package sendmessage

import (
	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/registry"
)

// ActionFactory creates send_message actions.
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
	return "send_message"
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message body. Supports templating against trigger data and step results.",
				"examples": []string{
					"Welcome aboard!",
					"Hi {{.trigger_data.customer_name}}, thanks for reaching out.",
				},
			},
			"template_id": map[string]any{
				"type":        "string",
				"description": "Platform message template to use instead of an inline body.",
			},
			"channel": map[string]any{
				"type":        "string",
				"description": "Delivery channel. Defaults to the conversation's channel.",
				"enum":        []string{"whatsapp", "email", "sms", "webchat"},
			},
		},
		"anyOf": []map[string]any{
			{"required": []string{"message"}},
			{"required": []string{"template_id"}},
		},
		"additionalProperties": false,
	}
}
