package notification

import (
	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/registry"
)

// ActionFactory creates notify_team actions.
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
	return "notify_team"
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{
				"type":        "string",
				"description": "Internal delivery channel.",
				"default":     "email",
				"enum":        []string{"email", "slack"},
			},
			"recipient": map[string]any{
				"type":        "string",
				"description": "Address or channel handle to notify.",
			},
			"subject": map[string]any{
				"type":        "string",
				"description": "Subject line, used by email notifications.",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Notification body. Supports templating.",
			},
		},
		"required":             []string{"recipient", "body"},
		"additionalProperties": false,
	}
}
