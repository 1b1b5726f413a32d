package assignment

import (
	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/registry"
)

// ActionFactory creates assign_conversation actions.
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
	return "assign_conversation"
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"assignee_id": map[string]any{
				"type":        "string",
				"description": "Agent to assign the conversation to.",
			},
			"team": map[string]any{
				"type":        "string",
				"description": "Team whose routing rules pick the agent.",
			},
		},
		"anyOf": []map[string]any{
			{"required": []string{"assignee_id"}},
			{"required": []string{"team"}},
		},
		"additionalProperties": false,
	}
}
