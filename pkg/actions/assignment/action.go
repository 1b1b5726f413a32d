// Package assignment routes a conversation to an agent or team through the
// engagement gateway.
package assignment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/models"
)

// Action assigns the execution's conversation.
type Action struct {
	AssigneeID string
	Team       string

	client *gateway.Client
}

func NewAction(config map[string]any, client *gateway.Client) (*Action, error) {
	assigneeID, _ := config["assignee_id"].(string)
	team, _ := config["team"].(string)

	if assigneeID == "" && team == "" {
		return nil, fmt.Errorf("assign_conversation requires 'assignee_id' or 'team'")
	}

	return &Action{AssigneeID: assigneeID, Team: team, client: client}, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "assign_conversation_action")

	if executionCtx.ConversationID == "" {
		return nil, fmt.Errorf("assign_conversation requires a conversation on the execution")
	}

	payload := map[string]any{}

	if a.AssigneeID != "" {
		payload["assignee_id"] = a.AssigneeID
	}

	if a.Team != "" {
		payload["team"] = a.Team
	}

	logger.InfoContext(ctx, "Assigning conversation",
		"conversation_id", executionCtx.ConversationID,
		"assignee_id", a.AssigneeID,
		"team", a.Team,
	)

	path := fmt.Sprintf("/v1/conversations/%s/assign", executionCtx.ConversationID)

	response, err := a.client.Post(ctx, executionCtx.TenantID, path, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to assign conversation: %w", err)
	}

	return map[string]any{
		"assignee_id": response.Body["assignee_id"],
		"status":      response.Body["status"],
	}, nil
}
