// Package airesponse generates a conversational reply through the platform's
// AI gateway and posts it on the conversation.
package airesponse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/template"
)

// Action asks the AI gateway for a reply. The prompt supports templating
// against the execution context so it can reference the triggering message.
type Action struct {
	Prompt string

	client *gateway.Client
}

func NewAction(config map[string]any, client *gateway.Client) (*Action, error) {
	prompt, _ := config["prompt"].(string)
	if prompt == "" {
		return nil, fmt.Errorf("ai_response requires 'prompt'")
	}

	return &Action{Prompt: prompt, client: client}, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "ai_response_action")

	prompt, err := template.RenderWithContext(a.Prompt, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	payload := map[string]any{
		"prompt":      prompt,
		"customer_id": executionCtx.CustomerID,
	}

	if executionCtx.ConversationID != "" {
		payload["conversation_id"] = executionCtx.ConversationID
	}

	logger.InfoContext(ctx, "Requesting AI response", "conversation_id", executionCtx.ConversationID)

	response, err := a.client.Post(ctx, executionCtx.TenantID, "/v1/ai/respond", payload)
	if err != nil {
		return nil, fmt.Errorf("failed to generate AI response: %w", err)
	}

	reply, _ := response.Body["reply"].(string)
	if reply == "" {
		return nil, fmt.Errorf("AI gateway returned an empty reply")
	}

	return map[string]any{
		"reply":      reply,
		"message_id": response.Body["message_id"],
	}, nil
}
