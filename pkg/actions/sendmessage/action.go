// Package sendmessage delivers a templated message to a customer's
// conversation through the engagement gateway.
package sendmessage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/template"
)

// Action sends a message on a conversation. The message body supports
// templating against the execution context.
type Action struct {
	Channel    string
	Message    string
	TemplateID string

	client *gateway.Client
}

func NewAction(config map[string]any, client *gateway.Client) (*Action, error) {
	message, _ := config["message"].(string)
	templateID, _ := config["template_id"].(string)

	if message == "" && templateID == "" {
		return nil, fmt.Errorf("send_message requires 'message' or 'template_id'")
	}

	channel, _ := config["channel"].(string)

	return &Action{
		Channel:    channel,
		Message:    message,
		TemplateID: templateID,
		client:     client,
	}, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "send_message_action")

	body := a.Message

	if body != "" {
		rendered, err := template.RenderWithContext(body, &executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render message: %w", err)
		}

		body = rendered
	}

	payload := map[string]any{
		"customer_id": executionCtx.CustomerID,
		"body":        body,
	}

	if executionCtx.ConversationID != "" {
		payload["conversation_id"] = executionCtx.ConversationID
	}

	if a.Channel != "" {
		payload["channel"] = a.Channel
	}

	if a.TemplateID != "" {
		payload["template_id"] = a.TemplateID
	}

	logger.InfoContext(ctx, "Sending message", "channel", a.Channel, "customer_id", executionCtx.CustomerID)

	response, err := a.client.Post(ctx, executionCtx.TenantID, "/v1/messages", payload)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	return map[string]any{
		"message_id": response.Body["message_id"],
		"status":     response.Body["status"],
	}, nil
}
