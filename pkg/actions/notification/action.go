// Package notification sends internal notifications to operators through
// the engagement gateway.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/template"
)

// Action notifies a recipient over an internal channel.
type Action struct {
	Channel   string
	Recipient string
	Subject   string
	Body      string

	client *gateway.Client
}

func NewAction(config map[string]any, client *gateway.Client) (*Action, error) {
	recipient, _ := config["recipient"].(string)
	if recipient == "" {
		return nil, fmt.Errorf("notify_team requires 'recipient'")
	}

	body, _ := config["body"].(string)
	if body == "" {
		return nil, fmt.Errorf("notify_team requires 'body'")
	}

	channel, _ := config["channel"].(string)
	if channel == "" {
		channel = "email"
	}

	subject, _ := config["subject"].(string)

	return &Action{
		Channel:   channel,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		client:    client,
	}, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "notify_team_action")

	body, err := template.RenderWithContext(a.Body, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render notification body: %w", err)
	}

	payload := map[string]any{
		"channel":   a.Channel,
		"recipient": a.Recipient,
		"subject":   a.Subject,
		"body":      body,
	}

	logger.InfoContext(ctx, "Sending notification", "channel", a.Channel, "recipient", a.Recipient)

	response, err := a.client.Post(ctx, executionCtx.TenantID, "/v1/notifications", payload)
	if err != nil {
		return nil, fmt.Errorf("failed to send notification: %w", err)
	}

	return map[string]any{
		"notification_id": response.Body["notification_id"],
		"status":          response.Body["status"],
	}, nil
}
