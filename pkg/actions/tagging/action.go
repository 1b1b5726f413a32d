// Package tagging adds or removes customer tags through the engagement
// gateway.
package tagging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/models"
)

// Action applies a tag change to the execution's customer.
type Action struct {
	Tags []string
	Mode string

	client *gateway.Client
}

func NewAction(config map[string]any, client *gateway.Client) (*Action, error) {
	rawTags, ok := config["tags"].([]any)
	if !ok || len(rawTags) == 0 {
		return nil, fmt.Errorf("apply_tags requires a non-empty 'tags' list")
	}

	tags := make([]string, 0, len(rawTags))

	for _, raw := range rawTags {
		tag, ok := raw.(string)
		if !ok || tag == "" {
			return nil, fmt.Errorf("apply_tags tags must be non-empty strings")
		}

		tags = append(tags, tag)
	}

	mode, _ := config["mode"].(string)
	if mode == "" {
		mode = "add"
	}

	return &Action{Tags: tags, Mode: mode, client: client}, nil
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "apply_tags_action")

	if executionCtx.CustomerID == "" {
		return nil, fmt.Errorf("apply_tags requires a customer on the execution")
	}

	payload := map[string]any{
		"tags": a.Tags,
		"mode": a.Mode,
	}

	logger.InfoContext(ctx, "Applying tags", "customer_id", executionCtx.CustomerID, "mode", a.Mode)

	path := fmt.Sprintf("/v1/customers/%s/tags", executionCtx.CustomerID)

	response, err := a.client.Post(ctx, executionCtx.TenantID, path, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to apply tags: %w", err)
	}

	return map[string]any{
		"tags":   response.Body["tags"],
		"status": response.Body["status"],
	}, nil
}
