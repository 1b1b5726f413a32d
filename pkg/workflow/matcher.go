package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
)

// TriggerMatcher decides which workflows a domain event starts. Only active
// workflows bound to the event's trigger type are candidates; each
// candidate's trigger config is then evaluated as a conjunction of clauses
// against the event payload. A workflow whose config cannot be evaluated is
// treated as a non-match, never as an error for the whole event.
type TriggerMatcher struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

func NewTriggerMatcher(persistence persistence.Persistence, logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{
		persistence: persistence,
		logger:      logger.With("module", "trigger_matcher"),
	}
}

// Match returns the workflows the event should start, in creation order.
func (m *TriggerMatcher) Match(ctx context.Context, event models.DomainEvent) ([]*models.Workflow, error) {
	candidates, err := m.persistence.WorkflowRepository().ListActiveByTrigger(ctx, event.TenantID, event.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate workflows: %w", err)
	}

	matched := make([]*models.Workflow, 0, len(candidates))

	for _, candidate := range candidates {
		ok, err := m.matches(candidate.TriggerConfig, event)
		if err != nil {
			m.logger.WarnContext(ctx, "Skipping workflow with unmatchable trigger config",
				"workflow_id", candidate.ID,
				"tenant_id", candidate.TenantID,
				"error", err,
			)

			continue
		}

		if ok {
			matched = append(matched, candidate)
		}
	}

	return matched, nil
}

func (m *TriggerMatcher) matches(config models.TriggerConfig, event models.DomainEvent) (bool, error) {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	if config.CustomerType != "" {
		customerType, _ := payload["customer_type"].(string)
		if customerType != config.CustomerType {
			return false, nil
		}
	}

	if config.Channel != "" {
		channel, _ := payload["channel"].(string)
		if channel != config.Channel {
			return false, nil
		}
	}

	if config.MinMessageCount != nil {
		count, ok := toFloat(payload["message_count"])
		if !ok {
			return false, fmt.Errorf("payload message_count is not numeric")
		}

		if int(count) < *config.MinMessageCount {
			return false, nil
		}
	}

	if len(config.TagsAny) > 0 {
		tags, ok := payload["tags"]
		if !ok {
			return false, nil
		}

		anyMatch := false

		for _, wanted := range config.TagsAny {
			if contains(tags, wanted) {
				anyMatch = true

				break
			}
		}

		if !anyMatch {
			return false, nil
		}
	}

	if len(config.Attributes) > 0 {
		attributes, ok := payload["attributes"].(map[string]any)
		if !ok {
			return false, nil
		}

		for key, wanted := range config.Attributes {
			actual, present := attributes[key]
			if !present || !looseEqual(actual, wanted) {
				return false, nil
			}
		}
	}

	return true, nil
}
