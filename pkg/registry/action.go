package registry

import (
	"context"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/models"
)

// Action is one engagement operation executed by an action step.
type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory creates action instances and describes the action kind.
type ActionFactory interface {
	// Create builds an action from the step's params.
	Create(config map[string]any) (Action, error)

	// ID returns the unique identifier for this action kind.
	ID() string

	// Schema returns the JSON schema the params must satisfy.
	Schema() map[string]any
}
