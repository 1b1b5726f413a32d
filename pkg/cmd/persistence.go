package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/persistence/file"
	"github.com/convoflow/convoflow/pkg/persistence/postgresql"
)

// NewPersistence picks the storage backend from the database URL scheme.
// PostgreSQL is the production backend; file persistence serves development
// and tests.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case strings.HasPrefix(databaseURL, "file://"):
		return file.NewPersistence(databaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported database url %q", databaseURL)
	}
}
