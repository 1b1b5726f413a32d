package cmd

import (
	"fmt"
	"strings"

	"github.com/convoflow/convoflow/pkg/schedule"
)

// NewDelayStore picks the resumption store from the URL. Redis is the
// production backend; "memory" is in-process only and meant for
// single-binary development.
func NewDelayStore(url string) (schedule.DelayStore, error) {
	switch {
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return schedule.NewRedisDelayStore(url)
	case url == "memory":
		return schedule.NewMemoryDelayStore(), nil
	default:
		return nil, fmt.Errorf("unsupported delay store url %q", url)
	}
}
