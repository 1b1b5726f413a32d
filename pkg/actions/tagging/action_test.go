package tagging

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestNewAction_Validation(t *testing.T) {
	_, err := NewAction(map[string]any{}, nil)
	require.Error(t, err)

	_, err = NewAction(map[string]any{"tags": []any{}}, nil)
	require.Error(t, err)

	_, err = NewAction(map[string]any{"tags": []any{"vip", 7}}, nil)
	require.Error(t, err)

	action, err := NewAction(map[string]any{"tags": []any{"vip"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "add", action.Mode)

	action, err = NewAction(map[string]any{"tags": []any{"vip"}, "mode": "remove"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "remove", action.Mode)
}

func TestAction_Execute(t *testing.T) {
	var gotPath string

	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tags": ["vip", "priority"], "status": "updated"}`))
	}))
	t.Cleanup(server.Close)

	client := gateway.NewClient(gateway.Config{BaseURL: server.URL}, testLogger())

	action, err := NewAction(map[string]any{"tags": []any{"vip", "priority"}}, client)
	require.NoError(t, err)

	result, err := action.Execute(t.Context(), models.ExecutionContext{
		TenantID:   "tenant-1",
		CustomerID: "cust-1",
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "/v1/customers/cust-1/tags", gotPath)
	assert.Equal(t, []any{"vip", "priority"}, gotBody["tags"])
	assert.Equal(t, "add", gotBody["mode"])
	assert.Equal(t, "updated", result["status"])
}

func TestAction_Execute_RequiresCustomer(t *testing.T) {
	action, err := NewAction(map[string]any{"tags": []any{"vip"}}, nil)
	require.NoError(t, err)

	_, err = action.Execute(t.Context(), models.ExecutionContext{TenantID: "tenant-1"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customer")
}
