// Package template renders dynamic action params against an execution
// context, so messages and payloads can reference trigger data, prior step
// results, and variables.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

// RenderWithContext renders the input against the execution context. The
// template sees .trigger_data, .variables, .step_results, and .execution.
func RenderWithContext(input string, executionCtx *models.ExecutionContext) (string, error) {
	data := map[string]any{
		"trigger_data": executionCtx.TriggerData,
		"variables":    executionCtx.Variables,
		"step_results": executionCtx.StepResults,
		"execution": map[string]any{
			"id":              executionCtx.ExecutionID,
			"workflow_id":     executionCtx.WorkflowID,
			"customer_id":     executionCtx.CustomerID,
			"conversation_id": executionCtx.ConversationID,
		},
	}

	return Render(input, data)
}

// Render executes a text template over arbitrary data.
func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("render").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.TrimSpace(buf.String()), nil
}
