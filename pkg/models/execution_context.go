package models

// ExecutionContext is the mutable data bag carried through one execution.
// Actions read trigger data and prior step results from it and contribute
// their own results under their step ID.
type ExecutionContext struct {
	ExecutionID    string         `json:"execution_id"`
	TenantID       string         `json:"tenant_id"`
	WorkflowID     string         `json:"workflow_id"`
	CustomerID     string         `json:"customer_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	TriggerData    map[string]any `json:"trigger_data,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
	StepResults    map[string]any `json:"step_results,omitempty"`
}

// NewExecutionContext builds an ExecutionContext from a stored execution's
// context map, tolerating missing sections.
func NewExecutionContext(execution *WorkflowExecution) *ExecutionContext {
	ec := &ExecutionContext{
		ExecutionID:    execution.ID,
		TenantID:       execution.TenantID,
		WorkflowID:     execution.WorkflowID,
		CustomerID:     execution.CustomerID,
		ConversationID: execution.ConversationID,
		TriggerData:    map[string]any{},
		Variables:      map[string]any{},
		StepResults:    map[string]any{},
	}

	if trigger, ok := execution.Context["trigger_data"].(map[string]any); ok {
		ec.TriggerData = trigger
	}

	if vars, ok := execution.Context["variables"].(map[string]any); ok {
		ec.Variables = vars
	}

	if results, ok := execution.Context["step_results"].(map[string]any); ok {
		ec.StepResults = results
	}

	return ec
}

// AsMap flattens the context back into the persisted representation.
func (ec *ExecutionContext) AsMap() map[string]any {
	return map[string]any{
		"trigger_data": ec.TriggerData,
		"variables":    ec.Variables,
		"step_results": ec.StepResults,
	}
}
