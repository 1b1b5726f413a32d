package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'inactive', 'active')),
				trigger_type VARCHAR(100) NOT NULL,
				trigger_config JSONB NOT NULL DEFAULT '{}',
				execution_mode VARCHAR(50) NOT NULL DEFAULT 'sequential',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_tenant ON workflows(tenant_id);
			CREATE INDEX idx_workflows_tenant_status ON workflows(tenant_id, status);
			CREATE INDEX idx_workflows_tenant_trigger ON workflows(tenant_id, trigger_type);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			CREATE TABLE workflow_steps (
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				step_type VARCHAR(50) NOT NULL,
				name VARCHAR(255) NOT NULL,
				config JSONB NOT NULL DEFAULT '{}',
				next_steps JSONB NOT NULL DEFAULT '[]',
				position_x INT NOT NULL DEFAULT 0,
				position_y INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_steps_workflow ON workflow_steps(workflow_id);
			CREATE INDEX idx_workflow_steps_tenant ON workflow_steps(tenant_id);

			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				customer_id VARCHAR(255),
				conversation_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
				context JSONB NOT NULL DEFAULT '{}',
				current_step_id VARCHAR(255),
				is_test BOOLEAN NOT NULL DEFAULT FALSE,
				retry_of_id UUID,
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_tenant ON workflow_executions(tenant_id);
			CREATE INDEX idx_workflow_executions_workflow ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(tenant_id, status);
			CREATE INDEX idx_workflow_executions_created_at ON workflow_executions(created_at);

			CREATE TABLE workflow_execution_logs (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				execution_id UUID NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				attempt INT NOT NULL DEFAULT 1,
				outcome VARCHAR(50) NOT NULL,
				branch VARCHAR(255),
				error TEXT,
				executed_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_logs_execution ON workflow_execution_logs(execution_id, executed_at);
			CREATE INDEX idx_execution_logs_tenant ON workflow_execution_logs(tenant_id);
		`,
	}
}
