package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE executions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL,
				workspace_id BIGINT NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'waiting', 'completed', 'failed', 'cancelled')),
				mode VARCHAR(20) NOT NULL CHECK (mode IN ('manual', 'webhook', 'schedule', 'retry', 'event')),
				trigger_data JSONB,
				result_data JSONB,
				error JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT,
				attempt INTEGER NOT NULL DEFAULT 1 CHECK (attempt >= 1),
				max_attempts INTEGER NOT NULL DEFAULT 3 CHECK (max_attempts >= 1),
				parent_execution_id UUID REFERENCES executions(id),
				triggered_by VARCHAR(255),
				ip_address VARCHAR(45),
				user_agent TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CHECK (attempt <= max_attempts)
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_workspace_id ON executions(workspace_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_parent ON executions(parent_execution_id);

			CREATE TABLE job_statuses (
				job_id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES executions(id),
				partition INTEGER NOT NULL,
				callback_token CHAR(64) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
				progress INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
				started_at TIMESTAMP WITH TIME ZONE,
				result JSONB,
				error JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- One job per execution; racing dispatches collapse here.
			CREATE UNIQUE INDEX idx_job_statuses_execution_id ON job_statuses(execution_id);

			CREATE TABLE execution_nodes (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES executions(id),
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(255) NOT NULL,
				node_name VARCHAR(255),
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'skipped')),
				output JSONB,
				error JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				sequence INTEGER NOT NULL DEFAULT 0,
				UNIQUE (execution_id, node_id)
			);

			CREATE INDEX idx_execution_nodes_execution_id ON execution_nodes(execution_id);

			CREATE TABLE execution_logs (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES executions(id),
				execution_node_id UUID REFERENCES execution_nodes(id),
				level VARCHAR(10) NOT NULL,
				message TEXT NOT NULL,
				context JSONB,
				logged_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_logs_execution_id ON execution_logs(execution_id);

			CREATE TABLE webhooks (
				id UUID PRIMARY KEY,
				uuid UUID NOT NULL UNIQUE,
				workflow_id UUID NOT NULL,
				workspace_id BIGINT NOT NULL,
				path VARCHAR(255) NOT NULL DEFAULT '',
				methods JSONB,
				auth_type VARCHAR(20) NOT NULL DEFAULT 'none' CHECK (auth_type IN ('none', 'header', 'basic', 'bearer')),
				auth_config TEXT,
				rate_limit INTEGER,
				response_status INTEGER NOT NULL DEFAULT 200,
				response_body JSONB,
				payload_schema JSONB,
				call_count BIGINT NOT NULL DEFAULT 0,
				active BOOLEAN NOT NULL DEFAULT TRUE
			);

			CREATE INDEX idx_webhooks_workflow_id ON webhooks(workflow_id);

			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				workspace_id BIGINT NOT NULL,
				name VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				nodes JSONB NOT NULL,
				edges JSONB NOT NULL,
				settings JSONB
			);

			CREATE INDEX idx_workflows_workspace_id ON workflows(workspace_id);

			CREATE TABLE credentials (
				id UUID PRIMARY KEY,
				workspace_id BIGINT NOT NULL,
				type VARCHAR(100) NOT NULL,
				data TEXT NOT NULL
			);

			CREATE INDEX idx_credentials_workspace_id ON credentials(workspace_id);

			CREATE TABLE workspace_variables (
				workspace_id BIGINT NOT NULL,
				key VARCHAR(255) NOT NULL,
				value TEXT NOT NULL,
				is_secret BOOLEAN NOT NULL DEFAULT FALSE,
				PRIMARY KEY (workspace_id, key)
			);
		`,
	}
}
