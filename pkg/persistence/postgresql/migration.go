package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id VARCHAR(255) PRIMARY KEY,
				document JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE process_instances (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'PAUSED', 'COMPLETED', 'FAILED')),
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_process_instances_workflow_id ON process_instances(workflow_id);
			CREATE INDEX idx_process_instances_status ON process_instances(status);
			CREATE INDEX idx_process_instances_created_at ON process_instances(created_at);

			CREATE TABLE instance_snapshots (
				id VARCHAR(255) PRIMARY KEY,
				instance_id VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_instance_snapshots_instance_id ON instance_snapshots(instance_id);
			CREATE INDEX idx_instance_snapshots_created_at ON instance_snapshots(created_at);

			CREATE TABLE workflow_versions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				document JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (workflow_id, version)
			);

			CREATE INDEX idx_workflow_versions_workflow_id ON workflow_versions(workflow_id);

			CREATE TABLE distributed_locks (
				key VARCHAR(512) PRIMARY KEY,
				holder_id VARCHAR(255) NOT NULL,
				acquired_at TIMESTAMP WITH TIME ZONE NOT NULL,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_distributed_locks_expires_at ON distributed_locks(expires_at);
		`,
	}
}
