// Package memory provides an in-memory persistence implementation used by
// tests and local development. A single mutex serializes all access, which
// gives the same observable transaction semantics as the SQL store.
package memory

import (
	"context"
	"sync"

	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
)

// Persistence implements persistence.Persistence backed by maps.
type Persistence struct {
	mu sync.Mutex

	executions      map[string]*models.Execution
	nodes           map[string]*models.ExecutionNode // keyed by execution_id/node_id
	logs            []*models.ExecutionLog
	jobs            map[string]*models.JobStatus
	jobsByExecution map[string]string
	webhooks        map[string]*models.Webhook // keyed by uuid
	workflows       map[string]*models.Workflow
	credentials     map[string]*models.Credential
	variables       []*models.Variable
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		executions:      make(map[string]*models.Execution),
		nodes:           make(map[string]*models.ExecutionNode),
		jobs:            make(map[string]*models.JobStatus),
		jobsByExecution: make(map[string]string),
		webhooks:        make(map[string]*models.Webhook),
		workflows:       make(map[string]*models.Workflow),
		credentials:     make(map[string]*models.Credential),
	}
}

// Seed helpers for data owned by the management API.

func (p *Persistence) SaveWebhook(webhook *models.Webhook) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := *webhook
	p.webhooks[webhook.UUID] = &clone
}

func (p *Persistence) SaveWorkflow(workflow *models.Workflow) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := *workflow
	p.workflows[workflow.ID] = &clone
}

func (p *Persistence) SaveCredential(credential *models.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := *credential
	p.credentials[credential.ID] = &clone
}

func (p *Persistence) SaveVariable(variable *models.Variable) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := *variable
	p.variables = append(p.variables, &clone)
}

func (p *Persistence) Executions() persistence.ExecutionRepository { return &executionRepo{p} }
func (p *Persistence) Jobs() persistence.JobRepository             { return &jobRepo{p} }
func (p *Persistence) Webhooks() persistence.WebhookRepository     { return &webhookRepo{p} }
func (p *Persistence) Workflows() persistence.WorkflowRepository   { return &workflowRepo{p} }
func (p *Persistence) Credentials() persistence.CredentialRepository {
	return &credentialRepo{p}
}
func (p *Persistence) Variables() persistence.VariableRepository { return &variableRepo{p} }

// WithinTx holds the store lock for the duration of fn. On error the maps
// are restored from a snapshot, so a failed transaction leaves no writes.
func (p *Persistence) WithinTx(ctx context.Context, fn func(tx persistence.Transaction) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := p.snapshot()

	if err := fn(&transaction{p: p}); err != nil {
		p.restore(snapshot)

		return err
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error { return nil }
func (p *Persistence) Close(ctx context.Context) error       { return nil }

type state struct {
	executions      map[string]*models.Execution
	nodes           map[string]*models.ExecutionNode
	logs            []*models.ExecutionLog
	jobs            map[string]*models.JobStatus
	jobsByExecution map[string]string
}

// snapshot copies map headers only. Transaction methods replace entries with
// fresh clones instead of mutating stored structs, so this is sufficient for
// rollback.
func (p *Persistence) snapshot() state {
	s := state{
		executions:      make(map[string]*models.Execution, len(p.executions)),
		nodes:           make(map[string]*models.ExecutionNode, len(p.nodes)),
		logs:            append([]*models.ExecutionLog(nil), p.logs...),
		jobs:            make(map[string]*models.JobStatus, len(p.jobs)),
		jobsByExecution: make(map[string]string, len(p.jobsByExecution)),
	}

	for k, v := range p.executions {
		s.executions[k] = v
	}

	for k, v := range p.nodes {
		s.nodes[k] = v
	}

	for k, v := range p.jobs {
		s.jobs[k] = v
	}

	for k, v := range p.jobsByExecution {
		s.jobsByExecution[k] = v
	}

	return s
}

func (p *Persistence) restore(s state) {
	p.executions = s.executions
	p.nodes = s.nodes
	p.logs = s.logs
	p.jobs = s.jobs
	p.jobsByExecution = s.jobsByExecution
}

func nodeKey(executionID, nodeID string) string {
	return executionID + "/" + nodeID
}

// Unlocked accessors shared by repositories and the transaction.

func (p *Persistence) executionByID(id string) (*models.Execution, error) {
	execution, ok := p.executions[id]
	if !ok {
		return nil, persistence.NewStoreError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	clone := *execution

	return &clone, nil
}

func (p *Persistence) updateExecution(execution *models.Execution) error {
	if _, ok := p.executions[execution.ID]; !ok {
		return persistence.NewStoreError("UpdateExecution", execution.ID, persistence.ErrExecutionNotFound)
	}

	clone := *execution
	p.executions[execution.ID] = &clone

	return nil
}

func (p *Persistence) jobByID(jobID string) (*models.JobStatus, error) {
	job, ok := p.jobs[jobID]
	if !ok {
		return nil, persistence.NewStoreError("JobByID", jobID, persistence.ErrJobNotFound)
	}

	clone := *job

	return &clone, nil
}

func (p *Persistence) updateJob(job *models.JobStatus) error {
	if _, ok := p.jobs[job.JobID]; !ok {
		return persistence.NewStoreError("UpdateJob", job.JobID, persistence.ErrJobNotFound)
	}

	clone := *job
	p.jobs[job.JobID] = &clone

	return nil
}

func (p *Persistence) upsertExecutionNode(node *models.ExecutionNode) (*models.ExecutionNode, error) {
	key := nodeKey(node.ExecutionID, node.NodeID)

	clone := *node
	if existing, ok := p.nodes[key]; ok {
		clone.ID = existing.ID
	} else if clone.ID == "" {
		clone.ID = models.NewID()
	}

	p.nodes[key] = &clone
	result := clone

	return &result, nil
}

func (p *Persistence) appendExecutionLog(entry *models.ExecutionLog) error {
	clone := *entry
	if clone.ID == "" {
		clone.ID = models.NewID()
	}

	p.logs = append(p.logs, &clone)

	return nil
}

// transaction operates on the already-locked store.
type transaction struct {
	p *Persistence
}

func (t *transaction) JobForUpdate(ctx context.Context, jobID string) (*models.JobStatus, error) {
	return t.p.jobByID(jobID)
}

func (t *transaction) UpdateJob(ctx context.Context, job *models.JobStatus) error {
	return t.p.updateJob(job)
}

func (t *transaction) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	return t.p.executionByID(id)
}

func (t *transaction) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	return t.p.updateExecution(execution)
}

func (t *transaction) UpsertExecutionNode(ctx context.Context, node *models.ExecutionNode) (*models.ExecutionNode, error) {
	return t.p.upsertExecutionNode(node)
}

func (t *transaction) AppendExecutionLog(ctx context.Context, entry *models.ExecutionLog) error {
	return t.p.appendExecutionLog(entry)
}

type executionRepo struct{ p *Persistence }

func (r *executionRepo) Create(ctx context.Context, execution *models.Execution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	clone := *execution
	r.p.executions[execution.ID] = &clone

	return nil
}

func (r *executionRepo) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.executionByID(id)
}

func (r *executionRepo) Update(ctx context.Context, execution *models.Execution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.updateExecution(execution)
}

func (r *executionRepo) NodesByExecutionID(ctx context.Context, executionID string) ([]*models.ExecutionNode, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var nodes []*models.ExecutionNode

	for _, node := range r.p.nodes {
		if node.ExecutionID == executionID {
			clone := *node
			nodes = append(nodes, &clone)
		}
	}

	sortNodesBySequence(nodes)

	return nodes, nil
}

func (r *executionRepo) LogsByExecutionID(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var entries []*models.ExecutionLog

	for _, entry := range r.p.logs {
		if entry.ExecutionID == executionID {
			clone := *entry
			entries = append(entries, &clone)
		}
	}

	return entries, nil
}

func sortNodesBySequence(nodes []*models.ExecutionNode) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j-1].Sequence > nodes[j].Sequence; j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
}

type jobRepo struct{ p *Persistence }

func (r *jobRepo) Create(ctx context.Context, job *models.JobStatus) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.jobsByExecution[job.ExecutionID]; ok {
		return persistence.NewStoreError("CreateJob", job.ExecutionID, persistence.ErrDuplicateJob)
	}

	clone := *job
	r.p.jobs[job.JobID] = &clone
	r.p.jobsByExecution[job.ExecutionID] = job.JobID

	return nil
}

func (r *jobRepo) JobByID(ctx context.Context, jobID string) (*models.JobStatus, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.jobByID(jobID)
}

func (r *jobRepo) JobByExecutionID(ctx context.Context, executionID string) (*models.JobStatus, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	jobID, ok := r.p.jobsByExecution[executionID]
	if !ok {
		return nil, persistence.NewStoreError("JobByExecutionID", executionID, persistence.ErrJobNotFound)
	}

	return r.p.jobByID(jobID)
}

func (r *jobRepo) Update(ctx context.Context, job *models.JobStatus) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.updateJob(job)
}

type webhookRepo struct{ p *Persistence }

func (r *webhookRepo) ActiveWebhookByUUID(ctx context.Context, uuid string) (*models.Webhook, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	webhook, ok := r.p.webhooks[uuid]
	if !ok || !webhook.Active {
		return nil, persistence.NewStoreError("ActiveWebhookByUUID", uuid, persistence.ErrWebhookNotFound)
	}

	clone := *webhook

	return &clone, nil
}

func (r *webhookRepo) IncrementCallCount(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	for _, webhook := range r.p.webhooks {
		if webhook.ID == id {
			webhook.CallCount++

			return nil
		}
	}

	return persistence.NewStoreError("IncrementCallCount", id, persistence.ErrWebhookNotFound)
}

type workflowRepo struct{ p *Persistence }

func (r *workflowRepo) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	workflow, ok := r.p.workflows[id]
	if !ok {
		return nil, persistence.NewStoreError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
	}

	clone := *workflow

	return &clone, nil
}

func (r *workflowRepo) ScheduledWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var scheduled []*models.Workflow

	for _, workflow := range r.p.workflows {
		if workflow.Active && workflow.ScheduleExpression() != "" {
			clone := *workflow
			scheduled = append(scheduled, &clone)
		}
	}

	return scheduled, nil
}

type credentialRepo struct{ p *Persistence }

func (r *credentialRepo) CredentialsByIDs(ctx context.Context, workspaceID int64, ids []string) ([]*models.Credential, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var credentials []*models.Credential

	for _, id := range ids {
		credential, ok := r.p.credentials[id]
		if !ok || credential.WorkspaceID != workspaceID {
			continue
		}

		clone := *credential
		credentials = append(credentials, &clone)
	}

	return credentials, nil
}

type variableRepo struct{ p *Persistence }

func (r *variableRepo) VariablesByWorkspace(ctx context.Context, workspaceID int64) ([]*models.Variable, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var variables []*models.Variable

	for _, variable := range r.p.variables {
		if variable.WorkspaceID == workspaceID {
			clone := *variable
			variables = append(variables, &clone)
		}
	}

	return variables, nil
}
