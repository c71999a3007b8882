package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/awslabs/lisa-deployer/internal/cdk"
	"github.com/awslabs/lisa-deployer/internal/domain"
	"github.com/awslabs/lisa-deployer/internal/repository"
	"github.com/awslabs/lisa-deployer/internal/resource"
	"github.com/awslabs/lisa-deployer/internal/service/logs"
	"github.com/awslabs/lisa-deployer/internal/workspace"
	"github.com/awslabs/lisa-deployer/pkg/config"
	"github.com/awslabs/lisa-deployer/pkg/crypto"
)

type memoryRepository struct {
	mu          sync.Mutex
	deployments map[string]domain.Deployment
	logLines    map[string][]domain.DeploymentLog
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		deployments: make(map[string]domain.Deployment),
		logLines:    make(map[string][]domain.DeploymentLog),
	}
}

func (m *memoryRepository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployments[deployment.ID] = *deployment
	return nil
}

func (m *memoryRepository) UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployments[update.DeploymentID]
	if !ok {
		return repository.ErrNotFound
	}
	d.Status = update.Status
	d.Unverified = update.Unverified
	if update.Message != "" {
		d.Message = update.Message
	}
	d.Error = update.Error
	if update.CompletedAt != nil {
		d.CompletedAt = update.CompletedAt
	}
	d.UpdatedAt = time.Now().UTC()
	m.deployments[update.DeploymentID] = d
	return nil
}

func (m *memoryRepository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployments[deploymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (m *memoryRepository) ListDeployments(ctx context.Context, limit int) ([]domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Deployment
	for _, d := range m.deployments {
		out = append(out, d)
	}
	return out, nil
}

func (m *memoryRepository) ListUnverifiedDeployments(ctx context.Context, updatedBefore time.Time) ([]domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Deployment
	for _, d := range m.deployments {
		if d.Unverified {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memoryRepository) AppendLog(ctx context.Context, log domain.DeploymentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logLines[log.DeploymentID] = append(m.logLines[log.DeploymentID], log)
	return nil
}

func (m *memoryRepository) ListLogsByDeployment(ctx context.Context, deploymentID string, limit, offset int) ([]domain.DeploymentLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DeploymentLog(nil), m.logLines[deploymentID]...), nil
}

func (m *memoryRepository) PruneLogs(ctx context.Context, deploymentID string, keep int) error {
	return nil
}

type fakeRunner struct {
	synthErr     error
	deployErr    error
	verified     bool
	synthCalled  bool
	deployCalled bool
	deployStack  string
	sinkLines    []string
}

func (f *fakeRunner) Synth(ws *workspace.Workspace, sink cdk.LineSink) error {
	f.synthCalled = true
	if sink != nil {
		sink("stdout", "synthesized")
	}
	return f.synthErr
}

func (f *fakeRunner) Deploy(ws *workspace.Workspace, stackName string, bound time.Duration, sink cdk.LineSink) (bool, error) {
	f.deployCalled = true
	f.deployStack = stackName
	return f.verified, f.deployErr
}

type fakePreparer struct {
	ws  *workspace.Workspace
	err error
}

func (f fakePreparer) Prepare() (*workspace.Workspace, error) {
	return f.ws, f.err
}

func testConfig() config.DeployerConfig {
	return config.DeployerConfig{
		AppName:         "lisa",
		DeploymentName:  "prod",
		DeploymentStage: "beta",
		DeployTimeout:   180 * time.Second,
	}
}

func newService(repo *memoryRepository, runner *fakeRunner) Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	logSvc := logs.New(repo, nil, log)
	preparer := fakePreparer{ws: &workspace.Workspace{Dir: "/tmp/scratch", OutDir: "/tmp/scratch/cdk.out"}}
	return New(repo, runner, preparer, logSvc, log, testConfig())
}

func TestHandleDeploysVectorStore(t *testing.T) {
	repo := newMemoryRepository()
	runner := &fakeRunner{verified: true}
	svc := newService(repo, runner)

	result, err := svc.Handle(context.Background(), Request{
		ResourceConfig: json.RawMessage(`{"type":"pgvector","repositoryId":"r1"}`),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.StackName == nil || *result.StackName != "lisa-prod-beta-vector-store-r1" {
		t.Fatalf("unexpected stack name %v", result.StackName)
	}
	if !runner.synthCalled || !runner.deployCalled {
		t.Fatalf("expected synth and deploy to run")
	}
	if runner.deployStack != "lisa-prod-beta-vector-store-r1" {
		t.Fatalf("deploy invoked with stack %q", runner.deployStack)
	}

	record, err := repo.GetDeploymentByID(context.Background(), result.DeploymentID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != StatusSucceeded || record.Unverified {
		t.Fatalf("unexpected record state %+v", record)
	}
	if record.CompletedAt == nil {
		t.Fatalf("verified deployment must have a completion time")
	}
}

func TestHandleRejectsMissingResourceConfig(t *testing.T) {
	repo := newMemoryRepository()
	runner := &fakeRunner{}
	svc := newService(repo, runner)

	_, err := svc.Handle(context.Background(), Request{})
	if !errors.Is(err, resource.ErrMissingConfig) {
		t.Fatalf("expected ErrMissingConfig, got %v", err)
	}
	if runner.synthCalled || runner.deployCalled {
		t.Fatalf("no subprocess may run for invalid input")
	}
	if len(repo.deployments) != 0 {
		t.Fatalf("no record may be created for invalid input")
	}
}

func TestHandleSynthFailureSkipsDeploy(t *testing.T) {
	repo := newMemoryRepository()
	runner := &fakeRunner{synthErr: cdk.ErrSynthFailed}
	svc := newService(repo, runner)

	res, err := svc.Handle(context.Background(), Request{
		DeploymentID:   "dep-1",
		ResourceConfig: json.RawMessage(`{"type":"opensearch","repositoryId":"r2"}`),
	})
	if !errors.Is(err, cdk.ErrSynthFailed) {
		t.Fatalf("expected synth error, got %v (%+v)", err, res)
	}
	if runner.deployCalled {
		t.Fatalf("deploy must never run after synth failure")
	}
	record, err := repo.GetDeploymentByID(context.Background(), "dep-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != StatusFailed {
		t.Fatalf("expected failed status, got %q", record.Status)
	}
}

func TestHandleDeployFailurePropagates(t *testing.T) {
	repo := newMemoryRepository()
	runner := &fakeRunner{deployErr: cdk.ErrDeployFailed}
	svc := newService(repo, runner)

	_, err := svc.Handle(context.Background(), Request{
		DeploymentID:   "dep-2",
		ResourceConfig: json.RawMessage(`{"type":"pgvector","repositoryId":"r3"}`),
	})
	if !errors.Is(err, cdk.ErrDeployFailed) {
		t.Fatalf("expected deploy error, got %v", err)
	}
	record, _ := repo.GetDeploymentByID(context.Background(), "dep-2")
	if record.Status != StatusFailed || record.Error == "" {
		t.Fatalf("unexpected record state %+v", record)
	}
}

func TestHandleOptimisticTimeoutReportsSuccess(t *testing.T) {
	repo := newMemoryRepository()
	runner := &fakeRunner{verified: false}
	svc := newService(repo, runner)

	result, err := svc.Handle(context.Background(), Request{
		DeploymentID:   "dep-3",
		ResourceConfig: json.RawMessage(`{"type":"pgvector","repositoryId":"r1"}`),
	})
	if err != nil {
		t.Fatalf("timeout must still report success: %v", err)
	}
	if result.StackName == nil || *result.StackName != "lisa-prod-beta-vector-store-r1" {
		t.Fatalf("unexpected stack name %v", result.StackName)
	}
	record, _ := repo.GetDeploymentByID(context.Background(), "dep-3")
	if record.Status != StatusSucceeded || !record.Unverified {
		t.Fatalf("timed-out deployment must be succeeded+unverified, got %+v", record)
	}
	if record.CompletedAt != nil {
		t.Fatalf("unverified deployment must not carry a completion time yet")
	}
}

func TestHandleKnowledgeBaseWithoutPipelinesReturnsNullStack(t *testing.T) {
	repo := newMemoryRepository()
	runner := &fakeRunner{verified: true}
	svc := newService(repo, runner)

	result, err := svc.Handle(context.Background(), Request{
		DeploymentID:   "dep-4",
		ResourceConfig: json.RawMessage(`{"type":"bedrock_knowledge_base","repositoryId":"kb1"}`),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.StackName != nil {
		t.Fatalf("expected null stack name, got %q", *result.StackName)
	}
	record, _ := repo.GetDeploymentByID(context.Background(), "dep-4")
	if record.Status != StatusNoStack {
		t.Fatalf("expected no_stack status, got %q", record.Status)
	}
}

func TestHandleEncryptsStoredConfig(t *testing.T) {
	repo := newMemoryRepository()
	runner := &fakeRunner{verified: true}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	cfg.EncryptionKey = "at-rest-secret"
	logSvc := logs.New(repo, nil, log)
	preparer := fakePreparer{ws: &workspace.Workspace{Dir: "/tmp/scratch"}}
	svc := New(repo, runner, preparer, logSvc, log, cfg)

	raw := `{"type":"pgvector","repositoryId":"r1","connection":{"password":"hunter2"}}`
	result, err := svc.Handle(context.Background(), Request{ResourceConfig: json.RawMessage(raw)})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	record, _ := repo.GetDeploymentByID(context.Background(), result.DeploymentID)
	if string(record.Config) == raw {
		t.Fatalf("stored config must not be plaintext")
	}
	plain, err := crypto.DecryptToString(cfg.EncryptionKey, record.Config)
	if err != nil || plain != raw {
		t.Fatalf("stored config must decrypt back, err %v", err)
	}
}

func TestHandleStreamsSynthOutputToLogs(t *testing.T) {
	repo := newMemoryRepository()
	runner := &fakeRunner{verified: true}
	svc := newService(repo, runner)

	result, err := svc.Handle(context.Background(), Request{
		ResourceConfig: json.RawMessage(`{"type":"pgvector","repositoryId":"r1"}`),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	lines, err := svc.Logs(context.Background(), result.DeploymentID, 10, 0)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(lines) != 1 || lines[0].Line != "synthesized" {
		t.Fatalf("unexpected log lines %+v", lines)
	}
}
