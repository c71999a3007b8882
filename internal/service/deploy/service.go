// Package deploy implements the deployment orchestration workflow: validate
// the request, derive the stack identifier, prepare a writable workspace,
// synthesize, deploy under a bounded wait, and decide the caller-facing
// result.
package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/awslabs/lisa-deployer/internal/cdk"
	"github.com/awslabs/lisa-deployer/internal/domain"
	"github.com/awslabs/lisa-deployer/internal/repository"
	"github.com/awslabs/lisa-deployer/internal/resource"
	"github.com/awslabs/lisa-deployer/internal/service/logs"
	"github.com/awslabs/lisa-deployer/internal/stack"
	"github.com/awslabs/lisa-deployer/internal/workspace"
	"github.com/awslabs/lisa-deployer/pkg/config"
	"github.com/awslabs/lisa-deployer/pkg/crypto"
)

// Status constants for deployments.
const (
	StatusPending   = "pending"
	StatusDeploying = "deploying"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusNoStack   = "no_stack"
)

// Request contains deployment parameters from the API.
type Request struct {
	DeploymentID   string          `json:"deploymentId"`
	ResourceConfig json.RawMessage `json:"resourceConfig"`
}

// Result is the caller-facing completion signal. StackName is null when the
// requested configuration provisions no dedicated stack.
type Result struct {
	DeploymentID string  `json:"deploymentId"`
	StackName    *string `json:"stackName"`
}

// Runner abstracts the synthesis/deploy tool invocation.
type Runner interface {
	Synth(ws *workspace.Workspace, sink cdk.LineSink) error
	Deploy(ws *workspace.Workspace, stackName string, bound time.Duration, sink cdk.LineSink) (bool, error)
}

// WorkspacePreparer supplies writable workspaces.
type WorkspacePreparer interface {
	Prepare() (*workspace.Workspace, error)
}

// Service coordinates stack deployments via the deploy tool.
type Service struct {
	deployments repository.DeploymentRepository
	runner      Runner
	workspaces  WorkspacePreparer
	logs        logs.Service
	logger      *slog.Logger
	cfg         config.DeployerConfig
}

// New creates a deployment service.
func New(deployments repository.DeploymentRepository, runner Runner, workspaces WorkspacePreparer, logSvc logs.Service, logger *slog.Logger, cfg config.DeployerConfig) Service {
	return Service{
		deployments: deployments,
		runner:      runner,
		workspaces:  workspaces,
		logs:        logSvc,
		logger:      logger,
		cfg:         cfg,
	}
}

// Handle executes the deployment workflow synchronously and returns the
// completion signal. All fatal errors are returned to the caller; the only
// non-error "failure" is the deploy timeout, which reports optimistic success.
func (s Service) Handle(ctx context.Context, req Request) (Result, error) {
	rc, err := resource.Parse(req.ResourceConfig)
	if err != nil {
		return Result{}, err
	}
	stackName, err := stack.Name(s.cfg.AppName, s.cfg.DeploymentName, s.cfg.DeploymentStage, rc.StackComponent(), rc.ID)
	if err != nil {
		return Result{}, fmt.Errorf("derive stack name: %w", err)
	}
	if req.DeploymentID == "" {
		req.DeploymentID = uuid.NewString()
	}

	payload, err := s.sealConfig(req.ResourceConfig)
	if err != nil {
		return Result{}, fmt.Errorf("seal resource config: %w", err)
	}

	now := time.Now().UTC()
	record := &domain.Deployment{
		ID:           req.DeploymentID,
		StackName:    stackName,
		ResourceType: string(rc.Kind),
		ResourceID:   rc.ID,
		Status:       StatusPending,
		Message:      "deployment requested",
		Config:       payload,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.deployments.CreateDeployment(ctx, record); err != nil {
		return Result{}, fmt.Errorf("record deployment: %w", err)
	}

	s.logger.Info("deployment received", "deployment_id", req.DeploymentID, "stack", stackName, "resource_type", rc.Kind, "resource_id", rc.ID)
	sink := s.lineSink(ctx, req.DeploymentID)

	ws, err := s.workspaces.Prepare()
	if err != nil {
		err = fmt.Errorf("prepare workspace: %w", err)
		s.fail(ctx, req.DeploymentID, err)
		return Result{}, err
	}

	s.updateStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID: req.DeploymentID,
		Status:       StatusDeploying,
		Message:      "synthesizing stack",
	})

	if err := s.runner.Synth(ws, sink); err != nil {
		s.fail(ctx, req.DeploymentID, err)
		return Result{}, err
	}

	verified, err := s.runner.Deploy(ws, stackName, s.cfg.DeployTimeout, sink)
	if err != nil {
		s.fail(ctx, req.DeploymentID, err)
		return Result{}, err
	}

	result := s.settle(ctx, req.DeploymentID, stackName, rc, verified)

	if s.cfg.LogRetainLines > 0 {
		if err := s.logs.Prune(ctx, req.DeploymentID, s.cfg.LogRetainLines); err != nil {
			s.logger.Warn("log prune failed", "deployment_id", req.DeploymentID, "error", err)
		}
	}
	return result, nil
}

// settle applies the result decision after a successful (or optimistically
// successful) deploy step.
func (s Service) settle(ctx context.Context, deploymentID, stackName string, rc resource.Config, verified bool) Result {
	now := time.Now().UTC()
	if !rc.NeedsStack() {
		s.updateStatus(ctx, domain.DeploymentStatusUpdate{
			DeploymentID: deploymentID,
			Status:       StatusNoStack,
			Message:      "configuration provisions no dedicated stack",
			CompletedAt:  &now,
		})
		s.logger.Info("deployment completed without stack", "deployment_id", deploymentID, "resource_type", rc.Kind)
		return Result{DeploymentID: deploymentID, StackName: nil}
	}

	update := domain.DeploymentStatusUpdate{
		DeploymentID: deploymentID,
		Status:       StatusSucceeded,
		Unverified:   !verified,
	}
	if verified {
		update.Message = "deploy completed"
		update.CompletedAt = &now
	} else {
		update.Message = "deploy running past bound, completion verified out of band"
	}
	s.updateStatus(ctx, update)
	s.logger.Info("deployment completed", "deployment_id", deploymentID, "stack", stackName, "verified", verified)
	return Result{DeploymentID: deploymentID, StackName: &stackName}
}

// Get returns a single deployment record.
func (s Service) Get(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	return s.deployments.GetDeploymentByID(ctx, deploymentID)
}

// List returns recent deployments.
func (s Service) List(ctx context.Context, limit int) ([]domain.Deployment, error) {
	return s.deployments.ListDeployments(ctx, limit)
}

// Logs returns stored deploy tool output for a deployment.
func (s Service) Logs(ctx context.Context, deploymentID string, limit, offset int) ([]domain.DeploymentLog, error) {
	return s.logs.List(ctx, deploymentID, limit, offset)
}

func (s Service) sealConfig(raw json.RawMessage) ([]byte, error) {
	if s.cfg.EncryptionKey == "" {
		return raw, nil
	}
	return crypto.EncryptString(s.cfg.EncryptionKey, string(raw))
}

func (s Service) lineSink(ctx context.Context, deploymentID string) cdk.LineSink {
	return func(stream, line string) {
		entry := domain.DeploymentLog{
			DeploymentID: deploymentID,
			Stream:       stream,
			Line:         line,
		}
		if err := s.logs.Append(ctx, entry); err != nil {
			s.logger.Warn("failed to append deploy log", "deployment_id", deploymentID, "error", err)
		}
	}
}

func (s Service) fail(ctx context.Context, deploymentID string, cause error) {
	now := time.Now().UTC()
	s.updateStatus(ctx, domain.DeploymentStatusUpdate{
		DeploymentID: deploymentID,
		Status:       StatusFailed,
		Message:      "deployment failed",
		Error:        cause.Error(),
		CompletedAt:  &now,
	})
	s.logger.Error("deployment failed", "deployment_id", deploymentID, "error", cause)
}

func (s Service) updateStatus(ctx context.Context, update domain.DeploymentStatusUpdate) {
	if err := s.deployments.UpdateDeploymentStatus(ctx, update); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("update deployment status failed", "deployment_id", update.DeploymentID, "error", err)
	}
}
