package verify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/awslabs/lisa-deployer/internal/domain"
	"github.com/awslabs/lisa-deployer/internal/repository"
	"github.com/awslabs/lisa-deployer/internal/service/deploy"
)

const (
	defaultInterval  = 60 * time.Second
	reconcileTimeout = 30 * time.Second
)

// StackDescriber is the narrow CloudFormation surface the verifier needs.
type StackDescriber interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// Verifier reconciles deployments whose deploy subprocess outlived its bound.
// A timed-out deploy is reported as succeeded but flagged unverified; this
// loop settles each flag against the actual CloudFormation stack state.
type Verifier struct {
	deployments repository.DeploymentRepository
	stacks      StackDescriber
	logger      *slog.Logger

	interval time.Duration
	minAge   time.Duration

	now func() time.Time
}

// New constructs a verifier. It returns nil when no describer is available.
func New(deployments repository.DeploymentRepository, stacks StackDescriber, logger *slog.Logger, interval, minAge time.Duration) *Verifier {
	if deployments == nil || stacks == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultInterval
	}

	v := &Verifier{
		deployments: deployments,
		stacks:      stacks,
		logger:      logger,
		interval:    interval,
		minAge:      minAge,
		now:         time.Now,
	}
	if v.logger != nil {
		v.logger = v.logger.With("component", "verifier")
	}
	return v
}

// Run executes the reconciliation loop until the context is cancelled.
func (v *Verifier) Run(ctx context.Context) {
	if v == nil {
		return
	}
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	v.logger.Info("stack verifier started", "interval", v.interval)
	v.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			v.logger.Info("stack verifier stopped")
			return
		case <-ticker.C:
			v.runIteration(ctx)
		}
	}
}

func (v *Verifier) runIteration(parent context.Context) {
	timeout := reconcileTimeout
	if v.interval > 0 && v.interval < timeout {
		timeout = v.interval
	}
	opCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	cutoff := v.now().Add(-v.minAge)
	pending, err := v.deployments.ListUnverifiedDeployments(opCtx, cutoff)
	if err != nil {
		v.logger.Error("list unverified deployments", "error", err)
		return
	}

	for _, d := range pending {
		if opCtx.Err() != nil {
			return
		}
		v.reconcile(opCtx, d)
	}
}

func (v *Verifier) reconcile(ctx context.Context, d domain.Deployment) {
	if d.StackName == "" {
		return
	}

	out, err := v.stacks.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: &d.StackName,
	})
	if err != nil {
		if stackMissing(err) {
			v.settle(ctx, d, deploy.StatusFailed, "stack no longer exists")
			return
		}
		v.logger.Error("describe stack", "stack", d.StackName, "error", err)
		return
	}
	if len(out.Stacks) == 0 {
		v.settle(ctx, d, deploy.StatusFailed, "stack no longer exists")
		return
	}

	status := out.Stacks[0].StackStatus
	switch status {
	case cfntypes.StackStatusCreateComplete, cfntypes.StackStatusUpdateComplete:
		v.settle(ctx, d, deploy.StatusSucceeded, "stack verified")
	case cfntypes.StackStatusCreateFailed,
		cfntypes.StackStatusRollbackComplete,
		cfntypes.StackStatusRollbackFailed,
		cfntypes.StackStatusUpdateRollbackComplete,
		cfntypes.StackStatusUpdateRollbackFailed,
		cfntypes.StackStatusDeleteComplete,
		cfntypes.StackStatusDeleteFailed:
		v.settle(ctx, d, deploy.StatusFailed, "stack settled in "+string(status))
	default:
		// Still converging; check again next iteration.
	}
}

func (v *Verifier) settle(ctx context.Context, d domain.Deployment, status, message string) {
	now := v.now().UTC()
	update := domain.DeploymentStatusUpdate{
		DeploymentID: d.ID,
		Status:       status,
		Unverified:   false,
		Message:      message,
		CompletedAt:  &now,
	}
	if status == deploy.StatusFailed {
		update.Error = message
	}
	if err := v.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
		v.logger.Error("settle deployment", "deployment_id", d.ID, "error", err)
		return
	}
	v.logger.Info("deployment verified", "deployment_id", d.ID, "stack", d.StackName, "status", status)
}

// stackMissing detects the ValidationError CloudFormation returns for
// describe calls against a stack that does not exist.
func stackMissing(err error) bool {
	return err != nil && strings.Contains(err.Error(), "does not exist")
}
