package repository

import (
	"context"
	"time"

	"github.com/awslabs/lisa-deployer/internal/domain"
)

// DeploymentRepository stores deployment attempts.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	ListDeployments(ctx context.Context, limit int) ([]domain.Deployment, error)
	ListUnverifiedDeployments(ctx context.Context, updatedBefore time.Time) ([]domain.Deployment, error)
}

// LogRepository handles deploy tool output persistence and retrieval.
type LogRepository interface {
	AppendLog(ctx context.Context, log domain.DeploymentLog) error
	ListLogsByDeployment(ctx context.Context, deploymentID string, limit, offset int) ([]domain.DeploymentLog, error)
	PruneLogs(ctx context.Context, deploymentID string, keep int) error
}
