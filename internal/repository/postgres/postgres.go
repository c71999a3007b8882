package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awslabs/lisa-deployer/internal/domain"
	"github.com/awslabs/lisa-deployer/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.LogRepository        = (*Repository)(nil)
)

const deploymentColumns = `id, stack_name, resource_type, resource_id, status, unverified, message, error, config, started_at, completed_at, updated_at`

// CreateDeployment inserts a deployment attempt.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID, deployment.StackName, deployment.ResourceType, deployment.ResourceID,
		deployment.Status, deployment.Unverified, deployment.Message, deployment.Error,
		deployment.Config, deployment.StartedAt, deployment.CompletedAt, deployment.UpdatedAt)
	return err
}

// UpdateDeploymentStatus applies a status transition.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	const query = `UPDATE deployments
		SET status = $2,
		    unverified = $3,
		    message = COALESCE(NULLIF($4, ''), message),
		    error = $5,
		    completed_at = COALESCE($6, completed_at),
		    updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		update.DeploymentID, update.Status, update.Unverified,
		update.Message, update.Error, update.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetDeploymentByID fetches a single deployment.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, deploymentID)
	d, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListDeployments returns recent deployments, newest first.
func (r *Repository) ListDeployments(ctx context.Context, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		ORDER BY started_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// ListUnverifiedDeployments returns deployments whose tool timed out before
// confirming completion and which have not been touched since updatedBefore.
func (r *Repository) ListUnverifiedDeployments(ctx context.Context, updatedBefore time.Time) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE unverified = TRUE AND updated_at < $1
		ORDER BY updated_at ASC`
	rows, err := r.pool.Query(ctx, query, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.StackName, &d.ResourceType, &d.ResourceID,
		&d.Status, &d.Unverified, &d.Message, &d.Error, &d.Config,
		&d.StartedAt, &d.CompletedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDeployments(rows pgx.Rows) ([]domain.Deployment, error) {
	var out []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// AppendLog stores a line of deploy tool output.
func (r *Repository) AppendLog(ctx context.Context, log domain.DeploymentLog) error {
	const query = `INSERT INTO deployment_logs (deployment_id, stream, line, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, log.DeploymentID, log.Stream, log.Line, log.CreatedAt)
	return err
}

// ListLogsByDeployment returns stored output lines, oldest first.
func (r *Repository) ListLogsByDeployment(ctx context.Context, deploymentID string, limit, offset int) ([]domain.DeploymentLog, error) {
	if limit <= 0 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT id, deployment_id, stream, line, created_at FROM deployment_logs
		WHERE deployment_id = $1 ORDER BY id ASC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, deploymentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DeploymentLog
	for rows.Next() {
		var l domain.DeploymentLog
		if err := rows.Scan(&l.ID, &l.DeploymentID, &l.Stream, &l.Line, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// PruneLogs drops everything but the newest keep lines of a deployment.
func (r *Repository) PruneLogs(ctx context.Context, deploymentID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	const query = `DELETE FROM deployment_logs
		WHERE deployment_id = $1 AND id NOT IN (
			SELECT id FROM deployment_logs WHERE deployment_id = $1 ORDER BY id DESC LIMIT $2
		)`
	_, err := r.pool.Exec(ctx, query, deploymentID, keep)
	return err
}
