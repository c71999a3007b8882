package logs

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/awslabs/lisa-deployer/internal/domain"
	"github.com/awslabs/lisa-deployer/internal/repository"
	"github.com/awslabs/lisa-deployer/internal/ws"
)

// Service handles deploy log persistence and streaming.
type Service struct {
	repo   repository.LogRepository
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs a log service.
func New(repo repository.LogRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger}
}

// Append stores and broadcasts a log line.
func (s Service) Append(ctx context.Context, entry domain.DeploymentLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	if err := s.repo.AppendLog(ctx, entry); err != nil {
		return err
	}
	s.broadcast(entry)
	return nil
}

// List returns stored log lines for a deployment.
func (s Service) List(ctx context.Context, deploymentID string, limit, offset int) ([]domain.DeploymentLog, error) {
	return s.repo.ListLogsByDeployment(ctx, deploymentID, limit, offset)
}

// Prune trims stored log lines down to keep.
func (s Service) Prune(ctx context.Context, deploymentID string, keep int) error {
	return s.repo.PruneLogs(ctx, deploymentID, keep)
}

// Hub returns the websocket hub (useful for HTTP handlers).
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) broadcast(entry domain.DeploymentLog) {
	if s.hub == nil {
		return
	}
	data, err := MarshalEntry(entry)
	if err != nil {
		s.logger.Warn("failed to marshal log payload", "error", err)
		return
	}
	s.hub.Broadcast(entry.DeploymentID, data)
}

// MarshalEntry formats a deployment log line for streaming payloads.
func MarshalEntry(entry domain.DeploymentLog) ([]byte, error) {
	payload := map[string]any{
		"deployment_id": entry.DeploymentID,
		"stream":        entry.Stream,
		"line":          entry.Line,
		"created_at":    entry.CreatedAt.Format(time.RFC3339Nano),
		"id":            entry.ID,
	}
	return json.Marshal(payload)
}
