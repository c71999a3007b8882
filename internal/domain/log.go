package domain

import "time"

// DeploymentLog is a single line of deploy tool output.
type DeploymentLog struct {
	ID           int64     `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Stream       string    `json:"stream"`
	Line         string    `json:"line"`
	CreatedAt    time.Time `json:"created_at"`
}
