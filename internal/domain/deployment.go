package domain

import "time"

// Deployment captures a single stack deployment attempt.
type Deployment struct {
	ID           string
	StackName    string
	ResourceType string
	ResourceID   string
	Status       string
	Unverified   bool
	Message      string
	Error        string
	Config       []byte
	StartedAt    time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// DeploymentStatusUpdate captures mutable fields for a deployment.
type DeploymentStatusUpdate struct {
	DeploymentID string
	Status       string
	Unverified   bool
	Message      string
	Error        string
	CompletedAt  *time.Time
}
