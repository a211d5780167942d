package domain

import "time"

// DeploymentStatus is the build state of a Deployment.
type DeploymentStatus string

const (
	DeploymentQueued   DeploymentStatus = "QUEUED"
	DeploymentBuilding DeploymentStatus = "BUILDING"
	DeploymentSuccess  DeploymentStatus = "SUCCESS"
	DeploymentFailed   DeploymentStatus = "FAILED"
)

// InFlight reports whether a build is pending or running.
func (s DeploymentStatus) InFlight() bool {
	return s == DeploymentQueued || s == DeploymentBuilding
}

// Deployment captures a single build attempt for a service.
type Deployment struct {
	ID         string
	ServiceID  string
	Status     DeploymentStatus
	CommitHash *string
	ImageTag   *string
	Logs       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
