package domain

// Status is the externally visible state of a Service.
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusDeploying Status = "DEPLOYING"
	StatusRunning   Status = "RUNNING"
	StatusCrashing  Status = "CRASHING"
	StatusStopped   Status = "STOPPED"
	StatusFailed    Status = "FAILED"
)
