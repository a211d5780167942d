package deploy

import "github.com/ramiz4/helvetia-cloud-sub000/internal/domain"

// BuildJob is the payload of a "build" job. RepoURL may carry credentials and
// must never be written back to the service.
type BuildJob struct {
	DeploymentID    string             `json:"deploymentId"`
	ServiceID       string             `json:"serviceId"`
	ServiceName     string             `json:"serviceName"`
	ServiceType     domain.ServiceType `json:"serviceType"`
	OwnerID         string             `json:"ownerId"`
	RepoURL         string             `json:"repoUrl,omitempty"`
	Branch          string             `json:"branch"`
	CommitHash      string             `json:"commitHash,omitempty"`
	BuildCommand    string             `json:"buildCommand,omitempty"`
	StartCommand    string             `json:"startCommand,omitempty"`
	Port            int                `json:"port"`
	EnvVars         map[string]string  `json:"envVars"`
	StaticOutputDir string             `json:"staticOutputDir,omitempty"`
	CustomDomain    string             `json:"customDomain,omitempty"`
	IsPreview       bool               `json:"isPreview"`
	PRNumber        *int               `json:"prNumber,omitempty"`
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func newBuildJob(svc *domain.Service, deploymentID, repoURL, commit string) BuildJob {
	env := make(map[string]string, len(svc.EnvVars))
	for k, v := range svc.EnvVars {
		env[k] = v
	}
	return BuildJob{
		DeploymentID:    deploymentID,
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		ServiceType:     svc.Type,
		OwnerID:         svc.OwnerID,
		RepoURL:         repoURL,
		Branch:          svc.Branch,
		CommitHash:      commit,
		BuildCommand:    deref(svc.BuildCommand),
		StartCommand:    deref(svc.StartCommand),
		Port:            svc.Port,
		EnvVars:         env,
		StaticOutputDir: deref(svc.StaticOutputDir),
		CustomDomain:    deref(svc.CustomDomain),
		IsPreview:       svc.IsPreview,
		PRNumber:        svc.PRNumber,
	}
}
