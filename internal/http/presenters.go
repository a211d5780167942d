package httpx

import (
	"time"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/catalog"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/deploy"
)

type serviceResponse struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	OwnerID          string              `json:"ownerId"`
	RepoURL          *string             `json:"repoUrl,omitempty"`
	Branch           string              `json:"branch"`
	BuildCommand     *string             `json:"buildCommand,omitempty"`
	StartCommand     *string             `json:"startCommand,omitempty"`
	Type             domain.ServiceType  `json:"type"`
	Port             int                 `json:"port"`
	EnvVars          map[string]string   `json:"envVars"`
	CustomDomain     *string             `json:"customDomain,omitempty"`
	StaticOutputDir  *string             `json:"staticOutputDir,omitempty"`
	IsPreview        bool                `json:"isPreview"`
	PRNumber         *int                `json:"prNumber,omitempty"`
	Status           domain.Status       `json:"status"`
	DeleteProtected  bool                `json:"deleteProtected"`
	LatestDeployment *deploymentResponse `json:"latestDeployment,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

type deploymentResponse struct {
	ID         string                  `json:"id"`
	ServiceID  string                  `json:"serviceId"`
	Status     domain.DeploymentStatus `json:"status"`
	CommitHash *string                 `json:"commitHash,omitempty"`
	ImageTag   *string                 `json:"imageTag,omitempty"`
	Logs       string                  `json:"logs,omitempty"`
	CreatedAt  time.Time               `json:"createdAt"`
	UpdatedAt  time.Time               `json:"updatedAt"`
}

func presentService(v catalog.View) serviceResponse {
	s := v.Service
	env := s.EnvVars
	if env == nil {
		env = map[string]string{}
	}
	out := serviceResponse{
		ID:              s.ID,
		Name:            s.Name,
		OwnerID:         s.OwnerID,
		RepoURL:         s.RepoURL,
		Branch:          s.Branch,
		BuildCommand:    s.BuildCommand,
		StartCommand:    s.StartCommand,
		Type:            s.Type,
		Port:            s.Port,
		EnvVars:         env,
		CustomDomain:    s.CustomDomain,
		StaticOutputDir: s.StaticOutputDir,
		IsPreview:       s.IsPreview,
		PRNumber:        s.PRNumber,
		Status:          v.Status,
		DeleteProtected: s.DeleteProtected,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if v.Latest != nil {
		d := presentDeployment(*v.Latest, false)
		out.LatestDeployment = &d
	}
	return out
}

func presentDeployment(d domain.Deployment, withLogs bool) deploymentResponse {
	out := deploymentResponse{
		ID:         d.ID,
		ServiceID:  d.ServiceID,
		Status:     d.Status,
		CommitHash: d.CommitHash,
		ImageTag:   d.ImageTag,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	if withLogs {
		out.Logs = d.Logs
	}
	return out
}

func presentDeployments(deps []domain.Deployment) []deploymentResponse {
	out := make([]deploymentResponse, 0, len(deps))
	for _, d := range deps {
		out = append(out, presentDeployment(d, false))
	}
	return out
}

type webhookResponse struct {
	Skipped     string               `json:"skipped,omitempty"`
	Deployments []deploymentResponse `json:"deployments,omitempty"`
	PreviewID   string               `json:"previewServiceId,omitempty"`
	Preview     string               `json:"preview,omitempty"`
	TornDown    string               `json:"removedServiceId,omitempty"`
}

func presentWebhookResult(res deploy.Result) webhookResponse {
	out := webhookResponse{Skipped: res.Skipped}
	if len(res.Deployments) > 0 {
		out.Deployments = presentDeployments(res.Deployments)
	}
	if res.Preview != nil {
		out.PreviewID = res.Preview.ID
		out.Preview = res.Preview.Name
	}
	if res.TornDown != nil {
		out.TornDown = res.TornDown.ID
	}
	return out
}
