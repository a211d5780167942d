// Package status derives the externally visible state of a service.
package status

import (
	"strings"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/docker"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
)

// Resolve computes a service's status from its hint, latest deployment and
// the containers currently known to the engine. latest may be nil.
func Resolve(svc *domain.Service, latest *domain.Deployment, containers []docker.Container) domain.Status {
	if svc.Status == domain.StatusDeploying {
		return domain.StatusDeploying
	}

	matched := Matching(svc, containers)
	if latest != nil && latest.Status.InFlight() {
		return domain.StatusDeploying
	}

	if len(matched) > 0 {
		return fromContainers(matched)
	}

	if latest != nil {
		switch latest.Status {
		case domain.DeploymentFailed:
			return domain.StatusFailed
		case domain.DeploymentSuccess:
			return domain.StatusStopped
		}
	}
	return domain.StatusIdle
}

// Matching filters containers down to those labeled for svc.
func Matching(svc *domain.Service, containers []docker.Container) []docker.Container {
	project := ""
	if svc.Type == domain.ServiceTypeCompose {
		project = svc.ComposeProject()
	}
	out := make([]docker.Container, 0, len(containers))
	for _, c := range containers {
		if docker.MatchesService(c, svc.ID, project) {
			out = append(out, c)
		}
	}
	return out
}

func fromContainers(matched []docker.Container) domain.Status {
	for _, c := range matched {
		if strings.EqualFold(c.State, "running") {
			return domain.StatusRunning
		}
	}
	for _, c := range matched {
		if strings.EqualFold(c.State, "restarting") {
			return domain.StatusCrashing
		}
	}
	for _, c := range matched {
		switch strings.ToLower(c.State) {
		case "exited", "dead", "created":
			continue
		default:
			return domain.Status(strings.ToUpper(c.State))
		}
	}
	return domain.StatusStopped
}
