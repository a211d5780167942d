package docker

import (
	"fmt"
	"strconv"
	"strings"
)

// Label keys forming the discovery contract between the control plane and the engine.
const (
	LabelServiceID      = "serviceId"
	LabelType           = "type"
	LabelComposeProject = "com.docker.compose.project"
)

// MatchesService reports whether c belongs to the service, by serviceId or,
// for compose stacks, by compose project.
func MatchesService(c Container, serviceID string, composeProject string) bool {
	if composeProject != "" {
		return c.Labels[LabelComposeProject] == composeProject
	}
	return c.Labels[LabelServiceID] == serviceID
}

// RouterLabels returns reverse-proxy labels routing hosts to port on the container.
func RouterLabels(router string, hosts []string, port int) map[string]string {
	rules := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		rules = append(rules, fmt.Sprintf("Host(`%s`)", h))
	}
	labels := map[string]string{
		"traefik.enable": "true",
	}
	if len(rules) == 0 {
		return labels
	}
	labels["traefik.http.routers."+router+".rule"] = strings.Join(rules, " || ")
	labels["traefik.http.routers."+router+".entrypoints"] = "web"
	labels["traefik.http.services."+router+".loadbalancer.server.port"] = strconv.Itoa(port)
	return labels
}
