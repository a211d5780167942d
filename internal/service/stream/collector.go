package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/docker"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/status"
)

// ServiceMetrics is the aggregated resource usage of one service.
type ServiceMetrics struct {
	ServiceID   string  `json:"serviceId"`
	Name        string  `json:"name"`
	Containers  int     `json:"containers"`
	CPUPercent  float64 `json:"cpuPercent"`
	MemoryUsage uint64  `json:"memoryUsage"`
	MemoryLimit uint64  `json:"memoryLimit"`
}

// MetricsSource produces a metrics snapshot for everything ownerID runs.
type MetricsSource interface {
	Collect(ctx context.Context, ownerID string) ([]ServiceMetrics, error)
}

// Collector reads resource usage from the container engine.
type Collector struct {
	services repository.ServiceRepository
	gateway  docker.Gateway
	logger   *slog.Logger
}

// NewCollector constructs a Collector.
func NewCollector(services repository.ServiceRepository, gateway docker.Gateway, logger *slog.Logger) *Collector {
	return &Collector{services: services, gateway: gateway, logger: logger.With("component", "stream_collector")}
}

// Collect lists the owner's services, matches their running containers and
// sums CPU and memory per service. A container whose stats cannot be read is
// left out of the sums.
func (c *Collector) Collect(ctx context.Context, ownerID string) ([]ServiceMetrics, error) {
	services, err := c.services.ListServicesByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	containers, err := c.gateway.ListContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]ServiceMetrics, 0, len(services))
	for i := range services {
		svc := &services[i]
		if svc.Deleted() {
			continue
		}
		m := ServiceMetrics{ServiceID: svc.ID, Name: svc.Name}
		for _, ctr := range status.Matching(svc, containers) {
			if !strings.EqualFold(ctr.State, "running") {
				continue
			}
			stats, err := c.gateway.ContainerStats(ctx, ctr.ID)
			if err != nil {
				c.logger.Debug("container stats unavailable", "container_id", ctr.ID, "service_id", svc.ID, "error", err)
				continue
			}
			m.Containers++
			m.CPUPercent += stats.CPUPercent
			m.MemoryUsage += stats.MemoryUsage
			m.MemoryLimit += stats.MemoryLimit
		}
		out = append(out, m)
	}
	return out, nil
}
