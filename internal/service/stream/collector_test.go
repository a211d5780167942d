package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/docker"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository"
)

type collectorServices struct {
	repository.ServiceRepository
	services []domain.Service
}

func (c collectorServices) ListServicesByOwner(ctx context.Context, ownerID string) ([]domain.Service, error) {
	return c.services, nil
}

type collectorGateway struct {
	docker.Gateway
	containers []docker.Container
	listErr    error
	stats      map[string]*docker.Stats
}

func (g collectorGateway) ListContainers(ctx context.Context) ([]docker.Container, error) {
	return g.containers, g.listErr
}

func (g collectorGateway) ContainerStats(ctx context.Context, id string) (*docker.Stats, error) {
	s, ok := g.stats[id]
	if !ok {
		return nil, docker.ErrNotFound
	}
	return s, nil
}

func TestCollectorAggregatesPerService(t *testing.T) {
	deleted := time.Now()
	services := collectorServices{services: []domain.Service{
		{ID: "s1", Name: "web", Type: domain.ServiceTypeDocker},
		{ID: "s2", Name: "stack", Type: domain.ServiceTypeCompose},
		{ID: "s3", Name: "gone", DeletedAt: &deleted},
	}}
	gateway := collectorGateway{
		containers: []docker.Container{
			{ID: "a", State: "running", Labels: map[string]string{docker.LabelServiceID: "s1"}},
			{ID: "b", State: "running", Labels: map[string]string{docker.LabelServiceID: "s1"}},
			{ID: "c", State: "exited", Labels: map[string]string{docker.LabelServiceID: "s1"}},
			{ID: "d", State: "running", Labels: map[string]string{docker.LabelComposeProject: "stack"}},
			{ID: "e", State: "running", Labels: map[string]string{docker.LabelServiceID: "s1"}},
		},
		stats: map[string]*docker.Stats{
			"a": {CPUPercent: 10, MemoryUsage: 100, MemoryLimit: 1000},
			"b": {CPUPercent: 5.5, MemoryUsage: 50, MemoryLimit: 1000},
			"d": {CPUPercent: 1, MemoryUsage: 10, MemoryLimit: 500},
		},
	}
	c := NewCollector(services, gateway, slog.New(slog.NewTextHandler(io.Discard, nil)))

	out, err := c.Collect(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, ServiceMetrics{ServiceID: "s1", Name: "web", Containers: 2, CPUPercent: 15.5, MemoryUsage: 150, MemoryLimit: 2000}, out[0])
	assert.Equal(t, ServiceMetrics{ServiceID: "s2", Name: "stack", Containers: 1, CPUPercent: 1, MemoryUsage: 10, MemoryLimit: 500}, out[1])
}

func TestCollectorFailsWhenEngineUnavailable(t *testing.T) {
	c := NewCollector(collectorServices{}, collectorGateway{listErr: errors.New("down")}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := c.Collect(context.Background(), "u1")
	require.Error(t, err)
}
