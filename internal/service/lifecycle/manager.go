// Package lifecycle maps services onto engine containers, volumes and images.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/docker"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/status"
)

// Mode selects what happens to the database rows after runtime teardown.
type Mode int

const (
	// Soft keeps the rows and stamps deletedAt.
	Soft Mode = iota
	// Hard deletes deployments and the service row.
	Hard
)

func (m Mode) String() string {
	if m == Hard {
		return "hard"
	}
	return "soft"
}

// Options carries the platform-wide container settings.
type Options struct {
	PlatformDomain string
	ResourcePrefix string
	Network        string
	MemoryBytes    int64
	NanoCPUs       int64
}

// Manager runs teardown and in-place restarts.
type Manager struct {
	gateway     docker.Gateway
	services    repository.ServiceRepository
	deployments repository.DeploymentRepository
	opts        Options
	logger      *slog.Logger
	now         func() time.Time
	suffix      func() string
}

// New constructs a Manager.
func New(gateway docker.Gateway, services repository.ServiceRepository, deployments repository.DeploymentRepository, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		gateway:     gateway,
		services:    services,
		deployments: deployments,
		opts:        opts,
		logger:      logger.With("component", "lifecycle"),
		now:         time.Now,
		suffix:      func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

// VolumeName is the data volume of a single-container stateful service.
func (m *Manager) VolumeName(svc *domain.Service) string {
	return m.opts.ResourcePrefix + "-data-" + svc.Name
}

// Hosts lists the virtual hosts routed to the service.
func (m *Manager) Hosts(svc *domain.Service) []string {
	hosts := []string{
		svc.Name + "." + m.opts.PlatformDomain,
		svc.Name + ".localhost",
	}
	if svc.CustomDomain != nil && strings.TrimSpace(*svc.CustomDomain) != "" {
		hosts = append(hosts, strings.TrimSpace(*svc.CustomDomain))
	}
	return hosts
}

// Teardown removes every runtime resource of svc, then deletes or soft-deletes
// its rows. Runtime failures are logged per resource and never stop the sweep.
func (m *Manager) Teardown(ctx context.Context, svc *domain.Service, mode Mode) error {
	log := m.logger.With("service_id", svc.ID, "service", svc.Name, "mode", mode.String())

	containers, err := m.gateway.ListContainers(ctx)
	if err != nil {
		log.Warn("list containers failed during teardown", "error", err)
	}
	for _, c := range status.Matching(svc, containers) {
		if err := m.gateway.StopContainer(ctx, c.ID); err != nil && !docker.IsNotFound(err) {
			log.Warn("stop container failed", "container_id", c.ID, "error", err)
		}
		if err := m.gateway.RemoveContainer(ctx, c.ID); err != nil && !docker.IsNotFound(err) {
			log.Warn("remove container failed", "container_id", c.ID, "error", err)
		}
	}

	switch {
	case svc.Type.Stateful():
		m.removeVolume(ctx, log, m.VolumeName(svc))
	case svc.Type == domain.ServiceTypeCompose:
		volumes, err := m.gateway.ListVolumes(ctx, map[string]string{docker.LabelComposeProject: svc.ComposeProject()})
		if err != nil {
			log.Warn("list compose volumes failed", "error", err)
		}
		for _, v := range volumes {
			m.removeVolume(ctx, log, v.Name)
		}
	}

	tags, err := m.deployments.ListImageTagsByService(ctx, svc.ID)
	if err != nil {
		log.Warn("list image tags failed", "error", err)
	}
	for _, tag := range tags {
		if err := m.gateway.RemoveImage(ctx, tag); err != nil && !docker.IsNotFound(err) {
			log.Warn("remove image failed", "image", tag, "error", err)
		}
	}

	if mode == Hard {
		if err := m.deployments.DeleteDeploymentsByService(ctx, svc.ID); err != nil {
			return fmt.Errorf("delete deployments: %w", err)
		}
		if err := m.services.DeleteService(ctx, svc.ID); err != nil {
			return fmt.Errorf("delete service: %w", err)
		}
	} else {
		if err := m.services.SoftDeleteService(ctx, svc.ID, m.now().UTC()); err != nil {
			return fmt.Errorf("soft delete service: %w", err)
		}
	}
	log.Info("service torn down")
	return nil
}

func (m *Manager) removeVolume(ctx context.Context, log *slog.Logger, name string) {
	if err := m.gateway.RemoveVolume(ctx, name); err != nil && !docker.IsNotFound(err) {
		log.Warn("remove volume failed", "volume", name, "error", err)
	}
}

// Provision replaces the service's containers with a fresh one running the
// same image. Nothing is replaced unless the new container started.
func (m *Manager) Provision(ctx context.Context, svc *domain.Service) (string, error) {
	if svc.Type == domain.ServiceTypeCompose {
		return "", domain.ErrComposeRestart
	}

	containers, err := m.gateway.ListContainers(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: list containers: %v", domain.ErrRuntime, err)
	}
	existing := status.Matching(svc, containers)

	image, err := m.currentImage(ctx, svc, existing)
	if err != nil {
		return "", err
	}

	spec := m.containerSpec(svc, image)
	id, err := m.gateway.CreateAndStart(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("%w: start %s: %v", domain.ErrRuntime, spec.Name, err)
	}

	for _, c := range existing {
		if err := m.gateway.StopContainer(ctx, c.ID); err != nil && !docker.IsNotFound(err) {
			m.logger.Warn("stop replaced container failed", "service_id", svc.ID, "container_id", c.ID, "error", err)
		}
		if err := m.gateway.RemoveContainer(ctx, c.ID); err != nil && !docker.IsNotFound(err) {
			m.logger.Warn("remove replaced container failed", "service_id", svc.ID, "container_id", c.ID, "error", err)
		}
	}
	m.logger.Info("service restarted", "service_id", svc.ID, "container", spec.Name, "image", image, "replaced", len(existing))
	return id, nil
}

func (m *Manager) currentImage(ctx context.Context, svc *domain.Service, existing []docker.Container) (string, error) {
	if len(existing) > 0 {
		info, err := m.gateway.InspectContainer(ctx, existing[0].ID)
		if err != nil && !docker.IsNotFound(err) {
			return "", fmt.Errorf("%w: inspect %s: %v", domain.ErrRuntime, existing[0].ID, err)
		}
		if info != nil && info.Image != "" {
			return info.Image, nil
		}
	}
	latest, err := m.deployments.GetLatestDeployment(ctx, svc.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("load latest deployment: %w", err)
	}
	if latest != nil && latest.ImageTag != nil && *latest.ImageTag != "" {
		return *latest.ImageTag, nil
	}
	return "", fmt.Errorf("%w: service %s has no image to restart; deploy it first", domain.ErrValidation, svc.Name)
}

func (m *Manager) containerSpec(svc *domain.Service, image string) docker.ContainerSpec {
	base := slug.Make(svc.Name)
	labels := docker.RouterLabels(base, m.Hosts(svc), svc.Port)
	labels[docker.LabelServiceID] = svc.ID
	labels[docker.LabelType] = string(svc.Type)

	env := make(map[string]string, len(svc.EnvVars))
	for k, v := range svc.EnvVars {
		env[k] = v
	}

	spec := docker.ContainerSpec{
		Name:        base + "-" + m.suffix(),
		Image:       image,
		Env:         env,
		Labels:      labels,
		Port:        svc.Port,
		Network:     m.opts.Network,
		MemoryBytes: m.opts.MemoryBytes,
		NanoCPUs:    m.opts.NanoCPUs,
	}
	if pw := env["REDIS_PASSWORD"]; svc.Type == domain.ServiceTypeRedis && pw != "" {
		spec.Cmd = []string{"redis-server", "--requirepass", pw, "--appendonly", "yes"}
	}
	if svc.Type.Stateful() {
		spec.Mounts = []docker.Mount{{Source: m.VolumeName(svc), Target: svc.Type.DataMountPath()}}
	}
	return spec
}

// Restart provisions a fresh container for an owned service.
func (m *Manager) Restart(ctx context.Context, ownerID, serviceID string) (string, error) {
	svc, err := repository.OwnedService(ctx, m.services, ownerID, serviceID)
	if err != nil {
		return "", err
	}
	return m.Provision(ctx, svc)
}

// Delete tears down an owned service. Protected services cannot be deleted in either mode.
func (m *Manager) Delete(ctx context.Context, ownerID, serviceID string, mode Mode) error {
	svc, err := repository.OwnedService(ctx, m.services, ownerID, serviceID)
	if err != nil {
		return err
	}
	if svc.DeleteProtected {
		return fmt.Errorf("%w: service %s is delete protected", domain.ErrValidation, svc.Name)
	}
	return m.Teardown(ctx, svc, mode)
}
