// Package catalog manages service definitions and reports their resolved status.
package catalog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/docker"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/status"
)

const (
	defaultBranch          = "main"
	defaultDeploymentLimit = 20
	maxDeploymentLimit     = 100
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// CreateInput carries the attributes of a new or updated service.
type CreateInput struct {
	Name            string
	RepoURL         string
	Branch          string
	BuildCommand    string
	StartCommand    string
	Type            string
	Port            int
	EnvVars         map[string]string
	CustomDomain    string
	StaticOutputDir string
	DeleteProtected bool
}

// View is a service together with its resolved status.
type View struct {
	Service domain.Service
	Status  domain.Status
	Latest  *domain.Deployment
}

// Service is the read/write entry point for service definitions.
type Service struct {
	services    repository.ServiceRepository
	deployments repository.DeploymentRepository
	gateway     docker.Gateway
	logger      *slog.Logger
	now         func() time.Time
	secret      func() (string, error)
}

// New returns a catalog service. gateway may be nil, in which case statuses
// are resolved without container state.
func New(services repository.ServiceRepository, deployments repository.DeploymentRepository, gateway docker.Gateway, logger *slog.Logger) Service {
	return Service{
		services:    services,
		deployments: deployments,
		gateway:     gateway,
		logger:      logger.With("component", "catalog"),
		now:         time.Now,
		secret:      generateSecret,
	}
}

// Create registers a service for ownerID. A live service with the same name
// owned by the caller is updated in place; one owned by someone else conflicts.
func (s Service) Create(ctx context.Context, ownerID string, input CreateInput) (*View, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner required", domain.ErrValidation)
	}
	name := strings.TrimSpace(input.Name)
	if !namePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: name must match %s", domain.ErrValidation, namePattern.String())
	}
	serviceType := domain.ServiceType(strings.ToUpper(strings.TrimSpace(input.Type)))
	if serviceType == "" {
		serviceType = domain.ServiceTypeDocker
	}
	if !serviceType.Valid() {
		return nil, fmt.Errorf("%w: unknown service type %q", domain.ErrValidation, input.Type)
	}
	if input.Port < 0 || input.Port > 65535 {
		return nil, fmt.Errorf("%w: port out of range", domain.ErrValidation)
	}

	existing, err := s.services.FindActiveServiceByName(ctx, name)
	switch {
	case err == nil:
		if existing.OwnerID != ownerID {
			return nil, fmt.Errorf("service name %q: %w", name, domain.ErrConflict)
		}
	case errors.Is(err, repository.ErrNotFound):
		existing = nil
	default:
		return nil, fmt.Errorf("lookup service name: %w", err)
	}

	now := s.now().UTC()
	svc := &domain.Service{
		ID:              uuid.NewString(),
		Name:            name,
		OwnerID:         ownerID,
		RepoURL:         optional(input.RepoURL),
		Branch:          strings.TrimSpace(input.Branch),
		BuildCommand:    optional(input.BuildCommand),
		StartCommand:    optional(input.StartCommand),
		Type:            serviceType,
		Port:            input.Port,
		EnvVars:         copyEnv(input.EnvVars),
		CustomDomain:    optional(input.CustomDomain),
		StaticOutputDir: optional(input.StaticOutputDir),
		DeleteProtected: input.DeleteProtected,
		Status:          domain.StatusIdle,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if svc.Branch == "" {
		svc.Branch = defaultBranch
	}
	if svc.Port == 0 {
		svc.Port = serviceType.DefaultPort()
	}

	var previous map[string]string
	if existing != nil {
		svc.ID = existing.ID
		svc.Status = existing.Status
		svc.CreatedAt = existing.CreatedAt
		svc.IsPreview = existing.IsPreview
		svc.PRNumber = existing.PRNumber
		previous = existing.EnvVars
	}
	if err := s.applySecrets(svc, previous); err != nil {
		return nil, err
	}

	if existing != nil {
		err = s.services.UpdateService(ctx, svc)
	} else {
		err = s.services.CreateService(ctx, svc)
	}
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("service name %q: %w", name, domain.ErrConflict)
		}
		return nil, fmt.Errorf("save service: %w", err)
	}
	s.logger.Info("service saved", "service_id", svc.ID, "name", svc.Name, "type", svc.Type, "updated", existing != nil)
	return s.view(ctx, svc, nil)
}

// applySecrets fills generated credentials for stateful types. Values the
// caller supplied win, then values already stored, then fresh ones.
func (s Service) applySecrets(svc *domain.Service, previous map[string]string) error {
	var keys []string
	defaults := map[string]string{}
	switch svc.Type {
	case domain.ServiceTypePostgres:
		keys = []string{"POSTGRES_PASSWORD"}
		defaults["POSTGRES_USER"] = "postgres"
		defaults["POSTGRES_DB"] = svc.Name
	case domain.ServiceTypeMySQL:
		keys = []string{"MYSQL_ROOT_PASSWORD"}
		defaults["MYSQL_DATABASE"] = svc.Name
	case domain.ServiceTypeRedis:
		keys = []string{"REDIS_PASSWORD"}
	default:
		return nil
	}
	for _, key := range keys {
		if svc.EnvVars[key] != "" {
			continue
		}
		if v := previous[key]; v != "" {
			svc.EnvVars[key] = v
			continue
		}
		secret, err := s.secret()
		if err != nil {
			return fmt.Errorf("generate %s: %w", key, err)
		}
		svc.EnvVars[key] = secret
	}
	for key, value := range defaults {
		if svc.EnvVars[key] != "" {
			continue
		}
		if v := previous[key]; v != "" {
			value = v
		}
		svc.EnvVars[key] = value
	}
	return nil
}

// Get returns an owned service with its resolved status.
func (s Service) Get(ctx context.Context, ownerID, id string) (*View, error) {
	svc, err := repository.OwnedService(ctx, s.services, ownerID, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, svc, s.containers(ctx))
}

// List returns the caller's live services, resolving all statuses from one container listing.
func (s Service) List(ctx context.Context, ownerID string) ([]View, error) {
	services, err := s.services.ListServicesByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	ids := make([]string, 0, len(services))
	for _, svc := range services {
		ids = append(ids, svc.ID)
	}
	latest := map[string]domain.Deployment{}
	if len(ids) > 0 {
		latest, err = s.deployments.LatestDeploymentsByServices(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load latest deployments: %w", err)
		}
	}
	containers := s.containers(ctx)
	views := make([]View, 0, len(services))
	for i := range services {
		svc := services[i]
		if svc.Deleted() {
			continue
		}
		var dep *domain.Deployment
		if d, ok := latest[svc.ID]; ok {
			dep = &d
		}
		views = append(views, View{Service: svc, Status: status.Resolve(&svc, dep, containers), Latest: dep})
	}
	return views, nil
}

// Deployments lists recent deployments of an owned service, newest first.
func (s Service) Deployments(ctx context.Context, ownerID, id string, limit int) ([]domain.Deployment, error) {
	if _, err := repository.OwnedService(ctx, s.services, ownerID, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultDeploymentLimit
	}
	if limit > maxDeploymentLimit {
		limit = maxDeploymentLimit
	}
	return s.deployments.ListDeploymentsByService(ctx, id, limit)
}

// OwnsDeployment reports ErrNotFound unless the deployment belongs to a live service of ownerID.
func (s Service) OwnsDeployment(ctx context.Context, ownerID, deploymentID string) (*domain.Deployment, error) {
	dep, err := s.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("deployment %s: %w", deploymentID, domain.ErrNotFound)
		}
		return nil, err
	}
	if _, err := repository.OwnedService(ctx, s.services, ownerID, dep.ServiceID); err != nil {
		return nil, fmt.Errorf("deployment %s: %w", deploymentID, domain.ErrNotFound)
	}
	return dep, nil
}

func (s Service) view(ctx context.Context, svc *domain.Service, containers []docker.Container) (*View, error) {
	latest, err := s.deployments.GetLatestDeployment(ctx, svc.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load latest deployment: %w", err)
		}
		latest = nil
	}
	return &View{Service: *svc, Status: status.Resolve(svc, latest, containers), Latest: latest}, nil
}

// containers lists engine containers once per request. A failing engine
// degrades to an empty list.
func (s Service) containers(ctx context.Context) []docker.Container {
	if s.gateway == nil {
		return nil
	}
	containers, err := s.gateway.ListContainers(ctx)
	if err != nil {
		s.logger.Warn("container listing failed, resolving without runtime state", "error", err)
		return nil
	}
	return containers
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if strings.TrimSpace(k) == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func generateSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
