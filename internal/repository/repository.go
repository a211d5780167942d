package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
)

// ServiceRepository persists service configuration.
type ServiceRepository interface {
	CreateService(ctx context.Context, service *domain.Service) error
	UpdateService(ctx context.Context, service *domain.Service) error
	GetServiceByID(ctx context.Context, id string) (*domain.Service, error)
	FindActiveServiceByName(ctx context.Context, name string) (*domain.Service, error)
	ListServicesByOwner(ctx context.Context, ownerID string) ([]domain.Service, error)
	// ListActiveServicesByRepo returns non-deleted services whose repository
	// URL normalizes to repoURL, oldest first.
	ListActiveServicesByRepo(ctx context.Context, repoURL string) ([]domain.Service, error)
	FindPreviewService(ctx context.Context, repoURL string, prNumber int) (*domain.Service, error)
	// UpsertPreviewService inserts a preview or, when the preview of the same
	// pull request exists under that owner and name, refreshes only its branch
	// and status. ErrConflict when a non-preview service holds the name.
	UpsertPreviewService(ctx context.Context, service *domain.Service) error
	UpdateServiceStatus(ctx context.Context, id string, status domain.Status) error
	SoftDeleteService(ctx context.Context, id string, at time.Time) error
	DeleteService(ctx context.Context, id string) error
}

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error)
	GetLatestDeployment(ctx context.Context, serviceID string) (*domain.Deployment, error)
	LatestDeploymentsByServices(ctx context.Context, serviceIDs []string) (map[string]domain.Deployment, error)
	ListDeploymentsByService(ctx context.Context, serviceID string, limit int) ([]domain.Deployment, error)
	ListImageTagsByService(ctx context.Context, serviceID string) ([]string, error)
	ListDeploymentsWithStatusUpdatedBefore(ctx context.Context, statuses []domain.DeploymentStatus, updatedBefore time.Time) ([]domain.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, id string, status domain.DeploymentStatus) error
	AppendDeploymentLog(ctx context.Context, id string, line string) error
	DeleteDeploymentsByService(ctx context.Context, serviceID string) error
}

// CredentialRepository stores encrypted source-control credentials.
type CredentialRepository interface {
	GetSourceCredential(ctx context.Context, ownerID string) (*domain.SourceCredential, error)
	UpsertSourceCredential(ctx context.Context, credential *domain.SourceCredential) error
}

// OwnedService loads a live service and hides it unless ownerID owns it.
func OwnedService(ctx context.Context, repo ServiceRepository, ownerID, id string) (*domain.Service, error) {
	svc, err := repo.GetServiceByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("service %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	if svc.OwnerID != ownerID || svc.Deleted() {
		return nil, fmt.Errorf("service %s: %w", id, domain.ErrNotFound)
	}
	return svc, nil
}
