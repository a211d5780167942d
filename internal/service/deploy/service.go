package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/lock"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/queue"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/lifecycle"
)

// Trigger labels for metrics and logs.
const (
	TriggerManual      = "manual"
	TriggerPush        = "push"
	TriggerPullRequest = "pull_request"
)

// Decrypter opens stored credentials.
type Decrypter interface {
	Decrypt(payload []byte) (string, error)
}

// LogAppender records control-plane lines on a deployment.
type LogAppender interface {
	Append(ctx context.Context, deploymentID, message string) error
}

// Teardowner removes a service's runtime resources.
type Teardowner interface {
	Teardown(ctx context.Context, svc *domain.Service, mode lifecycle.Mode) error
}

// HeadResolver looks up the commit a branch points at.
type HeadResolver interface {
	ResolveHead(ctx context.Context, repoURL, branch, token string) (string, error)
}

// Deps bundles the collaborators of Service. Heads and Logs are optional.
type Deps struct {
	Services    repository.ServiceRepository
	Deployments repository.DeploymentRepository
	Credentials repository.CredentialRepository
	Cipher      Decrypter
	Queue       queue.Enqueuer
	Locker      lock.Locker
	Logs        LogAppender
	Teardown    Teardowner
	Heads       HeadResolver
}

// Service creates deployments and hands them to build workers.
type Service struct {
	services    repository.ServiceRepository
	deployments repository.DeploymentRepository
	credentials repository.CredentialRepository
	cipher      Decrypter
	queue       queue.Enqueuer
	locker      lock.Locker
	logs        LogAppender
	teardown    Teardowner
	heads       HeadResolver
	logger      *slog.Logger
	now         func() time.Time
}

// New returns a deployment service.
func New(deps Deps, logger *slog.Logger) Service {
	initMetrics()
	return Service{
		services:    deps.Services,
		deployments: deps.Deployments,
		credentials: deps.Credentials,
		cipher:      deps.Cipher,
		queue:       deps.Queue,
		locker:      deps.Locker,
		logs:        deps.Logs,
		teardown:    deps.Teardown,
		heads:       deps.Heads,
		logger:      logger.With("component", "deploy"),
		now:         time.Now,
	}
}

// Dispatch records a queued deployment for svc and enqueues its build. It
// returns once the job is queued.
func (s Service) Dispatch(ctx context.Context, svc *domain.Service, commitHash string) (*domain.Deployment, error) {
	return s.dispatch(ctx, svc, commitHash, TriggerManual)
}

func (s Service) dispatch(ctx context.Context, svc *domain.Service, commitHash, trigger string) (*domain.Deployment, error) {
	now := s.now().UTC()
	deployment := &domain.Deployment{
		ID:        uuid.NewString(),
		ServiceID: svc.ID,
		Status:    domain.DeploymentQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if commit := strings.TrimSpace(commitHash); commit != "" {
		deployment.CommitHash = &commit
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		recordDispatch(trigger, "error")
		return nil, fmt.Errorf("create deployment: %w", err)
	}

	s.setHint(ctx, svc.ID, domain.StatusDeploying)

	job := newBuildJob(svc, deployment.ID, s.buildRepoURL(ctx, svc), deref(deployment.CommitHash))
	jobID, err := s.queue.Enqueue(ctx, queue.JobBuild, job)
	if err != nil {
		s.logger.Error("enqueue build failed", "deployment_id", deployment.ID, "service_id", svc.ID, "error", err)
		if uerr := s.deployments.UpdateDeploymentStatus(ctx, deployment.ID, domain.DeploymentFailed); uerr != nil {
			s.logger.Warn("mark deployment failed", "deployment_id", deployment.ID, "error", uerr)
		}
		deployment.Status = domain.DeploymentFailed
		s.setHint(ctx, svc.ID, domain.StatusFailed)
		recordDispatch(trigger, "error")
		return nil, fmt.Errorf("%w: enqueue build: %v", domain.ErrRuntime, err)
	}

	s.appendLog(ctx, deployment.ID, queuedMessage(trigger, deployment))
	recordDispatch(trigger, "queued")
	s.logger.Info("deployment queued", "deployment_id", deployment.ID, "service_id", svc.ID, "job_id", jobID, "trigger", trigger)
	return deployment, nil
}

func queuedMessage(trigger string, d *domain.Deployment) string {
	if d.CommitHash != nil {
		return fmt.Sprintf("Deployment queued (%s) for commit %s", trigger, *d.CommitHash)
	}
	return fmt.Sprintf("Deployment queued (%s)", trigger)
}

// setHint writes the status hint under the service lock. Failing to take the
// lock only skips the write.
func (s Service) setHint(ctx context.Context, serviceID string, status domain.Status) {
	err := s.locker.WithLock(ctx, lock.ServiceKey(serviceID), func(ctx context.Context) error {
		return s.services.UpdateServiceStatus(ctx, serviceID, status)
	})
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrNotAcquired):
		s.logger.Warn("status hint skipped, lock busy", "service_id", serviceID, "status", status)
	default:
		s.logger.Warn("status hint write failed", "service_id", serviceID, "status", status, "error", err)
	}
}

func (s Service) appendLog(ctx context.Context, deploymentID, message string) {
	if s.logs == nil {
		return
	}
	if err := s.logs.Append(ctx, deploymentID, message); err != nil {
		s.logger.Warn("append deployment log failed", "deployment_id", deploymentID, "error", err)
	}
}

// sourceToken returns the owner's decrypted source-control token, or "" when none is usable.
func (s Service) sourceToken(ctx context.Context, ownerID string) string {
	if s.credentials == nil || s.cipher == nil {
		return ""
	}
	cred, err := s.credentials.GetSourceCredential(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("load source credential failed", "owner_id", ownerID, "error", err)
		}
		return ""
	}
	token, err := s.cipher.Decrypt(cred.EncryptedToken)
	if err != nil {
		s.logger.Warn("decrypt source credential failed", "owner_id", ownerID, "error", err)
		return ""
	}
	return token
}

func (s Service) buildRepoURL(ctx context.Context, svc *domain.Service) string {
	repo := strings.TrimSpace(svc.Repo())
	if repo == "" {
		return ""
	}
	return authenticatedURL(repo, s.sourceToken(ctx, svc.OwnerID))
}

// Trigger dispatches a deployment for an owned service. Without a commit the
// branch head is looked up on the remote when possible.
func (s Service) Trigger(ctx context.Context, ownerID, serviceID, commitHash string) (*domain.Deployment, error) {
	svc, err := repository.OwnedService(ctx, s.services, ownerID, serviceID)
	if err != nil {
		return nil, err
	}
	commitHash = strings.TrimSpace(commitHash)
	if commitHash == "" && s.heads != nil && svc.Repo() != "" {
		head, err := s.heads.ResolveHead(ctx, svc.Repo(), svc.Branch, s.sourceToken(ctx, svc.OwnerID))
		if err != nil {
			s.logger.Info("branch head unresolved, building latest", "service_id", svc.ID, "branch", svc.Branch, "error", err)
		} else {
			commitHash = head
		}
	}
	return s.dispatch(ctx, svc, commitHash, TriggerManual)
}

// ListByService returns recent deployments of an owned service.
func (s Service) ListByService(ctx context.Context, ownerID, serviceID string, limit int) ([]domain.Deployment, error) {
	if _, err := repository.OwnedService(ctx, s.services, ownerID, serviceID); err != nil {
		return nil, err
	}
	return s.deployments.ListDeploymentsByService(ctx, serviceID, limit)
}
