package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/lifecycle"
)

// Skip reasons reported to the webhook sender.
const (
	SkipNoMatchingServices = "No matching services"
	SkipNoBaseService      = "No base service found"
	SkipNoPreviewService   = "No preview service found"
	SkipPreviewNameTaken   = "Preview name is taken by another service"
)

// Result describes what a webhook delivery caused. Skipped is non-empty for
// legitimate no-ops.
type Result struct {
	Skipped     string
	Deployments []domain.Deployment
	Preview     *domain.Service
	TornDown    *domain.Service
}

// HandlePush dispatches one deployment for every live, non-preview service
// tracking the pushed repository and branch. Matching spans all owners.
func (s Service) HandlePush(ctx context.Context, ev domain.PushEvent) (Result, error) {
	repo := NormalizeRepoURL(ev.RepoURL)
	candidates, err := s.services.ListActiveServicesByRepo(ctx, repo)
	if err != nil {
		return Result{}, fmt.Errorf("find services for push: %w", err)
	}

	var (
		result Result
		errs   []error
	)
	for i := range candidates {
		svc := &candidates[i]
		if svc.IsPreview || svc.Deleted() || svc.Branch != ev.Branch || !SameRepo(svc.Repo(), ev.RepoURL) {
			continue
		}
		dep, err := s.dispatch(ctx, svc, ev.Commit, TriggerPush)
		if err != nil {
			errs = append(errs, fmt.Errorf("service %s: %w", svc.ID, err))
			continue
		}
		result.Deployments = append(result.Deployments, *dep)
	}
	if len(result.Deployments) == 0 && len(errs) == 0 {
		result.Skipped = SkipNoMatchingServices
	}
	return result, errors.Join(errs...)
}

// HandlePullRequest maintains the preview environment of a pull request.
func (s Service) HandlePullRequest(ctx context.Context, ev domain.PullRequestEvent) (Result, error) {
	switch ev.Action {
	case domain.PullRequestOpened, domain.PullRequestReopened, domain.PullRequestSynchronize:
		return s.upsertPreview(ctx, ev)
	case domain.PullRequestClosed:
		return s.closePreview(ctx, ev)
	default:
		return Result{Skipped: "Unhandled action: " + ev.Action}, nil
	}
}

func (s Service) baseService(ctx context.Context, repoURL string) (*domain.Service, error) {
	candidates, err := s.services.ListActiveServicesByRepo(ctx, NormalizeRepoURL(repoURL))
	if err != nil {
		return nil, fmt.Errorf("find base service: %w", err)
	}
	for i := range candidates {
		svc := &candidates[i]
		if !svc.IsPreview && !svc.Deleted() && SameRepo(svc.Repo(), repoURL) {
			return svc, nil
		}
	}
	return nil, nil
}

// PreviewName is the name of the preview service for pull request number of base.
func PreviewName(base string, number int) string {
	return fmt.Sprintf("%s-pr-%d", base, number)
}

func (s Service) upsertPreview(ctx context.Context, ev domain.PullRequestEvent) (Result, error) {
	base, err := s.baseService(ctx, ev.RepoURL)
	if err != nil {
		return Result{}, err
	}
	if base == nil {
		return Result{Skipped: SkipNoBaseService}, nil
	}

	now := s.now().UTC()
	number := ev.Number
	env := make(map[string]string, len(base.EnvVars))
	for k, v := range base.EnvVars {
		env[k] = v
	}
	preview := &domain.Service{
		ID:              uuid.NewString(),
		Name:            PreviewName(base.Name, number),
		OwnerID:         base.OwnerID,
		RepoURL:         base.RepoURL,
		Branch:          ev.HeadBranch,
		BuildCommand:    base.BuildCommand,
		StartCommand:    base.StartCommand,
		Type:            base.Type,
		Port:            base.Port,
		EnvVars:         env,
		StaticOutputDir: base.StaticOutputDir,
		IsPreview:       true,
		PRNumber:        &number,
		Status:          domain.StatusDeploying,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.services.UpsertPreviewService(ctx, preview); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.logger.Warn("preview name held by a regular service", "preview", preview.Name, "base_id", base.ID, "pr", number)
			return Result{Skipped: SkipPreviewNameTaken}, nil
		}
		return Result{}, fmt.Errorf("upsert preview %s: %w", preview.Name, err)
	}
	s.logger.Info("preview environment updated", "service_id", preview.ID, "preview", preview.Name, "base_id", base.ID, "pr", number)

	dep, err := s.dispatch(ctx, preview, ev.HeadSHA, TriggerPullRequest)
	if err != nil {
		return Result{Preview: preview}, err
	}
	return Result{Preview: preview, Deployments: []domain.Deployment{*dep}}, nil
}

func (s Service) closePreview(ctx context.Context, ev domain.PullRequestEvent) (Result, error) {
	preview, err := s.services.FindPreviewService(ctx, NormalizeRepoURL(ev.RepoURL), ev.Number)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Result{Skipped: SkipNoPreviewService}, nil
		}
		return Result{}, fmt.Errorf("find preview: %w", err)
	}
	if err := s.teardown.Teardown(ctx, preview, lifecycle.Soft); err != nil {
		return Result{}, fmt.Errorf("teardown preview %s: %w", preview.Name, err)
	}
	s.logger.Info("preview environment removed", "service_id", preview.ID, "preview", preview.Name, "pr", ev.Number)
	return Result{TornDown: preview}, nil
}
