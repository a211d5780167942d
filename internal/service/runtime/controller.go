package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/lock"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository"
	"github.com/ramiz4/helvetia-cloud-sub000/pkg/config"
)

const (
	defaultInterval  = 30 * time.Second
	reconcileTimeout = 15 * time.Second
)

// LogAppender records a line on a deployment's log.
type LogAppender interface {
	Append(ctx context.Context, deploymentID, message string) error
}

// Controller fails deployments the build worker abandoned.
type Controller struct {
	services    repository.ServiceRepository
	deployments repository.DeploymentRepository
	locker      lock.Locker
	logs        LogAppender
	logger      *slog.Logger

	interval      time.Duration
	deploymentTTL time.Duration

	now func() time.Time
}

// New constructs a runtime controller. It returns nil when the deployment TTL is disabled.
func New(services repository.ServiceRepository, deployments repository.DeploymentRepository, locker lock.Locker, logs LogAppender, logger *slog.Logger, cfg config.APIConfig) *Controller {
	if services == nil || deployments == nil || locker == nil {
		return nil
	}
	if cfg.RuntimeDeploymentTTL <= 0 {
		return nil
	}

	interval := cfg.RuntimeReconcileInterval
	if interval <= 0 {
		interval = defaultInterval
	}

	ctrl := &Controller{
		services:      services,
		deployments:   deployments,
		locker:        locker,
		logs:          logs,
		logger:        logger,
		interval:      interval,
		deploymentTTL: cfg.RuntimeDeploymentTTL,
		now:           time.Now,
	}

	if ctrl.logger != nil {
		ctrl.logger = ctrl.logger.With("component", "runtime")
	}

	return ctrl
}

// Run executes the reconciliation loop until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	if c == nil {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("runtime controller started", "interval", c.interval, "deployment_ttl", c.deploymentTTL)
	c.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("runtime controller stopped")
			return
		case <-ticker.C:
			c.runIteration(ctx)
		}
	}
}

func (c *Controller) runIteration(parent context.Context) {
	if c == nil {
		return
	}
	timeout := reconcileTimeout
	if c.interval > 0 && c.interval < timeout {
		timeout = c.interval
	}
	opCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	touched := c.handleDeployments(opCtx, c.now())
	for serviceID := range touched {
		c.resetHint(opCtx, serviceID)
	}
}

func (c *Controller) handleDeployments(ctx context.Context, now time.Time) map[string]struct{} {
	touched := make(map[string]struct{})
	cutoff := now.Add(-c.deploymentTTL)
	statuses := []domain.DeploymentStatus{domain.DeploymentQueued, domain.DeploymentBuilding}
	deployments, err := c.deployments.ListDeploymentsWithStatusUpdatedBefore(ctx, statuses, cutoff)
	if err != nil {
		c.logger.Warn("failed to list stale deployments", "error", err)
		return touched
	}
	for _, dep := range deployments {
		if err := c.deployments.UpdateDeploymentStatus(ctx, dep.ID, domain.DeploymentFailed); err != nil {
			c.logger.Warn("failed to timeout deployment", "deployment_id", dep.ID, "error", err)
			continue
		}
		if c.logs != nil {
			msg := fmt.Sprintf("Deployment timed out after %s in %s", formatDuration(c.deploymentTTL), dep.Status)
			if err := c.logs.Append(ctx, dep.ID, msg); err != nil {
				c.logger.Warn("failed to record timeout", "deployment_id", dep.ID, "error", err)
			}
		}
		touched[dep.ServiceID] = struct{}{}
		c.logger.Info("deployment marked failed after runtime timeout", "deployment_id", dep.ID, "service_id", dep.ServiceID, "previous_status", dep.Status)
	}
	return touched
}

// resetHint clears a DEPLOYING hint once no deployment of the service is in flight.
func (c *Controller) resetHint(ctx context.Context, serviceID string) {
	err := c.locker.WithLock(ctx, lock.ServiceKey(serviceID), func(ctx context.Context) error {
		svc, err := c.services.GetServiceByID(ctx, serviceID)
		if err != nil {
			return err
		}
		if svc.Status != domain.StatusDeploying {
			return nil
		}
		latest, err := c.deployments.GetLatestDeployment(ctx, serviceID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if latest != nil && latest.Status.InFlight() {
			return nil
		}
		return c.services.UpdateServiceStatus(ctx, serviceID, domain.StatusFailed)
	})
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrNotAcquired):
		c.logger.Warn("status hint reset skipped, lock busy", "service_id", serviceID)
	case errors.Is(err, repository.ErrNotFound):
	default:
		c.logger.Warn("failed to reset status hint", "service_id", serviceID, "error", err)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	if d%time.Millisecond == 0 {
		return fmt.Sprintf("%dms", int(d/time.Millisecond))
	}
	return d.String()
}
