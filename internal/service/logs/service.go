package logs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/broker"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository"
)

// Service appends control-plane lines to deployment logs and fans them out to live sessions.
type Service struct {
	repo      repository.DeploymentRepository
	publisher broker.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs a log service.
func New(repo repository.DeploymentRepository, publisher broker.Publisher, logger *slog.Logger) Service {
	return Service{repo: repo, publisher: publisher, logger: logger.With("component", "logs"), now: time.Now}
}

// Append stores a line on the deployment and publishes it on the deployment's channel.
// Publishing is best effort; the stored log stays authoritative.
func (s Service) Append(ctx context.Context, deploymentID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	line := FormatLine(s.now(), message)
	if err := s.repo.AppendDeploymentLog(ctx, deploymentID, line); err != nil {
		return fmt.Errorf("append deployment log: %w", err)
	}
	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, broker.LogChannel(deploymentID), line); err != nil {
		s.logger.Warn("failed to publish log line", "deployment_id", deploymentID, "error", err)
	}
	return nil
}

// FormatLine prefixes message with a UTC timestamp.
func FormatLine(at time.Time, message string) string {
	return "[" + at.UTC().Format(time.RFC3339) + "] " + message
}
