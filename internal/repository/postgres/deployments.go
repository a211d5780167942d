package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository"
)

const deploymentColumns = `id, service_id, status, commit_hash, image_tag, logs, created_at, updated_at`

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.ServiceID, &d.Status, &d.CommitHash, &d.ImageTag, &d.Logs, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDeployments(rows pgx.Rows) ([]domain.Deployment, error) {
	defer rows.Close()
	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

// CreateDeployment inserts a deployment row.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, service_id, status, commit_hash, image_tag, logs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query, d.ID, d.ServiceID, d.Status, emptyToNil(d.CommitHash), emptyToNil(d.ImageTag), d.Logs, d.CreatedAt, d.UpdatedAt)
	return mapError(err)
}

// GetDeploymentByID fetches a deployment.
func (r *Repository) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return d, nil
}

// GetLatestDeployment returns the most recently created deployment of a service.
func (r *Repository) GetLatestDeployment(ctx context.Context, serviceID string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE service_id = $1 ORDER BY created_at DESC LIMIT 1`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, serviceID))
	if err != nil {
		return nil, mapError(err)
	}
	return d, nil
}

// LatestDeploymentsByServices returns the latest deployment keyed by service id.
func (r *Repository) LatestDeploymentsByServices(ctx context.Context, serviceIDs []string) (map[string]domain.Deployment, error) {
	latest := make(map[string]domain.Deployment, len(serviceIDs))
	if len(serviceIDs) == 0 {
		return latest, nil
	}
	query := `SELECT DISTINCT ON (service_id) ` + deploymentColumns + ` FROM deployments
		WHERE service_id = ANY($1) ORDER BY service_id, created_at DESC`
	rows, err := r.pool.Query(ctx, query, serviceIDs)
	if err != nil {
		return nil, err
	}
	deployments, err := collectDeployments(rows)
	if err != nil {
		return nil, err
	}
	for _, d := range deployments {
		latest[d.ServiceID] = d
	}
	return latest, nil
}

// ListDeploymentsByService returns deployment history newest first.
func (r *Repository) ListDeploymentsByService(ctx context.Context, serviceID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE service_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, serviceID, limit)
	if err != nil {
		return nil, err
	}
	return collectDeployments(rows)
}

// ListImageTagsByService returns every distinct image tag recorded for a service.
func (r *Repository) ListImageTagsByService(ctx context.Context, serviceID string) ([]string, error) {
	const query = `SELECT DISTINCT image_tag FROM deployments
		WHERE service_id = $1 AND image_tag IS NOT NULL AND image_tag <> ''`
	rows, err := r.pool.Query(ctx, query, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ListDeploymentsWithStatusUpdatedBefore finds deployments in one of statuses updated before the cutoff.
func (r *Repository) ListDeploymentsWithStatusUpdatedBefore(ctx context.Context, statuses []domain.DeploymentStatus, updatedBefore time.Time) ([]domain.Deployment, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE status = ANY($1) AND updated_at < $2`
	rows, err := r.pool.Query(ctx, query, values, updatedBefore)
	if err != nil {
		return nil, err
	}
	return collectDeployments(rows)
}

// UpdateDeploymentStatus sets the build status.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, id string, status domain.DeploymentStatus) error {
	const query = `UPDATE deployments SET status = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AppendDeploymentLog appends one line to the deployment log column.
func (r *Repository) AppendDeploymentLog(ctx context.Context, id string, line string) error {
	const query = `UPDATE deployments SET logs = logs || $2::text || E'\n', updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, line)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteDeploymentsByService removes every deployment of a service.
func (r *Repository) DeleteDeploymentsByService(ctx context.Context, serviceID string) error {
	const query = `DELETE FROM deployments WHERE service_id = $1`
	_, err := r.pool.Exec(ctx, query, serviceID)
	return err
}
