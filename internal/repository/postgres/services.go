package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository"
)

const serviceColumns = `id, name, owner_id, repo_url, branch, build_command, start_command, type, port,
	env_vars, custom_domain, static_output_dir, is_preview, pr_number, status, delete_protected,
	deleted_at, created_at, updated_at`

func scanService(row pgx.Row) (*domain.Service, error) {
	var (
		s       domain.Service
		envJSON []byte
	)
	err := row.Scan(&s.ID, &s.Name, &s.OwnerID, &s.RepoURL, &s.Branch, &s.BuildCommand, &s.StartCommand,
		&s.Type, &s.Port, &envJSON, &s.CustomDomain, &s.StaticOutputDir, &s.IsPreview, &s.PRNumber,
		&s.Status, &s.DeleteProtected, &s.DeletedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.EnvVars = map[string]string{}
	if len(envJSON) > 0 {
		if err := json.Unmarshal(envJSON, &s.EnvVars); err != nil {
			return nil, fmt.Errorf("decode env vars for %s: %w", s.ID, err)
		}
	}
	return &s, nil
}

func collectServices(rows pgx.Rows) ([]domain.Service, error) {
	defer rows.Close()
	services := make([]domain.Service, 0)
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, *s)
	}
	return services, rows.Err()
}

func encodeEnv(env map[string]string) (json.RawMessage, error) {
	if env == nil {
		env = map[string]string{}
	}
	return json.Marshal(env)
}

// CreateService inserts a service.
func (r *Repository) CreateService(ctx context.Context, s *domain.Service) error {
	env, err := encodeEnv(s.EnvVars)
	if err != nil {
		return err
	}
	const query = `INSERT INTO services (id, name, owner_id, repo_url, branch, build_command, start_command, type, port,
		env_vars, custom_domain, static_output_dir, is_preview, pr_number, status, delete_protected, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err = r.pool.Exec(ctx, query, s.ID, s.Name, s.OwnerID, emptyToNil(s.RepoURL), s.Branch,
		emptyToNil(s.BuildCommand), emptyToNil(s.StartCommand), s.Type, s.Port, env,
		emptyToNil(s.CustomDomain), emptyToNil(s.StaticOutputDir), s.IsPreview, s.PRNumber,
		s.Status, s.DeleteProtected, s.CreatedAt, s.UpdatedAt)
	return mapError(err)
}

// UpdateService overwrites the mutable configuration of a service.
func (r *Repository) UpdateService(ctx context.Context, s *domain.Service) error {
	env, err := encodeEnv(s.EnvVars)
	if err != nil {
		return err
	}
	const query = `UPDATE services SET repo_url = $2, branch = $3, build_command = $4, start_command = $5,
		type = $6, port = $7, env_vars = $8, custom_domain = $9, static_output_dir = $10,
		delete_protected = $11, updated_at = $12
		WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.pool.Exec(ctx, query, s.ID, emptyToNil(s.RepoURL), s.Branch, emptyToNil(s.BuildCommand),
		emptyToNil(s.StartCommand), s.Type, s.Port, env, emptyToNil(s.CustomDomain),
		emptyToNil(s.StaticOutputDir), s.DeleteProtected, s.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetServiceByID fetches a service, including soft-deleted ones.
func (r *Repository) GetServiceByID(ctx context.Context, id string) (*domain.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE id = $1`
	s, err := scanService(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

// FindActiveServiceByName returns the non-deleted service with the given name, across owners.
func (r *Repository) FindActiveServiceByName(ctx context.Context, name string) (*domain.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services
		WHERE name = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC LIMIT 1`
	s, err := scanService(r.pool.QueryRow(ctx, query, name))
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

// ListServicesByOwner returns the owner's non-deleted services, newest first.
func (r *Repository) ListServicesByOwner(ctx context.Context, ownerID string) ([]domain.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	return collectServices(rows)
}

// ListActiveServicesByRepo returns non-deleted services for a normalized repository URL, oldest first.
func (r *Repository) ListActiveServicesByRepo(ctx context.Context, repoURL string) ([]domain.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services
		WHERE deleted_at IS NULL AND repo_url IS NOT NULL AND ` + normalizedRepoExpr + ` = $1
		ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, repoURL)
	if err != nil {
		return nil, err
	}
	return collectServices(rows)
}

// FindPreviewService locates the live preview for a pull request.
func (r *Repository) FindPreviewService(ctx context.Context, repoURL string, prNumber int) (*domain.Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services
		WHERE is_preview AND pr_number = $2 AND deleted_at IS NULL
		AND repo_url IS NOT NULL AND ` + normalizedRepoExpr + ` = $1
		ORDER BY created_at ASC LIMIT 1`
	s, err := scanService(r.pool.QueryRow(ctx, query, repoURL, prNumber))
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

// UpsertPreviewService inserts a preview, or refreshes branch and status of the
// existing preview for the same pull request. A non-preview row holding the
// name is left untouched and reported as ErrConflict.
func (r *Repository) UpsertPreviewService(ctx context.Context, s *domain.Service) error {
	env, err := encodeEnv(s.EnvVars)
	if err != nil {
		return err
	}
	query := `INSERT INTO services (id, name, owner_id, repo_url, branch, build_command, start_command, type, port,
		env_vars, custom_domain, static_output_dir, is_preview, pr_number, status, delete_protected, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE, $13, $14, FALSE, $15, $15)
		ON CONFLICT (owner_id, name) WHERE deleted_at IS NULL
		DO UPDATE SET branch = EXCLUDED.branch, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		WHERE services.is_preview AND services.pr_number = EXCLUDED.pr_number
		RETURNING ` + serviceColumns
	row := r.pool.QueryRow(ctx, query, s.ID, s.Name, s.OwnerID, emptyToNil(s.RepoURL), s.Branch,
		emptyToNil(s.BuildCommand), emptyToNil(s.StartCommand), s.Type, s.Port, env,
		emptyToNil(s.CustomDomain), emptyToNil(s.StaticOutputDir), s.PRNumber, s.Status, s.UpdatedAt)
	stored, err := scanService(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrConflict
	}
	if err != nil {
		return mapError(err)
	}
	*s = *stored
	return nil
}

// UpdateServiceStatus writes the status hint.
func (r *Repository) UpdateServiceStatus(ctx context.Context, id string, status domain.Status) error {
	const query = `UPDATE services SET status = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SoftDeleteService stamps deleted_at; already deleted rows are left untouched.
func (r *Repository) SoftDeleteService(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE services SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	_, err := r.pool.Exec(ctx, query, id, at)
	return err
}

// DeleteService removes the service row; a missing row is not an error.
func (r *Repository) DeleteService(ctx context.Context, id string) error {
	const query = `DELETE FROM services WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}
