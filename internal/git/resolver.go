// Package git resolves branch heads on remote repositories without cloning.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
)

// ErrBranchNotFound is returned when the remote does not advertise the branch.
var ErrBranchNotFound = errors.New("git: branch not found on remote")

// Resolver runs ls-remote against source repositories.
type Resolver struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(timeout time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{timeout: timeout, logger: logger.With("component", "git")}
}

// ResolveHead returns the commit the branch currently points at. token may be empty for public repositories.
func (r *Resolver) ResolveHead(ctx context.Context, repoURL, branch, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	remote := gogit.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})

	var auth transport.AuthMethod
	if token != "" {
		auth = &http.BasicAuth{Username: "x-access-token", Password: token}
	}
	refs, err := remote.ListContext(ctx, &gogit.ListOptions{Auth: auth})
	if err != nil {
		r.logger.Warn("ls-remote failed", "branch", branch, "error", err)
		return "", fmt.Errorf("list remote references: %w", err)
	}
	return headOf(refs, branch)
}

func headOf(refs []*plumbing.Reference, branch string) (string, error) {
	want := plumbing.NewBranchReferenceName(branch)
	for _, ref := range refs {
		if ref.Name() == want && ref.Type() == plumbing.HashReference {
			return ref.Hash().String(), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
}
