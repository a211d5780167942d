package logs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository"
)

type fakeDeploymentRepo struct {
	repository.DeploymentRepository
	appended  map[string][]string
	appendErr error
}

func (f *fakeDeploymentRepo) AppendDeploymentLog(ctx context.Context, id, line string) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	if f.appended == nil {
		f.appended = map[string][]string{}
	}
	f.appended[id] = append(f.appended[id], line)
	return nil
}

type fakePublisher struct {
	channels []string
	messages []string
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, channel, message string) error {
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, message)
	return f.err
}

func newTestService(repo *fakeDeploymentRepo, pub *fakePublisher) Service {
	svc := New(repo, pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestAppendStoresAndPublishes(t *testing.T) {
	repo := &fakeDeploymentRepo{}
	pub := &fakePublisher{}
	svc := newTestService(repo, pub)

	if err := svc.Append(context.Background(), "dep-1", "  deployment queued \n"); err != nil {
		t.Fatalf("append: %v", err)
	}

	want := "[2025-03-01T12:00:00Z] deployment queued"
	if got := repo.appended["dep-1"]; len(got) != 1 || got[0] != want {
		t.Fatalf("unexpected stored lines: %v", got)
	}
	if len(pub.channels) != 1 || pub.channels[0] != "deployment-logs:dep-1" || pub.messages[0] != want {
		t.Fatalf("unexpected publish: %v %v", pub.channels, pub.messages)
	}
}

func TestAppendIgnoresPublishFailure(t *testing.T) {
	repo := &fakeDeploymentRepo{}
	svc := newTestService(repo, &fakePublisher{err: errors.New("broker down")})

	if err := svc.Append(context.Background(), "dep-1", "hello"); err != nil {
		t.Fatalf("expected publish failure to be swallowed, got %v", err)
	}
}

func TestAppendPropagatesStoreFailure(t *testing.T) {
	repo := &fakeDeploymentRepo{appendErr: repository.ErrNotFound}
	pub := &fakePublisher{}
	svc := newTestService(repo, pub)

	err := svc.Append(context.Background(), "missing", "hello")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(pub.messages) != 0 {
		t.Fatalf("expected nothing published")
	}
}

func TestAppendSkipsBlankLines(t *testing.T) {
	repo := &fakeDeploymentRepo{}
	svc := newTestService(repo, &fakePublisher{})
	if err := svc.Append(context.Background(), "dep-1", "   "); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(repo.appended) != 0 {
		t.Fatalf("expected no write for blank line")
	}
}
