package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/lock"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/repository"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/lifecycle"
)

type fakeServiceRepo struct {
	repository.ServiceRepository
	mu        sync.Mutex
	services  map[string]*domain.Service
	hints     []domain.Status
	hintBusy  int32
	overlap   int32
	hintDelay time.Duration
}

func newFakeServiceRepo(services ...*domain.Service) *fakeServiceRepo {
	repo := &fakeServiceRepo{services: map[string]*domain.Service{}}
	for _, s := range services {
		repo.services[s.ID] = s
	}
	return repo
}

func (f *fakeServiceRepo) GetServiceByID(ctx context.Context, id string) (*domain.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeServiceRepo) ListActiveServicesByRepo(ctx context.Context, repoURL string) ([]domain.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Service
	for _, s := range f.services {
		if s.Deleted() || NormalizeRepoURL(s.Repo()) != repoURL {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeServiceRepo) FindPreviewService(ctx context.Context, repoURL string, prNumber int) (*domain.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.services {
		if s.IsPreview && !s.Deleted() && s.PRNumber != nil && *s.PRNumber == prNumber && NormalizeRepoURL(s.Repo()) == repoURL {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeServiceRepo) UpsertPreviewService(ctx context.Context, s *domain.Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.services {
		if existing.OwnerID == s.OwnerID && existing.Name == s.Name && !existing.Deleted() {
			if !existing.IsPreview || existing.PRNumber == nil || s.PRNumber == nil || *existing.PRNumber != *s.PRNumber {
				return repository.ErrConflict
			}
			existing.Branch = s.Branch
			existing.Status = s.Status
			existing.UpdatedAt = s.UpdatedAt
			*s = *existing
			return nil
		}
	}
	cp := *s
	f.services[s.ID] = &cp
	return nil
}

func (f *fakeServiceRepo) UpdateServiceStatus(ctx context.Context, id string, status domain.Status) error {
	if atomic.AddInt32(&f.hintBusy, 1) > 1 {
		atomic.StoreInt32(&f.overlap, 1)
	}
	defer atomic.AddInt32(&f.hintBusy, -1)
	if f.hintDelay > 0 {
		time.Sleep(f.hintDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hints = append(f.hints, status)
	if s, ok := f.services[id]; ok {
		s.Status = status
	}
	return nil
}

func (f *fakeServiceRepo) SoftDeleteService(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.services[id]; ok && s.DeletedAt == nil {
		s.DeletedAt = &at
	}
	return nil
}

func (f *fakeServiceRepo) previews() []*domain.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Service
	for _, s := range f.services {
		if s.IsPreview {
			out = append(out, s)
		}
	}
	return out
}

type fakeDeploymentRepo struct {
	repository.DeploymentRepository
	mu          sync.Mutex
	deployments map[string]*domain.Deployment
	order       []string
	statusSets  map[string]domain.DeploymentStatus
}

func newFakeDeploymentRepo() *fakeDeploymentRepo {
	return &fakeDeploymentRepo{deployments: map[string]*domain.Deployment{}, statusSets: map[string]domain.DeploymentStatus{}}
}

func (f *fakeDeploymentRepo) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	f.deployments[d.ID] = &cp
	f.order = append(f.order, d.ID)
	return nil
}

func (f *fakeDeploymentRepo) UpdateDeploymentStatus(ctx context.Context, id string, status domain.DeploymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusSets[id] = status
	if d, ok := f.deployments[id]; ok {
		d.Status = status
	}
	return nil
}

func (f *fakeDeploymentRepo) ListDeploymentsByService(ctx context.Context, serviceID string, limit int) ([]domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Deployment
	for _, id := range f.order {
		if d := f.deployments[id]; d.ServiceID == serviceID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDeploymentRepo) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.deployments[id]
	return ok
}

type enqueued struct {
	name string
	job  BuildJob
	// rowExisted records whether the deployment row was visible at enqueue time.
	rowExisted bool
}

type fakeQueue struct {
	mu    sync.Mutex
	jobs  []enqueued
	err   error
	store *fakeDeploymentRepo
}

func (f *fakeQueue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	job := payload.(BuildJob)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, enqueued{name: name, job: job, rowExisted: f.store != nil && f.store.has(job.DeploymentID)})
	return "job-" + job.DeploymentID, nil
}

type fakeCredentials struct {
	repository.CredentialRepository
	creds map[string]*domain.SourceCredential
}

func (f *fakeCredentials) GetSourceCredential(ctx context.Context, ownerID string) (*domain.SourceCredential, error) {
	c, ok := f.creds[ownerID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

type reverseCipher struct{}

func (reverseCipher) Decrypt(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", errors.New("empty payload")
	}
	out := make([]byte, len(payload))
	for i, b := range payload {
		out[len(payload)-1-i] = b
	}
	return string(out), nil
}

type fakeTeardown struct {
	services *fakeServiceRepo
	calls    []string
	modes    []lifecycle.Mode
}

func (f *fakeTeardown) Teardown(ctx context.Context, svc *domain.Service, mode lifecycle.Mode) error {
	f.calls = append(f.calls, svc.ID)
	f.modes = append(f.modes, mode)
	if mode == lifecycle.Soft {
		return f.services.SoftDeleteService(ctx, svc.ID, time.Now())
	}
	return nil
}

type fakeLogs struct {
	mu    sync.Mutex
	lines map[string][]string
}

func (f *fakeLogs) Append(ctx context.Context, deploymentID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lines == nil {
		f.lines = map[string][]string{}
	}
	f.lines[deploymentID] = append(f.lines[deploymentID], message)
	return nil
}

type fakeHeads struct {
	head string
	err  error
}

func (f fakeHeads) ResolveHead(ctx context.Context, repoURL, branch, token string) (string, error) {
	return f.head, f.err
}

type busyLocker struct{}

func (busyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return lock.ErrNotAcquired
}

type harness struct {
	svc         Service
	services    *fakeServiceRepo
	deployments *fakeDeploymentRepo
	queue       *fakeQueue
	teardown    *fakeTeardown
	logs        *fakeLogs
}

func newHarness(services ...*domain.Service) *harness {
	h := &harness{
		services:    newFakeServiceRepo(services...),
		deployments: newFakeDeploymentRepo(),
		logs:        &fakeLogs{},
	}
	h.queue = &fakeQueue{store: h.deployments}
	h.teardown = &fakeTeardown{services: h.services}
	h.svc = New(Deps{
		Services:    h.services,
		Deployments: h.deployments,
		Credentials: &fakeCredentials{creds: map[string]*domain.SourceCredential{}},
		Cipher:      reverseCipher{},
		Queue:       h.queue,
		Locker:      lock.NewLocal(time.Second),
		Logs:        h.logs,
		Teardown:    h.teardown,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.svc.now = func() time.Time { return time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC) }
	return h
}

var serviceClock = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func newService(id, owner, name, repo, branch string) *domain.Service {
	serviceClock = serviceClock.Add(time.Minute)
	return &domain.Service{
		ID:        id,
		OwnerID:   owner,
		Name:      name,
		RepoURL:   strPtr(repo),
		Branch:    branch,
		Type:      domain.ServiceTypeDocker,
		Port:      3000,
		EnvVars:   map[string]string{"NODE_ENV": "production"},
		Status:    domain.StatusIdle,
		CreatedAt: serviceClock,
		UpdatedAt: serviceClock,
	}
}
