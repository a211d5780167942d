// Package stream runs long-lived metrics and log sessions and guarantees
// every resource a session acquires is released exactly once.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/broker"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
	"github.com/ramiz4/helvetia-cloud-sub000/pkg/config"
)

// Transport is the client connection a session writes frames to.
type Transport interface {
	Send(payload []byte) error
	// Done is closed when the client goes away.
	Done() <-chan struct{}
	Close()
}

// Heartbeater is implemented by transports that need keep-alive writes.
type Heartbeater interface {
	Heartbeat() error
}

// ConnectFunc upgrades or attaches the client connection once authorization passed.
type ConnectFunc func() (Transport, error)

// TokenVerifier maps an access token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// DeploymentOwnership resolves a deployment visible to ownerID.
type DeploymentOwnership interface {
	OwnsDeployment(ctx context.Context, ownerID, deploymentID string) (*domain.Deployment, error)
}

// Options tunes session timing.
type Options struct {
	MetricsInterval   time.Duration
	MetricsMaxAge     time.Duration
	LogsTokenInterval time.Duration
	LogsMaxAge        time.Duration
	ErrorBudget       int
}

// OptionsFromConfig extracts session timing from the API config.
func OptionsFromConfig(cfg config.APIConfig) Options {
	return Options{
		MetricsInterval:   cfg.MetricsInterval,
		MetricsMaxAge:     cfg.MetricsMaxAge,
		LogsTokenInterval: cfg.LogsTokenInterval,
		LogsMaxAge:        cfg.LogsMaxAge,
		ErrorBudget:       cfg.StreamErrorBudget,
	}
}

func (o Options) withDefaults() Options {
	if o.MetricsInterval <= 0 {
		o.MetricsInterval = 5 * time.Second
	}
	if o.MetricsMaxAge <= 0 {
		o.MetricsMaxAge = 10 * time.Minute
	}
	if o.LogsTokenInterval <= 0 {
		o.LogsTokenInterval = 60 * time.Second
	}
	if o.LogsMaxAge <= 0 {
		o.LogsMaxAge = 60 * time.Minute
	}
	if o.ErrorBudget <= 0 {
		o.ErrorBudget = 3
	}
	return o
}

// Manager opens sessions and keeps the registry of live ones.
type Manager struct {
	verifier   TokenVerifier
	ownership  DeploymentOwnership
	source     MetricsSource
	subscriber broker.Subscriber
	opts       Options
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	draining bool
}

// NewManager constructs a Manager.
func NewManager(verifier TokenVerifier, ownership DeploymentOwnership, source MetricsSource, subscriber broker.Subscriber, opts Options, logger *slog.Logger) *Manager {
	initMetrics()
	return &Manager{
		verifier:   verifier,
		ownership:  ownership,
		source:     source,
		subscriber: subscriber,
		opts:       opts.withDefaults(),
		logger:     logger.With("component", "stream"),
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

func (m *Manager) authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: token required", domain.ErrUnauthorized)
	}
	userID, err := m.verifier.Verify(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return userID, nil
}

// OpenMetrics starts a session pushing a resource snapshot of the caller's
// services every metrics interval.
func (m *Manager) OpenMetrics(ctx context.Context, token string, connect ConnectFunc) (*Session, error) {
	ownerID, err := m.authenticate(token)
	if err != nil {
		return nil, err
	}
	s, err := m.open(KindMetrics, ownerID, token, "", connect)
	if err != nil {
		return nil, err
	}
	s.interval = m.opts.MetricsInterval
	s.maxAge = m.opts.MetricsMaxAge
	s.start(nil)
	return s, nil
}

// OpenLogs starts a session relaying live log lines of one deployment.
func (m *Manager) OpenLogs(ctx context.Context, token, deploymentID string, connect ConnectFunc) (*Session, error) {
	ownerID, err := m.authenticate(token)
	if err != nil {
		return nil, err
	}
	dep, err := m.ownership.OwnsDeployment(ctx, ownerID, deploymentID)
	if err != nil {
		return nil, err
	}
	s, err := m.open(KindLogs, ownerID, token, dep.ID, connect)
	if err != nil {
		return nil, err
	}
	s.interval = m.opts.LogsTokenInterval
	s.maxAge = m.opts.LogsMaxAge

	sub, err := m.subscriber.Subscribe(s.ctx, broker.LogChannel(dep.ID))
	if err != nil {
		s.sendFrame(Frame{Type: FrameError, Message: "log stream unavailable"})
		s.Close(ReasonSubscribeFailed)
		return nil, fmt.Errorf("%w: %v", domain.ErrRuntime, err)
	}
	if !s.attach(sub) {
		return nil, fmt.Errorf("%w: session closed", domain.ErrRuntime)
	}
	if backlog := strings.TrimSpace(dep.Logs); backlog != "" {
		if err := s.sendFrame(Frame{Type: FrameLog, Data: backlog}); err != nil {
			s.Close(ReasonWriteFailed)
			return nil, err
		}
	}
	s.start(sub.Messages())
	return s, nil
}

func (m *Manager) open(kind Kind, ownerID, token, deploymentID string, connect ConnectFunc) (*Session, error) {
	m.mu.Lock()
	draining := m.draining
	m.mu.Unlock()
	if draining {
		return nil, fmt.Errorf("%w: server shutting down", domain.ErrRuntime)
	}

	transport, err := connect()
	if err != nil {
		return nil, err
	}
	s := newSession(m, kind, ownerID, token, deploymentID, transport)
	m.register(s)
	if err := s.sendFrame(Frame{Type: FrameConnected, Data: map[string]string{"sessionId": s.id}}); err != nil {
		s.Close(ReasonWriteFailed)
		return nil, err
	}
	s.setState(StateOpen)
	m.logger.Info("stream session opened", "session_id", s.id, "kind", kind, "owner_id", ownerID, "deployment_id", deploymentID)
	return s, nil
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	activeSessions.WithLabelValues(string(s.kind)).Inc()
}

func (m *Manager) deregister(s *Session) {
	m.mu.Lock()
	_, ok := m.sessions[s.id]
	delete(m.sessions, s.id)
	m.mu.Unlock()
	if ok {
		activeSessions.WithLabelValues(string(s.kind)).Dec()
	}
}

// Active returns the number of registered sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown refuses new sessions and closes all live ones.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Close(ReasonShutdown)
	}
	m.logger.Info("stream sessions drained", "count", len(sessions))
	return nil
}

func newSessionID() string {
	return uuid.NewString()
}
