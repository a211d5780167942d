package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/broker"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
)

type fakeTransport struct {
	mu       sync.Mutex
	frames   []Frame
	sendErr  error
	done     chan struct{}
	doneOnce sync.Once
	closes   int
	// closeDelay mimics a transport that waits for an in-flight write before closing.
	closeDelay time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan struct{})}
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return err
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Close() {
	if f.closeDelay > 0 {
		time.Sleep(f.closeDelay)
	}
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

func (f *fakeTransport) disconnect() {
	f.doneOnce.Do(func() { close(f.done) })
}

func (f *fakeTransport) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, fr := range f.frames {
		out = append(out, fr.Type)
	}
	return out
}

func (f *fakeTransport) last() Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return Frame{}
	}
	return f.frames[len(f.frames)-1]
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeVerifier struct {
	mu    sync.Mutex
	valid map[string]string
}

func (v *fakeVerifier) Verify(token string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	user, ok := v.valid[token]
	if !ok {
		return "", errors.New("token is expired")
	}
	return user, nil
}

func (v *fakeVerifier) revoke(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.valid, token)
}

type fakeOwnership struct {
	deployments map[string]domain.Deployment
	owners      map[string]string
}

func (f fakeOwnership) OwnsDeployment(ctx context.Context, ownerID, deploymentID string) (*domain.Deployment, error) {
	dep, ok := f.deployments[deploymentID]
	if !ok || f.owners[deploymentID] != ownerID {
		return nil, domain.ErrNotFound
	}
	return &dep, nil
}

type fakeSource struct {
	err error
}

func (f fakeSource) Collect(ctx context.Context, ownerID string) ([]ServiceMetrics, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []ServiceMetrics{{ServiceID: "s1", Name: "web", Containers: 1, CPUPercent: 12.5, MemoryUsage: 1024}}, nil
}

type fakeSubscription struct {
	mu           sync.Mutex
	ch           chan string
	unsubscribed bool
	closed       bool
}

func (s *fakeSubscription) Messages() <-chan string { return s.ch }

func (s *fakeSubscription) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
	return nil
}

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSubscription) released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed && s.closed
}

type fakeSubscriber struct {
	mu       sync.Mutex
	err      error
	subs     []*fakeSubscription
	channels []string
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub := &fakeSubscription{ch: make(chan string, 8)}
	f.subs = append(f.subs, sub)
	f.channels = append(f.channels, channel)
	return sub, nil
}

type fixture struct {
	manager    *Manager
	verifier   *fakeVerifier
	subscriber *fakeSubscriber
}

func newFixture(t *testing.T, source MetricsSource, opts Options) fixture {
	t.Helper()
	verifier := &fakeVerifier{valid: map[string]string{"good": "u1"}}
	ownership := fakeOwnership{
		deployments: map[string]domain.Deployment{"d1": {ID: "d1", ServiceID: "s1", Logs: "[t] queued"}},
		owners:      map[string]string{"d1": "u1"},
	}
	subscriber := &fakeSubscriber{}
	m := NewManager(verifier, ownership, source, subscriber, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return fixture{manager: m, verifier: verifier, subscriber: subscriber}
}

func connectTo(tr *fakeTransport) ConnectFunc {
	return func() (Transport, error) { return tr, nil }
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s did not close", s.ID())
	}
}

func TestOpenMetricsRejectsBadToken(t *testing.T) {
	f := newFixture(t, fakeSource{}, Options{})
	called := false
	_, err := f.manager.OpenMetrics(context.Background(), "bad", func() (Transport, error) {
		called = true
		return newFakeTransport(), nil
	})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.False(t, called, "transport must not be connected before authorization")
	assert.Equal(t, 0, f.manager.Active())
}

func TestMetricsSessionStreamsAndClosesOnce(t *testing.T) {
	f := newFixture(t, fakeSource{}, Options{MetricsInterval: 10 * time.Millisecond, MetricsMaxAge: time.Minute})
	tr := newFakeTransport()

	s, err := f.manager.OpenMetrics(context.Background(), "good", connectTo(tr))
	require.NoError(t, err)
	assert.Equal(t, StateOpen, s.State())
	assert.Equal(t, 1, f.manager.Active())

	require.Eventually(t, func() bool {
		types := tr.types()
		return len(types) >= 2 && types[0] == FrameConnected && types[1] == FrameMetrics
	}, time.Second, 5*time.Millisecond)

	s.Close(ReasonDisconnect)
	s.Close(ReasonShutdown)
	waitClosed(t, s)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, ReasonDisconnect, s.Reason())
	assert.Equal(t, 1, tr.closeCount())
	assert.Equal(t, 0, f.manager.Active())
}

func TestDoneWaitsForRelease(t *testing.T) {
	f := newFixture(t, fakeSource{}, Options{LogsTokenInterval: time.Hour, LogsMaxAge: time.Minute})
	tr := newFakeTransport()
	tr.closeDelay = 50 * time.Millisecond

	s, err := f.manager.OpenLogs(context.Background(), "good", "d1", connectTo(tr))
	require.NoError(t, err)
	require.Len(t, f.subscriber.subs, 1)

	go s.Close(ReasonDisconnect)
	waitClosed(t, s)

	assert.Equal(t, 1, tr.closeCount(), "transport must be closed before Done fires")
	assert.True(t, f.subscriber.subs[0].released())
	assert.Equal(t, 0, f.manager.Active())
}

func TestMetricsSessionErrorBudget(t *testing.T) {
	f := newFixture(t, fakeSource{err: errors.New("engine down")}, Options{MetricsInterval: 5 * time.Millisecond, MetricsMaxAge: time.Minute, ErrorBudget: 3})
	tr := newFakeTransport()

	s, err := f.manager.OpenMetrics(context.Background(), "good", connectTo(tr))
	require.NoError(t, err)
	waitClosed(t, s)

	assert.Equal(t, ReasonErrorBudget, s.Reason())
	assert.Equal(t, []string{FrameConnected, FrameError}, tr.types())
	assert.Equal(t, 0, f.manager.Active())
}

func TestSessionTimeout(t *testing.T) {
	f := newFixture(t, fakeSource{}, Options{MetricsInterval: time.Hour, MetricsMaxAge: 20 * time.Millisecond})
	tr := newFakeTransport()

	s, err := f.manager.OpenMetrics(context.Background(), "good", connectTo(tr))
	require.NoError(t, err)
	waitClosed(t, s)

	assert.Equal(t, ReasonTimeout, s.Reason())
	assert.Equal(t, FrameTimeout, tr.last().Type)
}

func TestSessionClosesOnDisconnect(t *testing.T) {
	f := newFixture(t, fakeSource{}, Options{})
	tr := newFakeTransport()

	s, err := f.manager.OpenLogs(context.Background(), "good", "d1", connectTo(tr))
	require.NoError(t, err)
	tr.disconnect()
	waitClosed(t, s)

	assert.Equal(t, ReasonDisconnect, s.Reason())
	require.Len(t, f.subscriber.subs, 1)
	assert.True(t, f.subscriber.subs[0].released(), "subscription must be unsubscribed and closed")
	assert.Equal(t, 0, f.manager.Active())
}

func TestLogsSessionRelaysMessages(t *testing.T) {
	f := newFixture(t, fakeSource{}, Options{})
	tr := newFakeTransport()

	s, err := f.manager.OpenLogs(context.Background(), "good", "d1", connectTo(tr))
	require.NoError(t, err)
	defer s.Close(ReasonDisconnect)
	assert.Equal(t, []string{"deployment-logs:d1"}, f.subscriber.channels)

	f.subscriber.subs[0].ch <- "building step 1"
	require.Eventually(t, func() bool {
		last := tr.last()
		return last.Type == FrameLog && last.Data == "building step 1"
	}, time.Second, 5*time.Millisecond)

	types := tr.types()
	assert.Equal(t, FrameConnected, types[0])
	assert.Equal(t, FrameLog, types[1], "stored backlog is sent first")
}

func TestLogsSessionRequiresOwnership(t *testing.T) {
	f := newFixture(t, fakeSource{}, Options{})
	f.verifier.valid["other"] = "u2"

	_, err := f.manager.OpenLogs(context.Background(), "other", "d1", connectTo(newFakeTransport()))
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.manager.OpenLogs(context.Background(), "good", "missing", connectTo(newFakeTransport()))
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.subscriber.subs)
}

func TestLogsSessionTokenRevalidation(t *testing.T) {
	f := newFixture(t, fakeSource{}, Options{LogsTokenInterval: 10 * time.Millisecond})
	tr := newFakeTransport()

	s, err := f.manager.OpenLogs(context.Background(), "good", "d1", connectTo(tr))
	require.NoError(t, err)
	f.verifier.revoke("good")
	waitClosed(t, s)

	assert.Equal(t, ReasonTokenExpired, s.Reason())
	last := tr.last()
	assert.Equal(t, FrameError, last.Type)
	assert.Equal(t, "token expired", last.Message)
	assert.True(t, f.subscriber.subs[0].released())
}

func TestLogsSubscribeFailureCleansUp(t *testing.T) {
	f := newFixture(t, fakeSource{}, Options{})
	f.subscriber.err = errors.New("redis down")
	tr := newFakeTransport()

	_, err := f.manager.OpenLogs(context.Background(), "good", "d1", connectTo(tr))
	require.ErrorIs(t, err, domain.ErrRuntime)
	assert.Equal(t, 1, tr.closeCount())
	assert.Equal(t, 0, f.manager.Active())
	assert.Equal(t, FrameError, tr.last().Type)
}

func TestConnectedWriteFailureClosesSession(t *testing.T) {
	f := newFixture(t, fakeSource{}, Options{})
	tr := newFakeTransport()
	tr.sendErr = errors.New("broken pipe")

	_, err := f.manager.OpenMetrics(context.Background(), "good", connectTo(tr))
	require.Error(t, err)
	assert.Equal(t, 1, tr.closeCount())
	assert.Equal(t, 0, f.manager.Active())
}

func TestShutdownDrainsSessions(t *testing.T) {
	f := newFixture(t, fakeSource{}, Options{MetricsInterval: time.Hour})
	first, err := f.manager.OpenMetrics(context.Background(), "good", connectTo(newFakeTransport()))
	require.NoError(t, err)
	second, err := f.manager.OpenLogs(context.Background(), "good", "d1", connectTo(newFakeTransport()))
	require.NoError(t, err)

	require.NoError(t, f.manager.Shutdown(context.Background()))
	waitClosed(t, first)
	waitClosed(t, second)
	assert.Equal(t, ReasonShutdown, first.Reason())
	assert.Equal(t, 0, f.manager.Active())

	_, err = f.manager.OpenMetrics(context.Background(), "good", connectTo(newFakeTransport()))
	assert.ErrorIs(t, err, domain.ErrRuntime)
}
