package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/broker"
)

// Kind distinguishes what a session streams.
type Kind string

const (
	KindMetrics Kind = "metrics"
	KindLogs    Kind = "logs"
)

// State is the lifecycle position of a session. Closed is terminal.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// Close reasons, also used as metric labels.
const (
	ReasonDisconnect      = "disconnect"
	ReasonTimeout         = "timeout"
	ReasonErrorBudget     = "error_budget"
	ReasonTokenExpired    = "token_expired"
	ReasonWriteFailed     = "write_failed"
	ReasonSubscribeFailed = "subscribe_failed"
	ReasonBrokerClosed    = "broker_closed"
	ReasonShutdown        = "shutdown"
)

const unsubscribeTimeout = 2 * time.Second

var errSessionClosed = errors.New("stream: session closed")

// Session is one live stream. All periodic work runs on a single goroutine.
type Session struct {
	id           string
	kind         Kind
	ownerID      string
	token        string
	deploymentID string
	transport    Transport
	manager      *Manager

	ctx    context.Context
	cancel context.CancelFunc

	interval time.Duration
	maxAge   time.Duration

	mu     sync.Mutex
	state  State
	reason string
	ticker *time.Ticker
	timer  *time.Timer
	sub    broker.Subscription

	closeOnce sync.Once
	closed    chan struct{}

	// consecutive handler failures, touched only by the run goroutine
	failures int
}

func newSession(m *Manager, kind Kind, ownerID, token, deploymentID string, transport Transport) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:           newSessionID(),
		kind:         kind,
		ownerID:      ownerID,
		token:        token,
		deploymentID: deploymentID,
		transport:    transport,
		manager:      m,
		ctx:          ctx,
		cancel:       cancel,
		state:        StateConnecting,
		closed:       make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Kind returns what the session streams.
func (s *Session) Kind() Kind { return s.kind }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns why the session closed, or "" while it is live.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed after the session released its transport, subscription
// and registration.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = state
	}
}

func (s *Session) start(messages <-chan string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.ticker = time.NewTicker(s.interval)
	s.timer = time.NewTimer(s.maxAge)
	tick, deadline := s.ticker.C, s.timer.C
	s.mu.Unlock()

	go s.run(tick, deadline, messages)
}

func (s *Session) run(tick <-chan time.Time, deadline <-chan time.Time, messages <-chan string) {
	for {
		select {
		case <-s.closed:
			return
		case <-s.transport.Done():
			s.Close(ReasonDisconnect)
			return
		case <-deadline:
			_ = s.sendFrame(Frame{Type: FrameTimeout, Message: "session reached its maximum duration"})
			s.Close(ReasonTimeout)
			return
		case <-tick:
			s.onTick()
		case msg, ok := <-messages:
			if !ok {
				_ = s.sendFrame(Frame{Type: FrameError, Message: "log stream ended"})
				s.Close(ReasonBrokerClosed)
				return
			}
			if err := s.sendFrame(Frame{Type: FrameLog, Data: msg}); err != nil {
				s.fail(err)
				continue
			}
			s.failures = 0
		}
	}
}

func (s *Session) onTick() {
	switch s.kind {
	case KindMetrics:
		ctx, cancel := context.WithTimeout(s.ctx, s.interval)
		snapshot, err := s.manager.source.Collect(ctx, s.ownerID)
		cancel()
		if err != nil {
			s.fail(err)
			return
		}
		if err := s.sendFrame(Frame{Type: FrameMetrics, Data: snapshot}); err != nil {
			s.fail(err)
			return
		}
		s.failures = 0
	case KindLogs:
		if _, err := s.manager.verifier.Verify(s.token); err != nil {
			_ = s.sendFrame(Frame{Type: FrameError, Message: "token expired"})
			s.Close(ReasonTokenExpired)
			return
		}
		if hb, ok := s.transport.(Heartbeater); ok {
			if err := hb.Heartbeat(); err != nil {
				s.fail(err)
				return
			}
		}
		s.failures = 0
	}
}

func (s *Session) fail(err error) {
	s.failures++
	s.manager.logger.Warn("stream handler error", "session_id", s.id, "kind", s.kind, "failures", s.failures, "error", err)
	if s.failures >= s.manager.opts.ErrorBudget {
		_ = s.sendFrame(Frame{Type: FrameError, Message: "too many consecutive errors"})
		s.Close(ReasonErrorBudget)
	}
}

func (s *Session) sendFrame(f Frame) error {
	if s.State() == StateClosed {
		return errSessionClosed
	}
	f.Timestamp = s.manager.now().UTC()
	payload, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return s.transport.Send(payload)
}

// attach hands the subscription to the session. A session that closed in the
// meantime releases it immediately.
func (s *Session) attach(sub broker.Subscription) bool {
	s.mu.Lock()
	if s.state != StateClosed {
		s.sub = sub
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	_ = sub.Close()
	return false
}

// Close tears the session down. Only the first call has an effect.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.reason = reason
		ticker, timer, sub := s.ticker, s.timer, s.sub
		s.mu.Unlock()

		if ticker != nil {
			ticker.Stop()
		}
		if timer != nil {
			timer.Stop()
		}
		s.cancel()
		if sub != nil {
			ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
			if err := sub.Unsubscribe(ctx); err != nil {
				s.manager.logger.Debug("unsubscribe failed", "session_id", s.id, "error", err)
			}
			cancel()
			_ = sub.Close()
		}
		s.transport.Close()
		s.manager.deregister(s)
		sessionCloses.WithLabelValues(string(s.kind), reason).Inc()
		s.manager.logger.Info("stream session closed", "session_id", s.id, "kind", s.kind, "reason", reason)
		close(s.closed)
	})
}
