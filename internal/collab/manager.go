package collab

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/maestro-mcp/maestro/internal/config"
)

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// Invoker is the narrow surface the coordination components depend on.
// Manager is the production implementation; tests use fakes.
type Invoker interface {
	Invoke(ctx context.Context, t CollaboratorType, operation string, args map[string]any) (map[string]any, error)
	Probe(ctx context.Context, t CollaboratorType) error
	Status(t CollaboratorType) Health
}

// Manager owns one long-lived channel per collaborator and runs the
// connect/retry/backoff/disconnect state machine.
//
// State machine per collaborator:
//
//	disconnected -> connecting -> connected
//	connected    -> degraded      (invocation or probe failure)
//	degraded     -> connecting    (reconnect attempt, backoff-gated)
//	any          -> disconnected  (explicit Disconnect)
//
// Connection failures are retried per policy; invocation failures are
// surfaced immediately — business calls are never retried here.
type Manager struct {
	cfg     *config.Config
	factory TransportFactory
	logger  *log.Logger

	mu      sync.Mutex
	handles map[CollaboratorType]*handle
}

// handle is the mutable per-collaborator record. Its mutex serializes
// connection attempts against concurrently-issued invocations for the
// same collaborator, so a handle is never read mid-transition.
type handle struct {
	mu          sync.Mutex
	typ         CollaboratorType
	state       ConnState
	transport   Transport
	attempts    int
	nextAttempt time.Time
	lastCheck   time.Time
	lastErr     error
	// closed marks an explicit Disconnect: the handle stays down until
	// the next explicit Connect, lazy reconnection does not apply.
	closed bool
}

// NewManager builds a Manager from the roster. No connections are
// opened until Connect or the first Invoke.
func NewManager(cfg *config.Config, factory TransportFactory, logger *log.Logger) *Manager {
	m := &Manager{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		handles: make(map[CollaboratorType]*handle, len(Types)),
	}
	for _, t := range Types {
		m.handles[t] = &handle{typ: t, state: StateDisconnected}
	}
	return m
}

func (m *Manager) handleFor(t CollaboratorType) (*handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[t]
	if !ok {
		return nil, fmt.Errorf("collab: unknown collaborator type %q", t)
	}
	return h, nil
}

// Connect establishes the channel for one collaborator. It resets the
// attempt counter and backoff gate, so an explicit Connect always
// tries immediately even after the ceiling was reached.
func (m *Manager) Connect(ctx context.Context, t CollaboratorType) error {
	h, err := m.handleFor(t)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempts = 0
	h.nextAttempt = time.Time{}
	h.closed = false
	return m.connectLocked(ctx, h)
}

// connectLocked dials the collaborator. Caller holds h.mu.
func (m *Manager) connectLocked(ctx context.Context, h *handle) error {
	entry, ok := m.cfg.Collaborators[string(h.typ)]
	if !ok || entry.Disabled {
		h.state = StateDisconnected
		h.lastErr = ErrUnavailable
		return &ConnectionError{Type: h.typ, Err: fmt.Errorf("%w: not configured", ErrUnavailable)}
	}

	h.state = StateConnecting

	transport, err := m.factory(entry)
	if err == nil {
		err = transport.Initialize(ctx)
		if err != nil {
			_ = transport.Close()
		}
	}
	h.lastCheck = timeNow()

	if err != nil {
		h.attempts++
		h.state = StateDegraded
		h.lastErr = err
		h.nextAttempt = timeNow().Add(m.backoffDelay(h.attempts))
		m.logger.Printf("collab: %s connect attempt %d failed: %v", h.typ, h.attempts, err)
		return &ConnectionError{Type: h.typ, Err: err}
	}

	if h.transport != nil {
		_ = h.transport.Close()
	}
	h.transport = transport
	h.state = StateConnected
	h.lastErr = nil
	h.nextAttempt = time.Time{}
	m.logger.Printf("collab: %s connected", h.typ)
	return nil
}

// backoffDelay returns base * 2^(attempt-1), capped, with optional
// jitter of up to 25%.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.cfg.Retry.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.Retry.MaxDelay {
			delay = m.cfg.Retry.MaxDelay
			break
		}
	}
	if m.cfg.Retry.Jitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay) / 4))
	}
	if delay > m.cfg.Retry.MaxDelay {
		delay = m.cfg.Retry.MaxDelay
	}
	return delay
}

// ensureConnectedLocked brings a handle to connected if policy allows,
// or returns ErrUnavailable. Caller holds h.mu.
func (m *Manager) ensureConnectedLocked(ctx context.Context, h *handle) error {
	switch h.state {
	case StateConnected:
		return nil
	case StateDisconnected:
		if h.closed {
			return fmt.Errorf("%w: %s was explicitly disconnected", ErrUnavailable, h.typ)
		}
		return m.connectLocked(ctx, h)
	case StateDegraded:
		if h.attempts >= m.cfg.Retry.MaxAttempts {
			return fmt.Errorf("%w: %s exceeded %d reconnect attempts", ErrUnavailable, h.typ, m.cfg.Retry.MaxAttempts)
		}
		if timeNow().Before(h.nextAttempt) {
			return fmt.Errorf("%w: %s in backoff until %s", ErrUnavailable, h.typ, h.nextAttempt.Format(time.RFC3339))
		}
		return m.connectLocked(ctx, h)
	default:
		// connecting: only reachable if another goroutine is mid-dial,
		// and h.mu prevents that. Treat as unavailable.
		return fmt.Errorf("%w: %s is connecting", ErrUnavailable, h.typ)
	}
}

// Invoke calls one operation on one collaborator, connecting first if
// needed. A successful invocation resets the reconnect attempt
// counter; a failed one degrades the handle but the error is returned
// as-is to the caller (attributed, never retried).
func (m *Manager) Invoke(ctx context.Context, t CollaboratorType, operation string, args map[string]any) (map[string]any, error) {
	h, err := m.handleFor(t)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := m.ensureConnectedLocked(ctx, h); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Invoke)
	defer cancel()

	result, err := h.transport.Call(callCtx, operation, args)
	h.lastCheck = timeNow()
	if err != nil {
		h.state = StateDegraded
		h.lastErr = err
		h.nextAttempt = timeNow().Add(m.backoffDelay(h.attempts + 1))
		return nil, &InvocationError{Type: t, Operation: operation, Err: err}
	}

	h.attempts = 0
	h.lastErr = nil
	return result, nil
}

// Probe runs the lightweight protocol ping with the probe timeout.
// Probe failure degrades the handle like an invocation failure.
func (m *Manager) Probe(ctx context.Context, t CollaboratorType) error {
	h, err := m.handleFor(t)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := m.ensureConnectedLocked(ctx, h); err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Probe)
	defer cancel()

	err = h.transport.Ping(probeCtx)
	h.lastCheck = timeNow()
	if err != nil {
		h.state = StateDegraded
		h.lastErr = err
		h.nextAttempt = timeNow().Add(m.backoffDelay(h.attempts + 1))
		return &InvocationError{Type: t, Operation: "ping", Err: err}
	}
	return nil
}

// Disconnect tears down one collaborator's channel. Terminal until
// Connect is called again.
func (m *Manager) Disconnect(t CollaboratorType) {
	h, err := m.handleFor(t)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.transport != nil {
		if err := h.transport.Close(); err != nil {
			m.logger.Printf("collab: %s close: %v", t, err)
		}
		h.transport = nil
	}
	h.state = StateDisconnected
	h.attempts = 0
	h.nextAttempt = time.Time{}
	h.closed = true
}

// Status returns a read-only view of one collaborator handle.
func (m *Manager) Status(t CollaboratorType) Health {
	h, err := m.handleFor(t)
	if err != nil {
		return Health{Type: t, State: StateDisconnected, LastError: err.Error()}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	hs := Health{
		Type:            t,
		State:           h.state,
		LastHealthCheck: h.lastCheck,
		ReconnectCount:  h.attempts,
	}
	if h.lastErr != nil {
		hs.LastError = h.lastErr.Error()
	}
	return hs
}

// ShutdownAll closes every collaborator channel. Called once on
// process exit.
func (m *Manager) ShutdownAll() {
	for _, t := range Types {
		m.Disconnect(t)
	}
}
