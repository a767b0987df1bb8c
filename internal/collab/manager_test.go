package collab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/maestro-mcp/maestro/internal/config"
)

// clock is a controllable test clock wired into timeNow.
var clock = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func init() {
	timeNow = func() time.Time { return clock }
}

func advance(d time.Duration) { clock = clock.Add(d) }

// --- Fake transport ---

type fakeTransport struct {
	initErr error
	pingErr error
	callErr error
	result  map[string]any
	calls   []string
	closed  bool
	pings   int
}

func (f *fakeTransport) Initialize(ctx context.Context) error { return f.initErr }
func (f *fakeTransport) Ping(ctx context.Context) error {
	f.pings++
	return f.pingErr
}
func (f *fakeTransport) Call(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, op)
	if f.callErr != nil {
		return nil, f.callErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return map[string]any{"ok": true}, nil
}
func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// fakeFactory counts dials and hands out a fresh transport per dial.
type fakeFactory struct {
	dials     int
	dialErr   error
	transport func() *fakeTransport
	last      *fakeTransport
}

func (f *fakeFactory) build(config.Collaborator) (Transport, error) {
	f.dials++
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	if f.transport != nil {
		f.last = f.transport()
	} else {
		f.last = &fakeTransport{}
	}
	return f.last, nil
}

func testManager(factory *fakeFactory) *Manager {
	cfg := config.Default()
	cfg.Retry.Jitter = false
	cfg.Retry.MaxAttempts = 3
	cfg.Collaborators["checkpoint"] = config.Collaborator{Command: "fake-checkpoint"}
	return NewManager(cfg, factory.build, log.New(io.Discard, "", 0))
}

// --- Connect ---

func TestConnect_Success(t *testing.T) {
	f := &fakeFactory{}
	m := testManager(f)

	if err := m.Connect(context.Background(), Memory); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := m.Status(Memory).State; got != StateConnected {
		t.Errorf("state = %s, want connected", got)
	}
}

func TestConnect_DialFailureDegrades(t *testing.T) {
	f := &fakeFactory{dialErr: errors.New("spawn failed")}
	m := testManager(f)

	err := m.Connect(context.Background(), Memory)
	if err == nil {
		t.Fatal("Connect should fail")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("error type = %T, want *ConnectionError", err)
	}

	st := m.Status(Memory)
	if st.State != StateDegraded {
		t.Errorf("state = %s, want degraded", st.State)
	}
	if st.ReconnectCount != 1 {
		t.Errorf("attempts = %d, want 1", st.ReconnectCount)
	}
}

func TestConnect_InitFailureClosesTransport(t *testing.T) {
	f := &fakeFactory{transport: func() *fakeTransport {
		return &fakeTransport{initErr: errors.New("handshake refused")}
	}}
	m := testManager(f)

	if err := m.Connect(context.Background(), Git); err == nil {
		t.Fatal("Connect should fail")
	}
	if !f.last.closed {
		t.Error("failed handshake should close the transport")
	}
}

func TestConnect_NotConfigured(t *testing.T) {
	f := &fakeFactory{}
	m := testManager(f)
	m.cfg.Collaborators["postgres"] = config.Collaborator{Command: "x", Disabled: true}

	err := m.Connect(context.Background(), Postgres)
	if !IsUnavailable(err) {
		t.Errorf("disabled collaborator should be unavailable, got %v", err)
	}
	if f.dials != 0 {
		t.Errorf("dials = %d, want 0", f.dials)
	}
}

// --- Invoke ---

func TestInvoke_LazyConnect(t *testing.T) {
	f := &fakeFactory{}
	m := testManager(f)

	result, err := m.Invoke(context.Background(), Memory, "read_graph", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result["ok"] != true {
		t.Errorf("result = %v, want ok", result)
	}
	if f.dials != 1 {
		t.Errorf("dials = %d, want 1", f.dials)
	}
}

func TestInvoke_FailureDegradesButSurfaces(t *testing.T) {
	f := &fakeFactory{transport: func() *fakeTransport {
		return &fakeTransport{callErr: errors.New("bad args")}
	}}
	m := testManager(f)

	_, err := m.Invoke(context.Background(), Memory, "read_graph", nil)
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("error type = %T, want *InvocationError", err)
	}
	if invErr.Type != Memory || invErr.Operation != "read_graph" {
		t.Errorf("attribution = %s.%s, want memory.read_graph", invErr.Type, invErr.Operation)
	}
	if got := m.Status(Memory).State; got != StateDegraded {
		t.Errorf("state = %s, want degraded", got)
	}
	// Exactly one call: business calls are not retried.
	if len(f.last.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(f.last.calls))
	}
}

func TestInvoke_BackoffGatesReconnect(t *testing.T) {
	f := &fakeFactory{dialErr: errors.New("down")}
	m := testManager(f)

	_, _ = m.Invoke(context.Background(), Memory, "op", nil) // attempt 1
	if f.dials != 1 {
		t.Fatalf("dials = %d, want 1", f.dials)
	}

	// Mid-backoff: no new dial, unavailable.
	_, err := m.Invoke(context.Background(), Memory, "op", nil)
	if !IsUnavailable(err) {
		t.Errorf("mid-backoff error = %v, want unavailable", err)
	}
	if f.dials != 1 {
		t.Errorf("dials = %d, want still 1", f.dials)
	}

	// Past the backoff window: retries.
	advance(time.Second)
	_, _ = m.Invoke(context.Background(), Memory, "op", nil)
	if f.dials != 2 {
		t.Errorf("dials = %d, want 2", f.dials)
	}
}

func TestInvoke_AttemptCeiling(t *testing.T) {
	f := &fakeFactory{dialErr: errors.New("down")}
	m := testManager(f)

	for i := 0; i < 3; i++ {
		_, _ = m.Invoke(context.Background(), Memory, "op", nil)
		advance(time.Minute)
	}
	if f.dials != 3 {
		t.Fatalf("dials = %d, want 3", f.dials)
	}

	// Ceiling reached: stays degraded, never silently retried.
	advance(time.Hour)
	_, err := m.Invoke(context.Background(), Memory, "op", nil)
	if !IsUnavailable(err) {
		t.Errorf("past-ceiling error = %v, want unavailable", err)
	}
	if f.dials != 3 {
		t.Errorf("dials = %d, want still 3", f.dials)
	}

	// Explicit Connect resets the counter and tries again.
	_ = m.Connect(context.Background(), Memory)
	if f.dials != 4 {
		t.Errorf("dials after explicit Connect = %d, want 4", f.dials)
	}
}

func TestInvoke_SuccessResetsAttempts(t *testing.T) {
	f := &fakeFactory{dialErr: errors.New("down")}
	m := testManager(f)

	_, _ = m.Invoke(context.Background(), Memory, "op", nil)
	f.dialErr = nil
	advance(time.Minute)

	if _, err := m.Invoke(context.Background(), Memory, "op", nil); err != nil {
		t.Fatalf("Invoke after recovery: %v", err)
	}
	if got := m.Status(Memory).ReconnectCount; got != 0 {
		t.Errorf("attempts after success = %d, want 0", got)
	}
}

func TestInvoke_UnknownType(t *testing.T) {
	m := testManager(&fakeFactory{})
	if _, err := m.Invoke(context.Background(), CollaboratorType("redis"), "op", nil); err == nil {
		t.Error("Invoke with unknown type should fail")
	}
}

// --- Probe ---

func TestProbe_FailureDegrades(t *testing.T) {
	f := &fakeFactory{transport: func() *fakeTransport {
		return &fakeTransport{pingErr: errors.New("timeout")}
	}}
	m := testManager(f)

	if err := m.Probe(context.Background(), Filesystem); err == nil {
		t.Fatal("Probe should fail")
	}
	if got := m.Status(Filesystem).State; got != StateDegraded {
		t.Errorf("state = %s, want degraded", got)
	}
}

// --- Disconnect ---

func TestDisconnect_TerminalUntilConnect(t *testing.T) {
	f := &fakeFactory{}
	m := testManager(f)

	_ = m.Connect(context.Background(), Memory)
	m.Disconnect(Memory)

	if !f.last.closed {
		t.Error("Disconnect should close the transport")
	}
	if got := m.Status(Memory).State; got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}

	// No lazy reconnect after an explicit Disconnect.
	_, err := m.Invoke(context.Background(), Memory, "op", nil)
	if !IsUnavailable(err) {
		t.Errorf("post-disconnect Invoke error = %v, want unavailable", err)
	}

	if err := m.Connect(context.Background(), Memory); err != nil {
		t.Fatalf("Connect after Disconnect: %v", err)
	}
	if got := m.Status(Memory).State; got != StateConnected {
		t.Errorf("state = %s, want connected", got)
	}
}

func TestShutdownAll(t *testing.T) {
	f := &fakeFactory{}
	m := testManager(f)
	_ = m.Connect(context.Background(), Memory)
	_ = m.Connect(context.Background(), Git)

	m.ShutdownAll()

	for _, typ := range Types {
		if got := m.Status(typ).State; got != StateDisconnected {
			t.Errorf("%s state = %s, want disconnected", typ, got)
		}
	}
}

// --- Backoff ---

func TestBackoffDelay_ExponentialAndCapped(t *testing.T) {
	cfg := config.Default()
	cfg.Retry.Jitter = false
	m := NewManager(cfg, (&fakeFactory{}).build, log.New(io.Discard, "", 0))

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{10, 30 * time.Second}, // capped at MaxDelay
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := m.backoffDelay(tt.attempt); got != tt.want {
				t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestBackoffDelay_JitterStaysUnderCap(t *testing.T) {
	cfg := config.Default()
	cfg.Retry.Jitter = true
	m := NewManager(cfg, (&fakeFactory{}).build, log.New(io.Discard, "", 0))

	for i := 0; i < 50; i++ {
		d := m.backoffDelay(20)
		if d > cfg.Retry.MaxDelay {
			t.Fatalf("jittered delay %v exceeds cap %v", d, cfg.Retry.MaxDelay)
		}
	}
}

// --- Types ---

func TestParseType(t *testing.T) {
	if _, err := ParseType("git"); err != nil {
		t.Errorf("ParseType(git): %v", err)
	}
	if _, err := ParseType("redis"); err == nil {
		t.Error("ParseType(redis) should fail")
	}
}

func TestTypes_CanonicalOrderStable(t *testing.T) {
	want := []CollaboratorType{Memory, Filesystem, Git, SQLite, Postgres, Checkpoint}
	if len(Types) != len(want) {
		t.Fatalf("Types length = %d, want %d", len(Types), len(want))
	}
	for i := range want {
		if Types[i] != want[i] {
			t.Errorf("Types[%d] = %s, want %s", i, Types[i], want[i])
		}
	}
}
