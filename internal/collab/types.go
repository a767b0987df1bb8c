// Package collab owns the connection layer to the collaborator MCP
// servers: the closed set of collaborator kinds, the per-collaborator
// connection state machine with retry/backoff, and the transport
// abstraction that lets every other component fan out invocations
// without knowing how a collaborator is reached.
package collab

import (
	"errors"
	"fmt"
	"time"
)

// CollaboratorType identifies one of the six known collaborator kinds.
// New kinds are added by adding a constant and extending Types — never
// by runtime type inspection.
type CollaboratorType string

const (
	Memory     CollaboratorType = "memory"
	Filesystem CollaboratorType = "filesystem"
	Git        CollaboratorType = "git"
	SQLite     CollaboratorType = "sqlite"
	Postgres   CollaboratorType = "postgres"
	Checkpoint CollaboratorType = "checkpoint"
)

// Types lists all collaborator kinds in canonical order. Fan-out
// results are always combined in this order so output is reproducible
// regardless of which collaborator answers first.
var Types = []CollaboratorType{Memory, Filesystem, Git, SQLite, Postgres, Checkpoint}

// Valid reports whether t is one of the six known kinds.
func (t CollaboratorType) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// ParseType converts a string into a CollaboratorType.
func ParseType(s string) (CollaboratorType, error) {
	t := CollaboratorType(s)
	if !t.Valid() {
		return "", fmt.Errorf("collab: unknown collaborator type %q", s)
	}
	return t, nil
}

// ConnState is the connection state of one collaborator handle.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDegraded     ConnState = "degraded"
)

// Health is a read-only view of one collaborator handle, returned by
// Manager.Status.
type Health struct {
	Type            CollaboratorType `json:"type"`
	State           ConnState        `json:"state"`
	LastHealthCheck time.Time        `json:"last_health_check"`
	ReconnectCount  int              `json:"reconnect_count"`
	LastError       string           `json:"last_error,omitempty"`
}

// Online reports whether the collaborator can currently serve calls.
func (h Health) Online() bool {
	return h.State == StateConnected
}

// --- Error taxonomy ---

// ErrUnavailable marks a collaborator that cannot serve calls right
// now (never connected, mid-backoff, or past the attempt ceiling).
var ErrUnavailable = errors.New("collaborator unavailable")

// ErrNotFound marks a record that does not exist in a collaborator's
// store. Callers treat it as an explicit empty result, not a failure.
var ErrNotFound = errors.New("not found")

// ConnectionError wraps a failure to establish a collaborator channel.
// Retried inside the Manager per the backoff policy; surfaced to
// callers only as degraded health.
type ConnectionError struct {
	Type CollaboratorType
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Type, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// InvocationError wraps a call that failed while the collaborator was
// reachable. Surfaced immediately and never retried automatically.
type InvocationError struct {
	Type      CollaboratorType
	Operation string
	Err       error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoking %s.%s: %v", e.Type, e.Operation, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err means the collaborator could not
// serve the call at all (as opposed to serving it and failing).
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsNotFound reports whether err is a missing-record result.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
