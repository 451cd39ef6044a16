// Package studioerr defines the closed error taxonomy of spec.md §7. Every
// kind is a distinct struct type so callers can recover structured fields
// with errors.As instead of parsing messages.
package studioerr

import "fmt"

// InvalidProjectDocument means the project JSON failed to parse or
// reference-validate.
type InvalidProjectDocument struct {
	Reason string
}

func (e *InvalidProjectDocument) Error() string {
	return fmt.Sprintf("invalid project document: %s", e.Reason)
}

// UnknownNodeKind means no NodeDefinition is registered for a node's
// (kind, version).
type UnknownNodeKind struct {
	NodeID  string
	Kind    string
	Version int
}

func (e *UnknownNodeKind) Error() string {
	return fmt.Sprintf("node %s: unknown node kind %s v%d", e.NodeID, e.Kind, e.Version)
}

// InvalidNodeConfig means a node's config failed schema validation.
type InvalidNodeConfig struct {
	NodeID string
	Field  string
	Reason string
}

func (e *InvalidNodeConfig) Error() string {
	return fmt.Sprintf("node %s: invalid config field %q: %s", e.NodeID, e.Field, e.Reason)
}

// InvalidEdge means an edge fails uniqueness or endpoint-resolution checks.
type InvalidEdge struct {
	EdgeID string
	Reason string
}

func (e *InvalidEdge) Error() string {
	return fmt.Sprintf("edge %s: %s", e.EdgeID, e.Reason)
}

// PortTypeMismatch means an edge connects incompatible port types.
type PortTypeMismatch struct {
	EdgeID string
	From   string
	To     string
}

func (e *PortTypeMismatch) Error() string {
	return fmt.Sprintf("edge %s: port type mismatch %s -> %s", e.EdgeID, e.From, e.To)
}

// MissingRequiredInput means a required input port has no inbound edge.
type MissingRequiredInput struct {
	NodeID string
	PortID string
}

func (e *MissingRequiredInput) Error() string {
	return fmt.Sprintf("node %s: missing required input %s", e.NodeID, e.PortID)
}

// GraphCycleDetected means Kahn's algorithm left a non-empty residual.
type GraphCycleDetected struct {
	RemainingNodeIDs []string
}

func (e *GraphCycleDetected) Error() string {
	return fmt.Sprintf("graph cycle detected among nodes: %v", e.RemainingNodeIDs)
}

// PermissionDenied means a capability assertion failed.
type PermissionDenied struct {
	Capability string
	Subject    string
	Reason     string
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("permission denied for %s %q: %s", e.Capability, e.Subject, e.Reason)
}

// UnsupportedEnvironment means a desktop-only capability was invoked on a
// non-desktop host.
type UnsupportedEnvironment struct {
	Capability string
}

func (e *UnsupportedEnvironment) Error() string {
	return fmt.Sprintf("%s is unsupported in this environment", e.Capability)
}

// SecretUnavailable means the keychain backend is absent or lacks the
// requested reference.
type SecretUnavailable struct {
	Ref string
}

func (e *SecretUnavailable) Error() string {
	return fmt.Sprintf("secret unavailable: %s", e.Ref)
}

// IoUnavailable means the host environment cannot supply binary reads.
type IoUnavailable struct {
	Reason string
}

func (e *IoUnavailable) Error() string {
	return fmt.Sprintf("io unavailable: %s", e.Reason)
}

// AdapterHttpError means a remote call returned a non-2xx status.
type AdapterHttpError struct {
	Status     int
	BodyPrefix string
}

func (e *AdapterHttpError) Error() string {
	return fmt.Sprintf("adapter http error: status=%d body=%q", e.Status, e.BodyPrefix)
}

// AdapterConflict means a remote call returned 409 turn_in_flight.
type AdapterConflict struct {
	Reason    string
	LockUntil string
}

func (e *AdapterConflict) Error() string {
	if e.LockUntil != "" {
		return fmt.Sprintf("adapter conflict: %s (locked until %s)", e.Reason, e.LockUntil)
	}
	return fmt.Sprintf("adapter conflict: %s", e.Reason)
}

// AdapterTransient means a remote call failed in a way the adapter's own
// retry loop should retry.
type AdapterTransient struct {
	Message string
}

func (e *AdapterTransient) Error() string {
	return fmt.Sprintf("adapter transient error: %s", e.Message)
}

// SubprocessTimeout means the sandbox hard-killed a child process.
type SubprocessTimeout struct {
	Command string
}

func (e *SubprocessTimeout) Error() string {
	return fmt.Sprintf("subprocess timed out: %s", e.Command)
}

// SubprocessNonZero means the sandboxed command exited non-zero.
type SubprocessNonZero struct {
	Command   string
	ExitCode  int
	FirstLine string
}

func (e *SubprocessNonZero) Error() string {
	return fmt.Sprintf("subprocess %s exited %d: %s", e.Command, e.ExitCode, e.FirstLine)
}

// CacheCorruption means the on-disk cache snapshot failed to parse; the
// caller should fall back to an empty cache rather than fail the run.
type CacheCorruption struct {
	Reason string
}

func (e *CacheCorruption) Error() string {
	return fmt.Sprintf("cache corruption: %s", e.Reason)
}

// RetentionPruneFailure is logged, never fatal.
type RetentionPruneFailure struct {
	Reason string
}

func (e *RetentionPruneFailure) Error() string {
	return fmt.Sprintf("retention prune failure: %s", e.Reason)
}

// Retryable reports whether err is an AdapterTransient the caller should
// retry.
func Retryable(err error) bool {
	_, ok := err.(*AdapterTransient)
	return ok
}
