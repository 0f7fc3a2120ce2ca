package cerrors

import (
	"fmt"
	"strings"
)

// FatalDependencyError means a required backing store (MySQL, Milvus) is
// unreachable. There is no fallback: the process refuses to serve rather
// than operate with partial state.
type FatalDependencyError struct {
	Dependency string
	Err        error
}

func (e *FatalDependencyError) Error() string {
	return fmt.Sprintf("fatal dependency %q unavailable: %v", e.Dependency, e.Err)
}

func (e *FatalDependencyError) Unwrap() error { return e.Err }

// DegradedDependencyError means an optional accelerator (Redis cache, Kafka
// audit bus) is unreachable. The operation continues; the condition is only
// logged.
type DegradedDependencyError struct {
	Dependency string
	Err        error
}

func (e *DegradedDependencyError) Error() string {
	return fmt.Sprintf("degraded dependency %q unavailable: %v", e.Dependency, e.Err)
}

func (e *DegradedDependencyError) Unwrap() error { return e.Err }

// ConsistencyGapError means a vector hit referenced a relational row that
// no longer exists. The hit is dropped and reconciliation is scheduled;
// the query itself still succeeds.
type ConsistencyGapError struct {
	Collection string
	RecordID   string
}

func (e *ConsistencyGapError) Error() string {
	return fmt.Sprintf("vector record %q in collection %q has no matching relational row", e.RecordID, e.Collection)
}

// ValidationError reports command parameters that remain missing after
// context fill. The message names every missing parameter so the user is
// never left guessing.
type ValidationError struct {
	Command string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("command %q is missing required parameters: %s", e.Command, strings.Join(e.Missing, ", "))
}

// SecurityViolationError reports an attempted dispatch to an endpoint
// absent from the capability whitelist. This is a hard failure: no HTTP
// call is made and no alternative target is tried.
type SecurityViolationError struct {
	Method string
	Path   string
}

func (e *SecurityViolationError) Error() string {
	return fmt.Sprintf("endpoint %s:%s is not whitelisted; dispatch refused", e.Method, e.Path)
}

// TransportError reports a timeout or non-2xx response from an executed
// command. Mutating commands are never retried on transport errors because
// endpoint idempotency cannot be assumed.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command transport to %s failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("command transport to %s failed with status %d", e.Endpoint, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConflictError reports that the optimistic-lock retry budget was exhausted
// while persisting a thread.
type ConflictError struct {
	ThreadID string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("thread %q: persist conflict after %d attempts", e.ThreadID, e.Attempts)
}
