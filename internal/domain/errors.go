package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is matches any EngineError with the same code, so wrapped errors created
// with NewEngineError compare equal to their sentinel via errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Code == e.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Validation errors (-32010 to -32029) ----
// Malformed DAGs are rejected before any execution starts.

var (
	ErrValidation      = &EngineError{Code: -32010, Message: "task graph validation failed"}
	ErrDuplicateTaskID = &EngineError{Code: -32011, Message: "duplicate task id"}
	ErrUnknownDep      = &EngineError{Code: -32012, Message: "task depends on unknown task"}
	ErrGraphCycle      = &EngineError{Code: -32013, Message: "task graph contains a cycle"}
	ErrEmptyGraph      = &EngineError{Code: -32014, Message: "task graph has no tasks"}
	ErrInvalidTaskKind = &EngineError{Code: -32015, Message: "unknown task kind"}
)

// ---- Execution errors (-32040 to -32069) ----

var (
	ErrExecution          = &EngineError{Code: -32040, Message: "task execution failed"}
	ErrTaskTimeout        = &EngineError{Code: -32041, Message: "task exceeded its allotted time"}
	ErrNoExecutor         = &EngineError{Code: -32042, Message: "no executor registered for task kind"}
	ErrPipelineCancelled  = &EngineError{Code: -32043, Message: "pipeline was cancelled"}
	ErrCacheInconsistency = &EngineError{Code: -32044, Message: "cached result fingerprint does not match recomputed parameters"}
)

// ---- Simulation errors (-32070 to -32099) ----

var (
	ErrTotalSimulationFailure = &EngineError{Code: -32070, Message: "simulation batch failure fraction exceeds threshold"}
	ErrBatchFailed            = &EngineError{Code: -32071, Message: "simulation batch failed"}
	ErrNoScenarios            = &EngineError{Code: -32072, Message: "simulation requires a positive scenario count"}
	ErrTrialModelMissing      = &EngineError{Code: -32073, Message: "no trial model configured"}
)

// ---- Session errors (-32100 to -32129) ----

var (
	ErrSessionNotFound = &EngineError{Code: -32100, Message: "session not found"}
	ErrSessionExpired  = &EngineError{Code: -32101, Message: "session artifacts have expired"}
	ErrSessionRunning  = &EngineError{Code: -32102, Message: "session pipeline is still running"}
	ErrSessionActive   = &EngineError{Code: -32103, Message: "session already has a pipeline in flight"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit     = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery    = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite    = &EngineError{Code: -32132, Message: "store write failed"}
	ErrConfigInvalid = &EngineError{Code: -32136, Message: "invalid configuration"}
	ErrDuplicateSeq  = &EngineError{Code: -32137, Message: "duplicate event sequence number"}
)
