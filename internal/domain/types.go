// Package domain defines the core types for the decision engine pipeline.
package domain

import "encoding/json"

// TaskKind classifies a task by the executor that runs it.
type TaskKind string

const (
	KindResearch   TaskKind = "research"
	KindSimulation TaskKind = "simulation"
	KindEvaluation TaskKind = "evaluation"
)

// TaskStatus represents the lifecycle state of a task within a session.
type TaskStatus string

const (
	TaskPending       TaskStatus = "pending"
	TaskRunning       TaskStatus = "running"
	TaskSucceeded     TaskStatus = "succeeded"
	TaskFailed        TaskStatus = "failed"
	TaskSkippedCached TaskStatus = "skipped_cached"
	TaskSkippedFailed TaskStatus = "skipped_due_to_failure"
	TaskCancelled     TaskStatus = "cancelled"
)

// Terminal reports whether a status is final. Terminal results are never
// mutated; a follow-up supersedes them under a new fingerprint instead.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskSkippedCached, TaskSkippedFailed, TaskCancelled:
		return true
	}
	return false
}

// Params is the opaque parameter bag passed to a task's executor.
// Values must be JSON-serializable; fingerprinting does not depend on
// key order.
type Params map[string]any

// Clone returns a shallow copy of the params.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Task is one node of a session's analysis DAG.
type Task struct {
	ID        string   `json:"id"`
	Kind      TaskKind `json:"kind"`
	DependsOn []string `json:"depends_on"`
	Params    Params   `json:"params"`
}

// TaskResult is the finalized outcome of one task dispatch.
type TaskResult struct {
	TaskID            string          `json:"task_id"`
	Status            TaskStatus      `json:"status"`
	Output            json.RawMessage `json:"output,omitempty"`
	ParamsFingerprint string          `json:"params_fingerprint"`
	Attempts          int             `json:"attempts"`
	Degraded          bool            `json:"degraded,omitempty"`
	Error             string          `json:"error,omitempty"`
	StartedAtUnix     int64           `json:"started_at_unix"`
	CompletedAtUnix   int64           `json:"completed_at_unix"`
}

// SessionStatus is the aggregate state of a pipeline run.
type SessionStatus string

const (
	SessionRunning        SessionStatus = "running"
	SessionSucceeded      SessionStatus = "succeeded"
	SessionPartialFailure SessionStatus = "partial_failure"
	SessionCancelled      SessionStatus = "cancelled"
)

// Session identifies one analysis and governs artifact retention. A session
// is created once per initial request and mutated by every follow-up.
type Session struct {
	SessionID     string        `json:"session_id"`
	Status        SessionStatus `json:"status"`
	CreatedAtUnix int64         `json:"created_at_unix"`
	ExpiresAtUnix int64         `json:"expires_at_unix"`
}

// SessionResult describes exactly which tasks succeeded, failed, or were
// skipped. Partial failure still exposes every completed artifact.
type SessionResult struct {
	SessionID      string                `json:"session_id"`
	Status         SessionStatus         `json:"status"`
	Results        map[string]TaskResult `json:"results"`
	ElapsedSeconds float64               `json:"elapsed_seconds"`
}

// Event is one entry of a session's append-only progress log.
// Seq is gap-free and starts at 0 for each session.
type Event struct {
	SessionID     string `json:"session_id"`
	Seq           int64  `json:"seq"`
	Kind          string `json:"kind"`
	PayloadJSON   string `json:"payload"`
	CreatedAtUnix int64  `json:"created_at_unix"`
}

// Event kinds published by the scheduler and the simulation engine.
const (
	EventPipelineStarted   = "pipeline_started"
	EventPipelineCompleted = "pipeline_completed"
	EventFollowupStarted   = "followup_started"
	EventTaskStarted       = "task_started"
	EventTaskProgress      = "task_progress"
	EventTaskCompleted     = "task_completed"
	EventTaskFailed        = "task_failed"
	EventTaskSkippedCached = "task_skipped_cached"
	EventTaskSkippedFailed = "task_skipped_due_to_failure"
	EventTaskCancelled     = "task_cancelled"
)

// SimulationBatch is one unit of parallel simulation work. A batch is created
// and consumed by exactly one worker.
type SimulationBatch struct {
	BatchID       int    `json:"batch_id"`
	ScenarioCount int    `json:"scenario_count"`
	Seed          int64  `json:"seed"`
	Params        Params `json:"params"`
}

// Histogram is a binned view of the outcome distribution for charting.
type Histogram struct {
	Counts   []int     `json:"counts"`
	BinEdges []float64 `json:"bin_edges"`
}

// SimulationSummary is the merge of all batch outputs for one simulation
// task. Count always equals the sum of surviving batches' scenario counts.
type SimulationSummary struct {
	Count         int64     `json:"count"`
	Mean          float64   `json:"mean"`
	StdDev        float64   `json:"std_dev"`
	Min           float64   `json:"min"`
	Max           float64   `json:"max"`
	P10           float64   `json:"p10"`
	P25           float64   `json:"p25"`
	P50           float64   `json:"p50"`
	P75           float64   `json:"p75"`
	P90           float64   `json:"p90"`
	ProbLoss      float64   `json:"prob_loss"`
	ValueAtRisk   float64   `json:"value_at_risk"`
	SharpeRatio   *float64  `json:"sharpe_ratio"` // nil when std dev is exactly 0
	Histogram     Histogram `json:"histogram"`
	Degraded      bool      `json:"degraded"`
	FailedBatches int       `json:"failed_batches"`
}
