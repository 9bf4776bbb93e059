// Package scheduler runs a session's task graph wave by wave, short-circuits
// tasks whose fingerprinted results are already cached, and publishes
// progress events in a stable order.
package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/anthropics/decision-engine/internal/domain"
	"github.com/anthropics/decision-engine/internal/eventbus"
	"github.com/anthropics/decision-engine/internal/sim"
	"github.com/anthropics/decision-engine/internal/store"
)

// ExecRequest carries everything an executor needs for one dispatch.
type ExecRequest struct {
	SessionID string
	Task      domain.Task
	// DepOutputs maps each dependency id to its stored output document.
	DepOutputs map[string]json.RawMessage
	// Progress may be called with monotonically increasing completion
	// counts. Nil-safe for executors that report none.
	Progress func(completed, total int)
}

// ExecResult is an executor's successful output.
type ExecResult struct {
	Output   json.RawMessage
	Degraded bool
}

// Executor runs all tasks of one kind.
type Executor interface {
	Kind() domain.TaskKind
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// SimulationExecutor adapts the Monte Carlo engine to the task interface and
// persists the full summary as a session artifact.
type SimulationExecutor struct {
	Engine      *sim.Engine
	DB          *sql.DB
	Artifacts   *store.ArtifactRepo
	ArtifactTTL time.Duration
}

func (e *SimulationExecutor) Kind() domain.TaskKind { return domain.KindSimulation }

func (e *SimulationExecutor) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	var onProgress sim.ProgressFunc
	if req.Progress != nil {
		onProgress = sim.ProgressFunc(req.Progress)
	}
	params := mergeDepParams(req.Task.Params, req.DepOutputs)
	summary, err := e.Engine.Run(ctx, req.SessionID, req.Task.ID, params, onProgress)
	if err != nil {
		return ExecResult{}, err
	}

	body, err := json.Marshal(summary)
	if err != nil {
		return ExecResult{}, fmt.Errorf("marshal summary: %w", err)
	}
	if e.Artifacts != nil {
		name := "simulation/" + req.Task.ID
		if err := e.Artifacts.Put(ctx, e.DB, req.SessionID, name, body, e.ArtifactTTL); err != nil {
			return ExecResult{}, fmt.Errorf("persist summary artifact: %w", err)
		}
	}
	return ExecResult{Output: body, Degraded: summary.Degraded}, nil
}

// mergeDepParams overlays upstream outputs (market research figures) with
// the task's own params. Deps apply in id order so a field emitted by two
// dependencies resolves the same way every run; explicit task params always
// win, so a what-if override is never shadowed by stale research data.
func mergeDepParams(own domain.Params, deps map[string]json.RawMessage) domain.Params {
	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	merged := make(domain.Params)
	for _, id := range ids {
		var doc map[string]any
		if err := json.Unmarshal(deps[id], &doc); err != nil {
			continue
		}
		for k, v := range doc {
			merged[k] = v
		}
	}
	for k, v := range own {
		merged[k] = v
	}
	return merged
}

// progressEmitter throttles task_progress events so a hundred-batch run does
// not flood the journal. The final count is always published.
type progressEmitter struct {
	bus       *eventbus.Bus
	sessionID string
	taskID    string
	every     int
	lastMark  int
}

func (p *progressEmitter) report(completed, total int) {
	final := completed >= total
	if !final && completed-p.lastMark < p.every {
		return
	}
	if final && completed == p.lastMark {
		// The throttle already let this count through.
		return
	}
	p.lastMark = completed
	_ = p.bus.Publish(context.Background(), p.sessionID, domain.EventTaskProgress, map[string]any{
		"task_id":   p.taskID,
		"completed": completed,
		"total":     total,
	})
}
