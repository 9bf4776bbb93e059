package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/anthropics/decision-engine/internal/domain"
	"github.com/anthropics/decision-engine/internal/eventbus"
	"github.com/anthropics/decision-engine/internal/graph"
	"github.com/anthropics/decision-engine/internal/store"
)

// Config bounds scheduler execution.
type Config struct {
	MaxTaskConcurrency int
	TaskTimeout        time.Duration
	MaxRetries         int
	RetryBase          time.Duration
	RetryMax           time.Duration
	ResultTTL          time.Duration
	// ProgressEvery throttles task_progress events to one per this many
	// completed scenarios.
	ProgressEvery int
}

// Scheduler dispatches a graph's tasks wave by wave. Within a wave tasks run
// concurrently up to MaxTaskConcurrency; wave boundaries are barriers, so a
// task never starts before every earlier wave has fully settled.
type Scheduler struct {
	db        *sql.DB
	bus       *eventbus.Bus
	results   *store.ResultRepo
	executors map[domain.TaskKind]Executor
	cfg       Config
}

func New(db *sql.DB, bus *eventbus.Bus, cfg Config, executors ...Executor) *Scheduler {
	s := &Scheduler{
		db:        db,
		bus:       bus,
		results:   &store.ResultRepo{},
		executors: make(map[domain.TaskKind]Executor, len(executors)),
		cfg:       cfg,
	}
	for _, e := range executors {
		s.executors[e.Kind()] = e
	}
	return s
}

// Run executes the given waves of g and returns a result for every task in
// them. seed supplies results of tasks satisfied by an earlier run; their
// outputs and fingerprints feed dependents but they are not re-dispatched.
func (s *Scheduler) Run(ctx context.Context, sessionID string, g *graph.Graph, waves graph.Waves, seed map[string]domain.TaskResult) map[string]domain.TaskResult {
	var mu sync.Mutex
	results := make(map[string]domain.TaskResult)
	lookup := func(id string) (domain.TaskResult, bool) {
		mu.Lock()
		defer mu.Unlock()
		if r, ok := results[id]; ok {
			return r, true
		}
		r, ok := seed[id]
		return r, ok
	}

	sem := make(chan struct{}, s.cfg.MaxTaskConcurrency)
	for waveIdx, wave := range waves {
		var wg sync.WaitGroup
		for _, id := range wave {
			wg.Add(1)
			go func(id string, waveIdx int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				r := s.runTask(ctx, sessionID, g, id, waveIdx, lookup)
				mu.Lock()
				results[id] = r
				mu.Unlock()
			}(id, waveIdx)
		}
		// Wave barrier: dependents observe fully settled upstream results.
		wg.Wait()
	}
	return results
}

// Outcome folds per-task results into a session status.
func Outcome(results map[string]domain.TaskResult) domain.SessionStatus {
	status := domain.SessionSucceeded
	for _, r := range results {
		switch r.Status {
		case domain.TaskCancelled:
			return domain.SessionCancelled
		case domain.TaskFailed, domain.TaskSkippedFailed:
			status = domain.SessionPartialFailure
		}
	}
	return status
}

func (s *Scheduler) runTask(ctx context.Context, sessionID string, g *graph.Graph, id string, waveIdx int, lookup func(string) (domain.TaskResult, bool)) domain.TaskResult {
	task, _ := g.Task(id)
	now := time.Now().Unix()

	// Upstream check. Wave ordering guarantees every dependency already has
	// a settled result.
	depFps := make([]string, 0, len(task.DependsOn))
	depOutputs := make(map[string]json.RawMessage, len(task.DependsOn))
	for _, dep := range task.DependsOn {
		r, ok := lookup(dep)
		switch {
		case ok && (r.Status == domain.TaskSucceeded || r.Status == domain.TaskSkippedCached):
			depFps = append(depFps, r.ParamsFingerprint)
			depOutputs[dep] = r.Output
		case ok && r.Status == domain.TaskCancelled:
			// Cancellation flows downstream as cancellation, not failure.
			res := domain.TaskResult{
				TaskID:          id,
				Status:          domain.TaskCancelled,
				Error:           domain.ErrPipelineCancelled.Message,
				StartedAtUnix:   now,
				CompletedAtUnix: now,
			}
			s.persist(ctx, sessionID, res)
			s.publishTask(sessionID, domain.EventTaskCancelled, id, waveIdx, res)
			return res
		default:
			res := domain.TaskResult{
				TaskID:          id,
				Status:          domain.TaskSkippedFailed,
				Error:           fmt.Sprintf("dependency %q did not succeed", dep),
				StartedAtUnix:   now,
				CompletedAtUnix: now,
			}
			s.persist(ctx, sessionID, res)
			s.publishTask(sessionID, domain.EventTaskSkippedFailed, id, waveIdx, res)
			return res
		}
	}

	fp := domain.Fingerprint(task.Kind, task.Params, depFps)

	if ctx.Err() != nil {
		res := domain.TaskResult{
			TaskID:            id,
			Status:            domain.TaskCancelled,
			ParamsFingerprint: fp,
			StartedAtUnix:     now,
			CompletedAtUnix:   now,
		}
		s.persist(ctx, sessionID, res)
		s.publishTask(sessionID, domain.EventTaskCancelled, id, waveIdx, res)
		return res
	}

	// Cache short-circuit: an identical fingerprint means the task and its
	// whole upstream closure are byte-for-byte the same computation.
	if cached, err := s.results.Get(ctx, s.db, sessionID, id, fp); err != nil {
		log.Printf("scheduler: cache lookup for task %s: %v", id, err)
	} else if cached != nil && cached.Status == domain.TaskSucceeded {
		if cached.ParamsFingerprint != fp {
			log.Printf("scheduler: %v: task %s stored %s, expected %s",
				domain.ErrCacheInconsistency, id, cached.ParamsFingerprint, fp)
		} else {
			res := domain.TaskResult{
				TaskID:            id,
				Status:            domain.TaskSkippedCached,
				Output:            cached.Output,
				ParamsFingerprint: fp,
				Degraded:          cached.Degraded,
				StartedAtUnix:     now,
				CompletedAtUnix:   now,
			}
			s.publishTask(sessionID, domain.EventTaskSkippedCached, id, waveIdx, res)
			return res
		}
	}

	exec, ok := s.executors[task.Kind]
	if !ok {
		res := domain.TaskResult{
			TaskID:            id,
			Status:            domain.TaskFailed,
			ParamsFingerprint: fp,
			Error:             fmt.Sprintf("%v: %s", domain.ErrNoExecutor, task.Kind),
			StartedAtUnix:     now,
			CompletedAtUnix:   now,
		}
		s.persist(ctx, sessionID, res)
		s.publishTask(sessionID, domain.EventTaskFailed, id, waveIdx, res)
		return res
	}

	s.publishTask(sessionID, domain.EventTaskStarted, id, waveIdx, domain.TaskResult{TaskID: id, ParamsFingerprint: fp})

	emitter := &progressEmitter{bus: s.bus, sessionID: sessionID, taskID: id, every: s.cfg.ProgressEvery}
	req := ExecRequest{
		SessionID:  sessionID,
		Task:       task,
		DepOutputs: depOutputs,
		Progress:   emitter.report,
	}

	res := s.execute(ctx, exec, req, fp, now)
	s.persist(ctx, sessionID, res)
	switch res.Status {
	case domain.TaskSucceeded:
		s.publishTask(sessionID, domain.EventTaskCompleted, id, waveIdx, res)
	case domain.TaskCancelled:
		s.publishTask(sessionID, domain.EventTaskCancelled, id, waveIdx, res)
	default:
		s.publishTask(sessionID, domain.EventTaskFailed, id, waveIdx, res)
	}
	return res
}

func (s *Scheduler) execute(ctx context.Context, exec Executor, req ExecRequest, fp string, startedAt int64) domain.TaskResult {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, s.cfg.RetryBase, s.cfg.RetryMax, attempt); err != nil {
				break
			}
		}
		attempts++

		taskCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.TaskTimeout > 0 {
			taskCtx, cancel = context.WithTimeout(ctx, s.cfg.TaskTimeout)
		}
		out, err := exec.Execute(taskCtx, req)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return domain.TaskResult{
				TaskID:            req.Task.ID,
				Status:            domain.TaskSucceeded,
				Output:            out.Output,
				ParamsFingerprint: fp,
				Attempts:          attempts,
				Degraded:          out.Degraded,
				StartedAtUnix:     startedAt,
				CompletedAtUnix:   time.Now().Unix(),
			}
		}

		if ctx.Err() != nil {
			return domain.TaskResult{
				TaskID:            req.Task.ID,
				Status:            domain.TaskCancelled,
				ParamsFingerprint: fp,
				Attempts:          attempts,
				Error:             domain.ErrPipelineCancelled.Message,
				StartedAtUnix:     startedAt,
				CompletedAtUnix:   time.Now().Unix(),
			}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", domain.ErrTaskTimeout, s.cfg.TaskTimeout)
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}

	if ctx.Err() != nil {
		return domain.TaskResult{
			TaskID:            req.Task.ID,
			Status:            domain.TaskCancelled,
			ParamsFingerprint: fp,
			Attempts:          attempts,
			Error:             domain.ErrPipelineCancelled.Message,
			StartedAtUnix:     startedAt,
			CompletedAtUnix:   time.Now().Unix(),
		}
	}

	return domain.TaskResult{
		TaskID:            req.Task.ID,
		Status:            domain.TaskFailed,
		ParamsFingerprint: fp,
		Attempts:          attempts,
		Error:             lastErr.Error(),
		StartedAtUnix:     startedAt,
		CompletedAtUnix:   time.Now().Unix(),
	}
}

// retryable rejects errors a repeat dispatch cannot fix: deterministic
// simulation outcomes and misconfiguration.
func retryable(err error) bool {
	for _, sentinel := range []*domain.EngineError{
		domain.ErrTotalSimulationFailure,
		domain.ErrTrialModelMissing,
		domain.ErrNoScenarios,
	} {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}

// persist writes the result before its completion event is published, so a
// consumer acting on the event always finds the row. A fresh context is used
// because results of cancelled tasks must still be recorded.
func (s *Scheduler) persist(_ context.Context, sessionID string, res domain.TaskResult) {
	if err := s.results.Put(context.Background(), s.db, sessionID, res, s.cfg.ResultTTL); err != nil {
		log.Printf("scheduler: persist result for task %s: %v", res.TaskID, err)
	}
}

func (s *Scheduler) publishTask(sessionID, kind, taskID string, waveIdx int, res domain.TaskResult) {
	payload := map[string]any{
		"task_id": taskID,
		"wave":    waveIdx,
	}
	if res.Status != "" {
		payload["status"] = res.Status
	}
	if res.Error != "" {
		payload["error"] = res.Error
	}
	s.bus.Publish(context.Background(), sessionID, kind, payload)
}

func sleepBackoff(ctx context.Context, base, max time.Duration, attempt int) error {
	d := base << (attempt - 1)
	if d > max {
		d = max
	}
	d += time.Duration(rand.Int63n(int64(d)/2 + 1))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
