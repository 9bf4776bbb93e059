// Package pipeline is the session-facing orchestration layer: it owns
// session lifecycle, launches scheduler runs, and exposes results, events,
// and cancellation.
package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/decision-engine/internal/domain"
	"github.com/anthropics/decision-engine/internal/eventbus"
	"github.com/anthropics/decision-engine/internal/followup"
	"github.com/anthropics/decision-engine/internal/graph"
	"github.com/anthropics/decision-engine/internal/scheduler"
	"github.com/anthropics/decision-engine/internal/store"
)

// Artifact names under which session documents are stored.
const (
	artifactTasks  = "tasks"
	artifactResult = "result"
)

// Config bounds pipeline runs and artifact retention.
type Config struct {
	SessionTTL time.Duration
	// RunTimeout caps one full pipeline or follow-up run. Zero disables it.
	RunTimeout time.Duration
}

// Service drives the full session lifecycle. One Service instance serves
// all sessions of a process.
type Service struct {
	db        *sql.DB
	bus       *eventbus.Bus
	sched     *scheduler.Scheduler
	sessions  *store.SessionRepo
	results   *store.ResultRepo
	artifacts *store.ArtifactRepo
	cfg       Config

	mu     sync.Mutex
	active map[string]*run
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(db *sql.DB, bus *eventbus.Bus, sched *scheduler.Scheduler, cfg Config) *Service {
	return &Service{
		db:        db,
		bus:       bus,
		sched:     sched,
		sessions:  &store.SessionRepo{},
		results:   &store.ResultRepo{},
		artifacts: &store.ArtifactRepo{},
		cfg:       cfg,
		active:    make(map[string]*run),
	}
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// StartSession validates the task set, creates a session, and launches the
// pipeline asynchronously. Validation errors are returned synchronously;
// nothing runs for a malformed graph.
func (s *Service) StartSession(ctx context.Context, tasks []domain.Task) (string, error) {
	g, err := graph.Build(tasks)
	if err != nil {
		return "", err
	}

	sessionID := newSessionID()
	now := time.Now()
	err = s.sessions.Create(ctx, s.db, domain.Session{
		SessionID:     sessionID,
		Status:        domain.SessionRunning,
		CreatedAtUnix: now.Unix(),
		ExpiresAtUnix: now.Add(s.cfg.SessionTTL).Unix(),
	})
	if err != nil {
		return "", err
	}
	if err := s.saveTasks(ctx, sessionID, tasks); err != nil {
		return "", err
	}

	err = s.launch(sessionID, func(runCtx context.Context) {
		s.bus.Publish(runCtx, sessionID, domain.EventPipelineStarted, map[string]any{
			"session_id": sessionID,
			"task_count": len(tasks),
			"waves":      len(g.Waves()),
		})
		start := time.Now()
		results := s.sched.Run(runCtx, sessionID, g, g.Waves(), nil)
		s.finish(sessionID, results, start)
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// FollowUp applies a parameter delta to an existing session and re-executes
// only the invalidated subgraph. Returns the ids of the tasks that will run;
// tasks outside that set are served from cache without re-dispatch.
func (s *Service) FollowUp(ctx context.Context, sessionID string, delta domain.Params) ([]string, error) {
	if _, err := s.sessions.GetByID(ctx, s.db, sessionID); err != nil {
		return nil, err
	}
	if s.isActive(sessionID) {
		return nil, domain.ErrSessionActive
	}

	tasks, err := s.loadTasks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	prior, err := s.priorResults(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	plan, err := followup.BuildPlan(tasks, delta, prior)
	if err != nil {
		return nil, err
	}

	// The merged params become the session's new baseline, so consecutive
	// deltas stack the way a conversation does.
	if err := s.saveTasks(ctx, sessionID, plan.Tasks); err != nil {
		return nil, err
	}
	if err := s.sessions.ExtendExpiry(ctx, s.db, sessionID, s.cfg.SessionTTL); err != nil {
		return nil, err
	}
	if err := s.sessions.UpdateStatus(ctx, s.db, sessionID, domain.SessionRunning); err != nil {
		return nil, err
	}

	err = s.launch(sessionID, func(runCtx context.Context) {
		s.bus.Publish(runCtx, sessionID, domain.EventFollowupStarted, map[string]any{
			"session_id":  sessionID,
			"invalidated": plan.Invalidated,
			"cached":      len(plan.Seed),
		})
		start := time.Now()
		results := s.sched.Run(runCtx, sessionID, plan.Graph, plan.Waves, plan.Seed)

		// Satisfied tasks surface as cache skips so the follow-up result
		// still covers the entire graph.
		for id, seeded := range plan.Seed {
			if _, ran := results[id]; ran {
				continue
			}
			seeded.Status = domain.TaskSkippedCached
			results[id] = seeded
		}
		s.finish(sessionID, results, start)
	})
	if err != nil {
		return nil, err
	}
	return plan.Invalidated, nil
}

// GetResult returns the session's aggregate outcome. While the pipeline is
// still running, the result carries only the running status.
func (s *Service) GetResult(ctx context.Context, sessionID string) (*domain.SessionResult, error) {
	session, err := s.sessions.GetByID(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.SessionRunning {
		return &domain.SessionResult{SessionID: sessionID, Status: domain.SessionRunning}, nil
	}

	body, err := s.artifacts.Get(ctx, s.db, sessionID, artifactResult)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("%w: no result recorded", domain.ErrSessionNotFound)
	}
	var result domain.SessionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode result artifact: %w", err)
	}
	return &result, nil
}

// Events returns the session's durable event log from fromSeq onward.
func (s *Service) Events(ctx context.Context, sessionID string, fromSeq int64) ([]domain.Event, error) {
	if _, err := s.sessions.GetByID(ctx, s.db, sessionID); err != nil {
		return nil, err
	}
	repo := &store.EventRepo{}
	return repo.ListBySession(ctx, s.db, sessionID, fromSeq)
}

// Subscribe returns a live event stream for the session, replaying from
// fromSeq first. The stream closes when ctx is done.
func (s *Service) Subscribe(ctx context.Context, sessionID string, fromSeq int64) (<-chan domain.Event, error) {
	if _, err := s.sessions.GetByID(ctx, s.db, sessionID); err != nil {
		return nil, err
	}
	return s.bus.Subscribe(ctx, sessionID, fromSeq), nil
}

// Cancel aborts the session's in-flight run, if any. Cancelling an idle
// session is a no-op.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	if _, err := s.sessions.GetByID(ctx, s.db, sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	r, ok := s.active[sessionID]
	s.mu.Unlock()
	if ok {
		r.cancel()
	}
	return nil
}

// Wait blocks until the session's in-flight run settles. Intended for tests
// and graceful shutdown.
func (s *Service) Wait(sessionID string) {
	s.mu.Lock()
	r, ok := s.active[sessionID]
	s.mu.Unlock()
	if ok {
		<-r.done
	}
}

func (s *Service) isActive(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[sessionID]
	return ok
}

// launch runs fn on its own goroutine under the session's cancellable
// context and unregisters the run when fn returns. At most one run per
// session may be in flight.
func (s *Service) launch(sessionID string, fn func(ctx context.Context)) error {
	var runCtx context.Context
	var cancel context.CancelFunc
	if s.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}
	r := &run{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if _, inFlight := s.active[sessionID]; inFlight {
		s.mu.Unlock()
		cancel()
		return domain.ErrSessionActive
	}
	s.active[sessionID] = r
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.active, sessionID)
			s.mu.Unlock()
			cancel()
			close(r.done)
		}()
		fn(runCtx)
	}()
	return nil
}

// finish persists the aggregate result and closes out the run. Uses a fresh
// context: a cancelled run must still record its outcome.
func (s *Service) finish(sessionID string, results map[string]domain.TaskResult, start time.Time) {
	ctx := context.Background()
	status := scheduler.Outcome(results)

	result := domain.SessionResult{
		SessionID:      sessionID,
		Status:         status,
		Results:        results,
		ElapsedSeconds: time.Since(start).Seconds(),
	}
	body, err := json.Marshal(result)
	if err != nil {
		log.Printf("pipeline: marshal result for session %s: %v", sessionID, err)
	} else if err := s.artifacts.Put(ctx, s.db, sessionID, artifactResult, body, s.cfg.SessionTTL); err != nil {
		log.Printf("pipeline: persist result for session %s: %v", sessionID, err)
	}
	if err := s.sessions.UpdateStatus(ctx, s.db, sessionID, status); err != nil {
		log.Printf("pipeline: update status for session %s: %v", sessionID, err)
	}

	s.bus.Publish(ctx, sessionID, domain.EventPipelineCompleted, map[string]any{
		"session_id":      sessionID,
		"status":          status,
		"elapsed_seconds": result.ElapsedSeconds,
	})
}

func (s *Service) saveTasks(ctx context.Context, sessionID string, tasks []domain.Task) error {
	body, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	return s.artifacts.Put(ctx, s.db, sessionID, artifactTasks, body, s.cfg.SessionTTL)
}

func (s *Service) loadTasks(ctx context.Context, sessionID string) ([]domain.Task, error) {
	body, err := s.artifacts.Get(ctx, s.db, sessionID, artifactTasks)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("%w: task definitions missing", domain.ErrSessionExpired)
	}
	var tasks []domain.Task
	if err := json.Unmarshal(body, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks artifact: %w", err)
	}
	return tasks, nil
}

func (s *Service) priorResults(ctx context.Context, sessionID string) (map[string][]domain.TaskResult, error) {
	rows, err := s.results.ListBySession(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	prior := make(map[string][]domain.TaskResult)
	for _, r := range rows {
		prior[r.TaskID] = append(prior[r.TaskID], r)
	}
	return prior, nil
}
