package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/anthropics/decision-engine/internal/domain"
)

// Config bounds one simulation run. Params may override TotalScenarios and
// BatchSize per task; the rest is fixed at engine construction.
type Config struct {
	TotalScenarios      int
	BatchSize           int
	MaxBatchConcurrency int
	MaxRetries          int
	RetryBase           time.Duration
	RetryMax            time.Duration
	// FailureThreshold is the fraction of batches allowed to fail before
	// the whole run is abandoned.
	FailureThreshold float64
}

// ProgressFunc receives monotonically non-decreasing completed-scenario
// counts, one call per finished batch. A degraded run gets one closing call
// where completed equals total, both being the surviving scenario count.
type ProgressFunc func(completed, total int)

// Engine fans simulation work out over independent batches and merges the
// surviving statistics into one summary.
type Engine struct {
	cfg    Config
	models map[string]TrialModel
}

func NewEngine(cfg Config, models ...TrialModel) *Engine {
	e := &Engine{cfg: cfg, models: make(map[string]TrialModel, len(models))}
	for _, m := range models {
		e.models[m.Name()] = m
	}
	return e
}

// Run executes one simulation task. Batch seeds derive from the session and
// task identity, so re-running the same task reproduces every scenario.
func (e *Engine) Run(ctx context.Context, sessionID, taskID string, params domain.Params, onProgress ProgressFunc) (domain.SimulationSummary, error) {
	modelName := "annual_profit"
	if v, ok := params["model"].(string); ok && v != "" {
		modelName = v
	}
	model, ok := e.models[modelName]
	if !ok {
		return domain.SimulationSummary{}, fmt.Errorf("%w: %q", domain.ErrTrialModelMissing, modelName)
	}

	total := int(floatParam(params, "scenarios", float64(e.cfg.TotalScenarios)))
	batchSize := int(floatParam(params, "batch_size", float64(e.cfg.BatchSize)))
	if total <= 0 || batchSize <= 0 {
		return domain.SimulationSummary{}, fmt.Errorf("%w: scenarios=%d batch_size=%d", domain.ErrNoScenarios, total, batchSize)
	}
	numBatches := (total + batchSize - 1) / batchSize

	batches := make([]domain.SimulationBatch, numBatches)
	for i := range batches {
		count := batchSize
		if i == numBatches-1 {
			count = total - batchSize*(numBatches-1)
		}
		batches[i] = domain.SimulationBatch{
			BatchID:       i,
			ScenarioCount: count,
			Seed:          BatchSeed(sessionID, taskID, i),
			Params:        params,
		}
	}

	var (
		mu        sync.Mutex
		stats     = make([]*BatchStats, numBatches)
		failed    int
		completed int
		wg        sync.WaitGroup
		sem       = make(chan struct{}, e.cfg.MaxBatchConcurrency)
	)
	for _, b := range batches {
		wg.Add(1)
		go func(b domain.SimulationBatch) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			s, err := e.runBatchWithRetry(ctx, model, b)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				return
			}
			stats[b.BatchID] = &s
			completed += b.ScenarioCount
			if onProgress != nil {
				onProgress(completed, total)
			}
		}(b)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return domain.SimulationSummary{}, fmt.Errorf("%w: simulation interrupted", domain.ErrPipelineCancelled)
	}
	if float64(failed) > e.cfg.FailureThreshold*float64(numBatches) {
		return domain.SimulationSummary{}, fmt.Errorf("%w: %d of %d batches failed",
			domain.ErrTotalSimulationFailure, failed, numBatches)
	}
	if failed > 0 && onProgress != nil {
		// Batches were lost, so the per-batch reports never reached the
		// requested total. Close the sequence at the surviving total.
		onProgress(completed, completed)
	}

	// Fold in batch order so the merged summary is deterministic regardless
	// of which worker finished first.
	var merged BatchStats
	for _, s := range stats {
		if s != nil {
			merged = Merge(merged, *s)
		}
	}
	return Summarize(merged, failed, failed > 0), nil
}

func (e *Engine) runBatchWithRetry(ctx context.Context, model TrialModel, b domain.SimulationBatch) (BatchStats, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, e.cfg.RetryBase, e.cfg.RetryMax, attempt); err != nil {
				return BatchStats{}, err
			}
		}
		s, err := runBatch(ctx, model, b)
		if err == nil {
			return s, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return BatchStats{}, fmt.Errorf("%w: batch %d: %v", domain.ErrBatchFailed, b.BatchID, lastErr)
}

// runBatch replays a batch from its seed. The same seed always yields the
// same samples, which makes retries and cache validation reproducible.
func runBatch(ctx context.Context, model TrialModel, b domain.SimulationBatch) (BatchStats, error) {
	rng := rand.New(rand.NewSource(b.Seed))
	samples := make([]float64, 0, b.ScenarioCount)
	for i := 0; i < b.ScenarioCount; i++ {
		if i%64 == 0 && ctx.Err() != nil {
			return BatchStats{}, ctx.Err()
		}
		v, err := model.Trial(rng, b.Params)
		if err != nil {
			return BatchStats{}, fmt.Errorf("scenario %d: %w", i, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return BatchStats{}, fmt.Errorf("scenario %d: non-finite outcome", i)
		}
		samples = append(samples, v)
	}
	return NewBatchStats(samples), nil
}

func sleepBackoff(ctx context.Context, base, max time.Duration, attempt int) error {
	d := base << (attempt - 1)
	if d > max {
		d = max
	}
	// Up to 50% jitter spreads concurrent retries apart.
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
