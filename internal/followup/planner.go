// Package followup plans the partial re-execution triggered by a what-if
// query: it applies a parameter delta to a session's task set and determines
// the minimal subgraph whose cached results no longer apply.
package followup

import (
	"sort"

	"github.com/anthropics/decision-engine/internal/domain"
	"github.com/anthropics/decision-engine/internal/graph"
)

// Plan is the outcome of delta analysis. Waves covers only invalidated
// tasks; everything else is carried into Seed so dependents can consume
// upstream outputs without re-dispatch.
type Plan struct {
	Tasks       []domain.Task
	Graph       *graph.Graph
	Waves       graph.Waves
	Seed        map[string]domain.TaskResult
	Invalidated []string
}

// BuildPlan merges delta into the session's task set and splits the graph
// into satisfied and invalidated tasks.
//
// A delta key applies to every task that already declares that parameter;
// tasks that never reference the key keep their fingerprints, and so do
// their exclusive dependents. A task is satisfied when a stored succeeded
// result carries exactly its recomputed fingerprint, which by construction
// folds in the fingerprints of the whole upstream closure.
func BuildPlan(tasks []domain.Task, delta domain.Params, prior map[string][]domain.TaskResult) (*Plan, error) {
	merged := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		mt := t
		cloned := false
		for key, value := range delta {
			if _, declared := t.Params[key]; declared {
				if !cloned {
					mt.Params = t.Params.Clone()
					cloned = true
				}
				mt.Params[key] = value
			}
		}
		merged[i] = mt
	}

	g, err := graph.Build(merged)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Tasks: merged,
		Graph: g,
		Seed:  make(map[string]domain.TaskResult),
	}

	// Fingerprints are computed in wave order so every dependency's
	// fingerprint exists before its dependents need it.
	fps := make(map[string]string, len(merged))
	invalidated := make(map[string]bool)
	for _, wave := range g.Waves() {
		for _, id := range wave {
			task, _ := g.Task(id)
			depFps := make([]string, 0, len(task.DependsOn))
			for _, dep := range task.DependsOn {
				depFps = append(depFps, fps[dep])
			}
			fp := domain.Fingerprint(task.Kind, task.Params, depFps)
			fps[id] = fp

			if cached := findSucceeded(prior[id], fp); cached != nil {
				plan.Seed[id] = *cached
				continue
			}
			invalidated[id] = true
		}
	}

	plan.Waves = g.SubgraphWaves(invalidated)
	plan.Invalidated = make([]string, 0, len(invalidated))
	for id := range invalidated {
		plan.Invalidated = append(plan.Invalidated, id)
	}
	sort.Strings(plan.Invalidated)
	return plan, nil
}

func findSucceeded(results []domain.TaskResult, fp string) *domain.TaskResult {
	for i := range results {
		if results[i].Status == domain.TaskSucceeded && results[i].ParamsFingerprint == fp {
			return &results[i]
		}
	}
	return nil
}
