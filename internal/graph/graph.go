// Package graph validates a session's task set and orders it into
// execution waves.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/decision-engine/internal/domain"
)

// Waves is the longest-path-respecting topological layering of a task set.
// Every task's dependencies live in strictly earlier waves, and ids within a
// wave are sorted ascending so event ordering is deterministic.
type Waves [][]string

// TaskIDs returns every id across all waves in wave order.
func (w Waves) TaskIDs() []string {
	var ids []string
	for _, wave := range w {
		ids = append(ids, wave...)
	}
	return ids
}

// Graph is an immutable, validated task DAG.
type Graph struct {
	tasks      map[string]domain.Task
	dependents map[string][]string // reverse adjacency: id -> ids that depend on it
	waves      Waves
}

// Build validates a task set and computes its execution waves.
//
// Validation failures (duplicate ids, dangling dependencies, cycles) are
// reported as domain validation errors before any execution can start.
func Build(tasks []domain.Task) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, domain.ErrEmptyGraph
	}

	g := &Graph{
		tasks:      make(map[string]domain.Task, len(tasks)),
		dependents: make(map[string][]string),
	}

	for _, t := range tasks {
		if t.ID == "" {
			return nil, domain.NewEngineError(domain.ErrValidation.Code, "task with empty id")
		}
		switch t.Kind {
		case domain.KindResearch, domain.KindSimulation, domain.KindEvaluation:
		default:
			return nil, domain.NewEngineError(domain.ErrInvalidTaskKind.Code,
				fmt.Sprintf("task %q has unknown kind %q", t.ID, t.Kind))
		}
		if _, exists := g.tasks[t.ID]; exists {
			return nil, domain.NewEngineError(domain.ErrDuplicateTaskID.Code,
				fmt.Sprintf("duplicate task id %q", t.ID))
		}
		g.tasks[t.ID] = t
	}

	indegree := make(map[string]int, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.tasks[dep]; !ok {
				return nil, domain.NewEngineError(domain.ErrUnknownDep.Code,
					fmt.Sprintf("task %q depends on unknown task %q", t.ID, dep))
			}
			g.dependents[dep] = append(g.dependents[dep], t.ID)
			indegree[t.ID]++
		}
	}

	if cycle := findCycle(g.tasks); cycle != nil {
		return nil, domain.NewEngineError(domain.ErrGraphCycle.Code,
			fmt.Sprintf("task graph contains a cycle: %s", strings.Join(cycle, " -> ")))
	}

	g.waves = layer(g.tasks, g.dependents, indegree)
	return g, nil
}

// Waves returns the graph's execution waves.
func (g *Graph) Waves() Waves {
	return g.waves
}

// Task returns the task definition for an id.
func (g *Graph) Task(id string) (domain.Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Tasks returns all task definitions, sorted by id.
func (g *Graph) Tasks() []domain.Task {
	out := make([]domain.Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TransitiveDependents returns the set of every task reachable downstream
// from any of the seed ids, excluding the seeds themselves. This is the
// closure used for failure propagation.
func (g *Graph) TransitiveDependents(seeds ...string) map[string]bool {
	closure := make(map[string]bool)
	stack := append([]string(nil), seeds...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range g.dependents[id] {
			if !closure[dep] {
				closure[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return closure
}

// SubgraphWaves re-layers an id subset the same way as a fresh plan: each
// returned wave keeps only members of the subset, empty waves dropped.
// Relative wave order between the surviving tasks is preserved, so the
// dependency-before-dependent guarantee carries over.
func (g *Graph) SubgraphWaves(subset map[string]bool) Waves {
	var out Waves
	for _, wave := range g.waves {
		var kept []string
		for _, id := range wave {
			if subset[id] {
				kept = append(kept, id)
			}
		}
		if len(kept) > 0 {
			out = append(out, kept)
		}
	}
	return out
}

// findCycle runs DFS with three-color marking and returns the offending
// cycle path, or nil for an acyclic graph. Iteration order is sorted so the
// reported cycle is deterministic.
func findCycle(tasks map[string]domain.Task) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	colors := make(map[string]int, len(tasks))

	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var path []string
	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = gray
		path = append(path, id)

		deps := append([]string(nil), tasks[id].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch colors[dep] {
			case gray:
				// Back edge: slice the current path from the first
				// occurrence of dep and close the loop.
				for i, p := range path {
					if p == dep {
						return append(append([]string(nil), path[i:]...), dep)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		colors[id] = black
		return nil
	}

	for _, id := range ids {
		if colors[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// layer groups tasks into Kahn levels: wave N holds every task whose
// dependencies all sit in waves 0..N-1. This is the longest-path layering,
// which maximizes same-wave concurrency.
func layer(tasks map[string]domain.Task, dependents map[string][]string, indegree map[string]int) Waves {
	remaining := make(map[string]int, len(tasks))
	for id := range tasks {
		remaining[id] = indegree[id]
	}

	var queue []string
	for id, d := range remaining {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	var waves Waves
	for len(queue) > 0 {
		sort.Strings(queue)
		waves = append(waves, queue)

		var next []string
		for _, id := range queue {
			for _, dep := range dependents[id] {
				remaining[dep]--
				if remaining[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}
	return waves
}
