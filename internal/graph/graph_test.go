package graph

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/anthropics/decision-engine/internal/domain"
)

func task(id string, kind domain.TaskKind, deps ...string) domain.Task {
	return domain.Task{ID: id, Kind: kind, DependsOn: deps, Params: domain.Params{}}
}

func TestBuild_WaveLayering(t *testing.T) {
	g, err := Build([]domain.Task{
		task("e1", domain.KindEvaluation, "s1"),
		task("s1", domain.KindSimulation, "r1", "r2"),
		task("r2", domain.KindResearch),
		task("r1", domain.KindResearch),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := Waves{{"r1", "r2"}, {"s1"}, {"e1"}}
	if !reflect.DeepEqual(g.Waves(), want) {
		t.Errorf("Waves = %v, want %v", g.Waves(), want)
	}
}

func TestBuild_DependenciesInEarlierWaves(t *testing.T) {
	// Diamond with a long spine: layering must respect the longest path.
	g, err := Build([]domain.Task{
		task("a", domain.KindResearch),
		task("b", domain.KindResearch, "a"),
		task("c", domain.KindSimulation, "b"),
		task("d", domain.KindSimulation, "a"),
		task("e", domain.KindEvaluation, "c", "d"),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	waveOf := map[string]int{}
	for i, wave := range g.Waves() {
		for _, id := range wave {
			waveOf[id] = i
		}
	}
	for _, tk := range g.Tasks() {
		for _, dep := range tk.DependsOn {
			if waveOf[dep] >= waveOf[tk.ID] {
				t.Errorf("dep %s (wave %d) not strictly before %s (wave %d)",
					dep, waveOf[dep], tk.ID, waveOf[tk.ID])
			}
		}
	}
	if waveOf["e"] != 3 {
		t.Errorf("e in wave %d, want 3 (longest-path layering)", waveOf["e"])
	}
}

func TestBuild_CycleDetected(t *testing.T) {
	_, err := Build([]domain.Task{
		task("a", domain.KindResearch, "c"),
		task("b", domain.KindResearch, "a"),
		task("c", domain.KindResearch, "b"),
	})
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
	if !errors.Is(err, domain.ErrGraphCycle) {
		t.Errorf("error = %v, want ErrGraphCycle", err)
	}
	// The offending cycle must be named in the message.
	msg := err.Error()
	for _, id := range []string{"a", "b", "c"} {
		if !strings.Contains(msg, id) {
			t.Errorf("cycle error %q does not mention %q", msg, id)
		}
	}
}

func TestBuild_SelfCycle(t *testing.T) {
	_, err := Build([]domain.Task{task("a", domain.KindResearch, "a")})
	if !errors.Is(err, domain.ErrGraphCycle) {
		t.Errorf("error = %v, want ErrGraphCycle", err)
	}
}

func TestBuild_ValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		tasks []domain.Task
		want  *domain.EngineError
	}{
		{"empty", nil, domain.ErrEmptyGraph},
		{"duplicate id", []domain.Task{
			task("a", domain.KindResearch),
			task("a", domain.KindResearch),
		}, domain.ErrDuplicateTaskID},
		{"unknown dep", []domain.Task{
			task("a", domain.KindResearch, "ghost"),
		}, domain.ErrUnknownDep},
		{"bad kind", []domain.Task{
			{ID: "a", Kind: "mystery"},
		}, domain.ErrInvalidTaskKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.tasks)
			if !errors.Is(err, tt.want) {
				t.Errorf("Build error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTransitiveDependents(t *testing.T) {
	g, err := Build([]domain.Task{
		task("r1", domain.KindResearch),
		task("r2", domain.KindResearch),
		task("s1", domain.KindSimulation, "r1"),
		task("s2", domain.KindSimulation, "r2"),
		task("e1", domain.KindEvaluation, "s1", "s2"),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	got := g.TransitiveDependents("r1")
	want := map[string]bool{"s1": true, "e1": true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TransitiveDependents(r1) = %v, want %v", got, want)
	}

	if len(g.TransitiveDependents("e1")) != 0 {
		t.Error("leaf task should have no dependents")
	}
}

func TestSubgraphWaves(t *testing.T) {
	g, err := Build([]domain.Task{
		task("r1", domain.KindResearch),
		task("r2", domain.KindResearch),
		task("s1", domain.KindSimulation, "r1", "r2"),
		task("e1", domain.KindEvaluation, "s1"),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	got := g.SubgraphWaves(map[string]bool{"s1": true, "e1": true})
	want := Waves{{"s1"}, {"e1"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SubgraphWaves = %v, want %v", got, want)
	}

	if got := g.SubgraphWaves(map[string]bool{"e1": true}); !reflect.DeepEqual(got, Waves{{"e1"}}) {
		t.Errorf("SubgraphWaves(e1) = %v, want [[e1]]", got)
	}
}
