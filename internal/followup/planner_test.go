package followup

import (
	"reflect"
	"testing"

	"github.com/anthropics/decision-engine/internal/domain"
	"github.com/anthropics/decision-engine/internal/graph"
)

func sessionTasks() []domain.Task {
	return []domain.Task{
		{ID: "r1", Kind: domain.KindResearch, Params: domain.Params{"region": "north"}},
		{ID: "r2", Kind: domain.KindResearch, Params: domain.Params{"region": "south"}},
		{ID: "s1", Kind: domain.KindSimulation, DependsOn: []string{"r1", "r2"}, Params: domain.Params{"monthly_rent": 3500.0}},
		{ID: "e1", Kind: domain.KindEvaluation, DependsOn: []string{"s1"}, Params: domain.Params{"discount_rate": 0.08}},
	}
}

// priorFor simulates a fully succeeded first run: every task stored under
// its current fingerprint.
func priorFor(t *testing.T, tasks []domain.Task) map[string][]domain.TaskResult {
	t.Helper()
	g, err := graph.Build(tasks)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	prior := make(map[string][]domain.TaskResult)
	fps := make(map[string]string)
	for _, wave := range g.Waves() {
		for _, id := range wave {
			task, _ := g.Task(id)
			var depFps []string
			for _, dep := range task.DependsOn {
				depFps = append(depFps, fps[dep])
			}
			fp := domain.Fingerprint(task.Kind, task.Params, depFps)
			fps[id] = fp
			prior[id] = []domain.TaskResult{{
				TaskID:            id,
				Status:            domain.TaskSucceeded,
				Output:            []byte(`{"ok":true}`),
				ParamsFingerprint: fp,
			}}
		}
	}
	return prior
}

func TestBuildPlan_LeafOnlyDelta(t *testing.T) {
	tasks := sessionTasks()
	prior := priorFor(t, tasks)

	plan, err := BuildPlan(tasks, domain.Params{"discount_rate": 0.12}, prior)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	if !reflect.DeepEqual(plan.Invalidated, []string{"e1"}) {
		t.Errorf("Invalidated = %v, want [e1]", plan.Invalidated)
	}
	want := graph.Waves{{"e1"}}
	if !reflect.DeepEqual(plan.Waves, want) {
		t.Errorf("Waves = %v, want %v", plan.Waves, want)
	}
	for _, id := range []string{"r1", "r2", "s1"} {
		if _, ok := plan.Seed[id]; !ok {
			t.Errorf("task %s missing from seed", id)
		}
	}
}

func TestBuildPlan_MidGraphDeltaInvalidatesDownstream(t *testing.T) {
	tasks := sessionTasks()
	prior := priorFor(t, tasks)

	plan, err := BuildPlan(tasks, domain.Params{"monthly_rent": 4200.0}, prior)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	// s1 declares monthly_rent; e1 depends on s1, so its folded fingerprint
	// changes too. The research tasks stay cached.
	if !reflect.DeepEqual(plan.Invalidated, []string{"e1", "s1"}) {
		t.Errorf("Invalidated = %v, want [e1 s1]", plan.Invalidated)
	}
	want := graph.Waves{{"s1"}, {"e1"}}
	if !reflect.DeepEqual(plan.Waves, want) {
		t.Errorf("Waves = %v, want %v", plan.Waves, want)
	}
	if _, ok := plan.Seed["r1"]; !ok {
		t.Error("r1 should be seeded from cache")
	}

	// The merged task actually carries the new value.
	s1, _ := plan.Graph.Task("s1")
	if s1.Params["monthly_rent"] != 4200.0 {
		t.Errorf("s1 monthly_rent = %v, want 4200", s1.Params["monthly_rent"])
	}
}

func TestBuildPlan_DeltaDoesNotMutateInput(t *testing.T) {
	tasks := sessionTasks()
	prior := priorFor(t, tasks)

	if _, err := BuildPlan(tasks, domain.Params{"monthly_rent": 9999.0}, prior); err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if tasks[2].Params["monthly_rent"] != 3500.0 {
		t.Errorf("input task params mutated: %v", tasks[2].Params)
	}
}

func TestBuildPlan_IdempotentRepeat(t *testing.T) {
	tasks := sessionTasks()
	prior := priorFor(t, tasks)

	plan, err := BuildPlan(tasks, domain.Params{}, prior)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Invalidated) != 0 {
		t.Errorf("Invalidated = %v, want none for an empty delta", plan.Invalidated)
	}
	if len(plan.Waves) != 0 {
		t.Errorf("Waves = %v, want none", plan.Waves)
	}
	if len(plan.Seed) != len(tasks) {
		t.Errorf("Seed has %d entries, want %d", len(plan.Seed), len(tasks))
	}
}

func TestBuildPlan_UndeclaredKeyTouchesNothing(t *testing.T) {
	tasks := sessionTasks()
	prior := priorFor(t, tasks)

	plan, err := BuildPlan(tasks, domain.Params{"no_such_param": 1.0}, prior)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Invalidated) != 0 {
		t.Errorf("Invalidated = %v, want none for an undeclared key", plan.Invalidated)
	}
}

func TestBuildPlan_NoPriorRunsEverything(t *testing.T) {
	tasks := sessionTasks()

	plan, err := BuildPlan(tasks, domain.Params{}, nil)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Invalidated) != len(tasks) {
		t.Errorf("Invalidated = %v, want all tasks without prior results", plan.Invalidated)
	}
}
