package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/decision-engine/internal/domain"
)

func TestResearchExecutor(t *testing.T) {
	exec := ResearchExecutor{}
	req := ExecRequest{
		SessionID: "sess",
		Task: domain.Task{
			ID:     "r1",
			Kind:   domain.KindResearch,
			Params: domain.Params{"region": "downtown", "competition_count": 3.0},
		},
	}

	first, err := exec.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, err := exec.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(first.Output) != string(second.Output) {
		t.Error("research output is not deterministic for identical params")
	}

	var out researchOutput
	if err := json.Unmarshal(first.Output, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Region != "downtown" {
		t.Errorf("Region = %s", out.Region)
	}
	if out.FootTrafficMean <= 0 || out.MonthlyRent <= 0 {
		t.Errorf("implausible figures: %+v", out)
	}
	// Downtown rent carries the 1.3x factor.
	if out.MonthlyRent != 3500*1.3 {
		t.Errorf("MonthlyRent = %g, want %g", out.MonthlyRent, 3500*1.3)
	}
}

func TestResearchExecutor_UnknownRegion(t *testing.T) {
	exec := ResearchExecutor{}
	req := ExecRequest{Task: domain.Task{Params: domain.Params{"region": "atlantis"}}}
	if _, err := exec.Execute(context.Background(), req); !errors.Is(err, domain.ErrExecution) {
		t.Errorf("err = %v, want ErrExecution", err)
	}
}

func TestEvaluationExecutor(t *testing.T) {
	summary, _ := json.Marshal(domain.SimulationSummary{
		Count:    5000,
		Mean:     60000,
		StdDev:   20000,
		ProbLoss: 0.05,
	})
	exec := EvaluationExecutor{}
	req := ExecRequest{
		Task: domain.Task{
			ID:     "e1",
			Kind:   domain.KindEvaluation,
			Params: domain.Params{"discount_rate": 0.10, "horizon_years": 5.0, "initial_investment": 150000.0},
		},
		DepOutputs: map[string]json.RawMessage{"s1": summary},
	}

	res, err := exec.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var out evaluationOutput
	if err := json.Unmarshal(res.Output, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// 60000/yr for 5 years at 10% discounts to ~227,447; minus 150,000.
	if out.NPV < 70000 || out.NPV > 80000 {
		t.Errorf("NPV = %g, want ~77,447", out.NPV)
	}
	if out.Recommendation != "invest" {
		t.Errorf("Recommendation = %s, want invest", out.Recommendation)
	}
	if out.PaybackYears == nil || *out.PaybackYears != 2.5 {
		t.Errorf("PaybackYears = %v, want 2.5", out.PaybackYears)
	}
}

func TestEvaluationExecutor_RiskGate(t *testing.T) {
	summary, _ := json.Marshal(domain.SimulationSummary{
		Count:    5000,
		Mean:     60000,
		ProbLoss: 0.45,
	})
	exec := EvaluationExecutor{}
	req := ExecRequest{
		Task:       domain.Task{Params: domain.Params{}},
		DepOutputs: map[string]json.RawMessage{"s1": summary},
	}

	res, err := exec.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var out evaluationOutput
	if err := json.Unmarshal(res.Output, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Recommendation != "high_risk" {
		t.Errorf("Recommendation = %s, want high_risk at 45%% loss probability", out.Recommendation)
	}
}

func TestEvaluationExecutor_NoSummary(t *testing.T) {
	exec := EvaluationExecutor{}
	req := ExecRequest{
		Task:       domain.Task{Params: domain.Params{}},
		DepOutputs: map[string]json.RawMessage{"r1": json.RawMessage(`{"region":"suburban"}`)},
	}
	if _, err := exec.Execute(context.Background(), req); !errors.Is(err, domain.ErrExecution) {
		t.Errorf("err = %v, want ErrExecution", err)
	}
}

func TestMergeDepParams_TaskParamsWin(t *testing.T) {
	deps := map[string]json.RawMessage{
		"r1": json.RawMessage(`{"foot_traffic_mean": 300, "monthly_rent": 4550}`),
	}
	merged := mergeDepParams(domain.Params{"monthly_rent": 9000.0}, deps)
	if merged["foot_traffic_mean"] != 300.0 {
		t.Errorf("foot_traffic_mean = %v, want 300 from research", merged["foot_traffic_mean"])
	}
	if merged["monthly_rent"] != 9000.0 {
		t.Errorf("monthly_rent = %v, want the explicit override 9000", merged["monthly_rent"])
	}
}
